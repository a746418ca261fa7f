// Package lane provides named, Redis-backed job lanes for saga steps.
// Each lane is a sorted set scored by ready-at time; dispatchers poll
// and claim jobs with ZRem, which gives at-least-once delivery across
// competing consumers. Handlers must therefore be idempotent.
package lane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lanes used by the sagas.
const (
	Fulfillment = "order-fulfillment"
	Renewal     = "subscription-renewal"
)

// Job is one unit of saga work queued on a lane.
type Job struct {
	SagaUUID  string         `json:"saga_uuid"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Attempt   int            `json:"attempt"`
}

func laneKey(lane string) string {
	return fmt.Sprintf("lane:%s", lane)
}

// Queue enqueues jobs onto named lanes.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

func NewQueue(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

// Enqueue schedules a job on a lane, ready at runAt. Jobs scheduled in
// the past become ready immediately.
func (q *Queue) Enqueue(ctx context.Context, lane string, job Job, runAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = q.client.ZAdd(ctx, laneKey(lane), redis.Z{
		Score:  float64(runAt.UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueuing on lane %s: %w", lane, err)
	}

	q.logger.Info("job enqueued",
		"lane", lane,
		"saga_uuid", job.SagaUUID,
		"event_type", job.EventType,
		"run_at", runAt,
	)
	return nil
}

// Depth returns the number of jobs (ready or scheduled) on a lane.
func (q *Queue) Depth(ctx context.Context, lane string) (int64, error) {
	return q.client.ZCard(ctx, laneKey(lane)).Result()
}
