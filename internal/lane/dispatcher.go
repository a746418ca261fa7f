package lane

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dispatcher continuously polls one lane and feeds claimed jobs to its
// worker pool.
type Dispatcher struct {
	client       *redis.Client
	lane         string
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(client *redis.Client, lane string, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:       client,
		lane:         lane,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", "lane", d.lane)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping", "lane", d.lane)
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll fetches ready jobs (score <= now) and claims them one by one.
func (d *Dispatcher) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())
	key := laneKey(d.lane)

	results, err := d.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: d.batchSize,
	}).Result()
	if err != nil {
		d.logger.Error("failed to poll lane", "lane", d.lane, "error", err)
		return
	}

	for _, z := range results {
		member := z.Member.(string)

		// ZRem is the claim: if another dispatcher instance already
		// removed this member the job is theirs.
		removed, err := d.client.ZRem(ctx, key, member).Result()
		if err != nil {
			d.logger.Error("failed to claim job", "lane", d.lane, "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			d.logger.Error("failed to unmarshal job", "lane", d.lane, "error", err)
			continue
		}

		d.pool.Submit(job)
	}
}
