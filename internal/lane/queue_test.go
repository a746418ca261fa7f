package lane

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLane(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewQueue(client, logger), client
}

func TestEnqueue_Depth(t *testing.T) {
	q, _ := setupLane(t)
	ctx := context.Background()

	job := Job{SagaUUID: "saga-1", EventType: "PrescriptionCreated", Attempt: 1}
	if err := q.Enqueue(ctx, Fulfillment, job, time.Now()); err != nil {
		t.Fatal(err)
	}

	depth, err := q.Depth(ctx, Fulfillment)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Errorf("depth: got %d, want 1", depth)
	}

	// Lanes are separate sorted sets.
	depth, err = q.Depth(ctx, Renewal)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 0 {
		t.Errorf("renewal depth: got %d, want 0", depth)
	}
}

// recordingHandler collects jobs handed to the pool.
type recordingHandler struct {
	mu   sync.Mutex
	jobs []Job
}

func (h *recordingHandler) Handle(_ context.Context, job Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

func TestDispatcher_ClaimsReadyJobs(t *testing.T) {
	q, client := setupLane(t)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &recordingHandler{}
	pool := NewPool(2, handler, logger)
	pool.Start(ctx)

	dispatcher := NewDispatcher(client, Fulfillment, pool, logger)
	go dispatcher.Start(ctx)

	// One job ready now, one scheduled in the future.
	if err := q.Enqueue(ctx, Fulfillment, Job{SagaUUID: "saga-now", EventType: "E"}, time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, Fulfillment, Job{SagaUUID: "saga-later", EventType: "E"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for handler.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("ready job was never dispatched")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	// Let an in-flight poll finish before closing the pool's channel.
	time.Sleep(150 * time.Millisecond)
	pool.Stop()

	if handler.count() != 1 {
		t.Fatalf("dispatched jobs: got %d, want 1 (future job stays queued)", handler.count())
	}
	if handler.jobs[0].SagaUUID != "saga-now" {
		t.Errorf("dispatched saga: got %q, want %q", handler.jobs[0].SagaUUID, "saga-now")
	}

	depth, err := q.Depth(context.Background(), Fulfillment)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Errorf("depth after claim: got %d, want 1 (the scheduled job)", depth)
	}
}
