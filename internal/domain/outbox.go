package domain

import "time"

// OutboxMessage is a unit of work decided by a saga transition but not
// yet enqueued on its lane. It is written in the same transaction as
// the saga's new state, so a crash between "decide" and "enqueue"
// cannot drop a step; the relay enqueues pending rows and marks them
// sent.
type OutboxMessage struct {
	ID        int64          `json:"id"`
	SagaUUID  string         `json:"saga_uuid"`
	Lane      string         `json:"lane"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
}
