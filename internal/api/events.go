package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/store"
)

// EventSource reads slices of the append-only log.
type EventSource interface {
	ListEventsAfter(ctx context.Context, q store.EventQuery) ([]domain.StoredEvent, error)
}

type EventHandler struct {
	events EventSource
}

func NewEventHandler(events EventSource) *EventHandler {
	return &EventHandler{events: events}
}

// List pages the event log forward from after_id. Offset pagination is
// deliberately not offered; the cursor is always a stored id.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := store.EventQuery{
		AggregateType: r.URL.Query().Get("aggregate_type"),
		Limit:         50,
	}
	if t := r.URL.Query().Get("event_type"); t != "" {
		q.EventTypes = []string{t}
	}
	if s := r.URL.Query().Get("after_id"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "after_id must be a non-negative integer")
			return
		}
		q.AfterID = n
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			q.Limit = n
		}
	}

	events, err := h.events.ListEventsAfter(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	nextCursor := q.AfterID
	if len(events) > 0 {
		nextCursor = events[len(events)-1].ID
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"next_cursor": nextCursor,
	})
}
