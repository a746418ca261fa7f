package api

import (
	"context"
	"net/http"

	"github.com/meridianrx/fulfillment/internal/lane"
)

// DepthReader reports how many jobs sit in a lane.
type DepthReader interface {
	Depth(ctx context.Context, lane string) (int64, error)
}

type QueueHandler struct {
	queue DepthReader
}

func NewQueueHandler(queue DepthReader) *QueueHandler {
	return &QueueHandler{queue: queue}
}

func (h *QueueHandler) Depths(w http.ResponseWriter, r *http.Request) {
	depths := map[string]int64{}
	for _, name := range []string{lane.Fulfillment, lane.Renewal} {
		n, err := h.queue.Depth(r.Context(), name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read queue depth")
			return
		}
		depths[name] = n
	}
	respondJSON(w, http.StatusOK, depths)
}
