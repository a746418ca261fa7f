package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/replay"
)

type ReplayHandler struct {
	engine *replay.Engine
}

func NewReplayHandler(engine *replay.Engine) *ReplayHandler {
	return &ReplayHandler{engine: engine}
}

type replayRequest struct {
	Projection          string `json:"projection"`
	AggregateType       string `json:"aggregate_type,omitempty"`
	FromID              int64  `json:"from_id,omitempty"`
	ToID                int64  `json:"to_id,omitempty"`
	DryRun              bool   `json:"dry_run,omitempty"`
	BatchSize           int    `json:"batch_size,omitempty"`
	StopOnListenerError bool   `json:"stop_on_listener_error,omitempty"`
}

type replayResponse struct {
	Result   *replay.Result `json:"result"`
	Progress []string       `json:"progress,omitempty"`
}

// Run executes a replay synchronously and returns the tally plus the
// per-event progress lines, which is what makes dry runs useful from
// the ops side.
func (h *ReplayHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Projection == "" && req.AggregateType == "" {
		respondError(w, http.StatusBadRequest, "projection or aggregate_type is required")
		return
	}

	var progress bytes.Buffer
	result, err := h.engine.Run(r.Context(), replay.Options{
		Projection:          req.Projection,
		AggregateType:       req.AggregateType,
		FromID:              req.FromID,
		ToID:                req.ToID,
		DryRun:              req.DryRun,
		BatchSize:           req.BatchSize,
		StopOnListenerError: req.StopOnListenerError,
	}, &progress)
	if err != nil {
		var cfgErr *domain.ConfigError
		status := http.StatusInternalServerError
		if errors.As(err, &cfgErr) {
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}

	resp := replayResponse{Result: result}
	if lines := strings.TrimSuffix(progress.String(), "\n"); lines != "" {
		resp.Progress = strings.Split(lines, "\n")
	}
	respondJSON(w, http.StatusOK, resp)
}
