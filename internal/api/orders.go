package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/store"
)

// SagaStarter kicks off the fulfillment workflow for a new order.
type SagaStarter interface {
	Start(ctx context.Context, orderUUID string, order map[string]any) error
}

// SagaReader exposes saga state for the ops surface.
type SagaReader interface {
	GetSaga(ctx context.Context, sagaUUID string) (*domain.Saga, error)
	GetSagaByOrder(ctx context.Context, orderUUID string) (*domain.Saga, error)
}

// StatusReader serves the order_status read model.
type StatusReader interface {
	GetOrderStatus(ctx context.Context, orderUUID string) (*store.OrderStatusRow, error)
}

type OrderHandler struct {
	coordinator SagaStarter
	sagas       SagaReader
	status      StatusReader
}

func NewOrderHandler(coordinator SagaStarter, sagas SagaReader, status StatusReader) *OrderHandler {
	return &OrderHandler{coordinator: coordinator, sagas: sagas, status: status}
}

type createOrderRequest struct {
	OrderUUID string         `json:"order_uuid,omitempty"`
	Order     map[string]any `json:"order"`
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "order is required")
		return
	}
	if req.OrderUUID == "" {
		req.OrderUUID = uuid.NewString()
	}

	if err := h.coordinator.Start(r.Context(), req.OrderUUID, req.Order); err != nil {
		var valErr *domain.ValidationError
		if errors.As(err, &valErr) {
			respondError(w, http.StatusBadRequest, valErr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to start fulfillment")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"order_uuid": req.OrderUUID})
}

// Status serves the order_status projection row, which trails the log
// and may briefly lag live processing.
func (h *OrderHandler) Status(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")

	row, err := h.status.GetOrderStatus(r.Context(), orderUUID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get order status")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	respondJSON(w, http.StatusOK, row)
}

func (h *OrderHandler) Saga(w http.ResponseWriter, r *http.Request) {
	orderUUID := chi.URLParam(r, "uuid")

	saga, err := h.sagas.GetSagaByOrder(r.Context(), orderUUID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get saga")
		return
	}
	if saga == nil {
		respondError(w, http.StatusNotFound, "no saga for order")
		return
	}
	respondJSON(w, http.StatusOK, saga)
}

// SagaByUUID serves a saga directly by its own id.
func (h *OrderHandler) SagaByUUID(w http.ResponseWriter, r *http.Request) {
	sagaUUID := chi.URLParam(r, "uuid")

	saga, err := h.sagas.GetSaga(r.Context(), sagaUUID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get saga")
		return
	}
	if saga == nil {
		respondError(w, http.StatusNotFound, "saga not found")
		return
	}
	respondJSON(w, http.StatusOK, saga)
}
