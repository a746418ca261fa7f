package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// MemoryStore is an in-memory implementation of the same contracts the
// Postgres store provides. It backs unit tests and local development;
// the semantics (append-only ids, all-or-nothing reservation,
// source-state guards) mirror the SQL implementation exactly.
type MemoryStore struct {
	mu      sync.Mutex
	monitor AppendMonitor

	events   []domain.StoredEvent
	nextID   int64
	sagas    map[string]*domain.Saga
	outbox   []domain.OutboxMessage
	nextMsg  int64
	stock    map[int64]int
	reserved map[string]*domain.Reservation
	ships    map[string]*domain.Shipment
	orders   map[string]OrderStatusRow
	billing  map[string]BillingRow
	payments map[string]*domain.PaymentMethod
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		nextMsg:  1,
		sagas:    map[string]*domain.Saga{},
		stock:    map[int64]int{},
		reserved: map[string]*domain.Reservation{},
		ships:    map[string]*domain.Shipment{},
		orders:   map[string]OrderStatusRow{},
		billing:  map[string]BillingRow{},
		payments: map[string]*domain.PaymentMethod{},
	}
}

func (s *MemoryStore) SetMonitor(m AppendMonitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor = m
}

func (s *MemoryStore) AppendEvent(ctx context.Context, rec domain.StoredEvent) (*domain.StoredEvent, error) {
	if rec.AggregateUUID == "" {
		return nil, &domain.ValidationError{Field: "aggregate_uuid", Reason: "is required"}
	}
	if rec.EventType == "" {
		return nil, &domain.ValidationError{Field: "event_type", Reason: "is required"}
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if rec.EventData == nil {
		rec.EventData = map[string]any{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	s.mu.Lock()
	rec.ID = s.nextID
	s.nextID++
	s.events = append(s.events, rec)
	monitor := s.monitor
	s.mu.Unlock()

	if monitor != nil {
		monitor.EventAppended(ctx, rec)
	}
	return &rec, nil
}

func (s *MemoryStore) ListEventsAfter(_ context.Context, q EventQuery) ([]domain.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StoredEvent
	for _, e := range s.events {
		if e.ID <= q.AfterID {
			continue
		}
		if q.ToID > 0 && e.ID > q.ToID {
			continue
		}
		if q.AggregateType != "" && e.AggregateType != q.AggregateType {
			continue
		}
		if len(q.EventTypes) > 0 && !containsString(q.EventTypes, e.EventType) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateSaga(_ context.Context, saga *domain.Saga, pending []domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// One saga per order, as the unique constraint enforces in SQL.
	if _, ok := s.sagas[saga.SagaUUID]; ok {
		return &domain.StateConflictError{Kind: "saga", ID: saga.SagaUUID, Status: "exists"}
	}
	for _, existing := range s.sagas {
		if existing.OrderUUID == saga.OrderUUID {
			return &domain.StateConflictError{Kind: "saga", ID: saga.OrderUUID, Status: "exists"}
		}
	}
	cp := *saga
	s.sagas[saga.SagaUUID] = &cp
	s.appendOutbox(pending)
	return nil
}

func (s *MemoryStore) UpdateSaga(_ context.Context, saga *domain.Saga, pending []domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sagas[saga.SagaUUID]; !ok {
		return &domain.NotFoundError{Kind: "saga", ID: saga.SagaUUID}
	}
	cp := *saga
	cp.UpdatedAt = time.Now().UTC()
	s.sagas[saga.SagaUUID] = &cp
	s.appendOutbox(pending)
	return nil
}

func (s *MemoryStore) appendOutbox(pending []domain.OutboxMessage) {
	for _, m := range pending {
		m.ID = s.nextMsg
		s.nextMsg++
		m.CreatedAt = time.Now().UTC()
		s.outbox = append(s.outbox, m)
	}
}

func (s *MemoryStore) GetSaga(_ context.Context, sagaUUID string) (*domain.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saga, ok := s.sagas[sagaUUID]
	if !ok {
		return nil, nil
	}
	cp := *saga
	return &cp, nil
}

func (s *MemoryStore) GetSagaByOrder(_ context.Context, orderUUID string) (*domain.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, saga := range s.sagas {
		if saga.OrderUUID == orderUUID {
			cp := *saga
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PendingOutbox(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxMessage
	for _, m := range s.outbox {
		if m.SentAt != nil {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkOutboxSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			now := time.Now().UTC()
			s.outbox[i].SentAt = &now
			return nil
		}
	}
	return &domain.NotFoundError{Kind: "outbox message", ID: fmt.Sprintf("%d", id)}
}

func (s *MemoryStore) StuckSagas(_ context.Context, cutoff time.Time, limit int) ([]domain.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Saga
	for _, saga := range s.sagas {
		if saga.Status.Terminal() || !saga.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, *saga)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SetStock seeds the on-hand quantity for a medication.
func (s *MemoryStore) SetStock(medicationID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[medicationID] = quantity
}

func (s *MemoryStore) StockQuantity(_ context.Context, medicationID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qty, ok := s.stock[medicationID]
	if !ok {
		return 0, &domain.NotFoundError{Kind: "medication", ID: fmt.Sprintf("%d", medicationID)}
	}
	return qty, nil
}

func (s *MemoryStore) CreateReservation(_ context.Context, res *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Every line must pass before any decrement happens. Quantities are
	// summed per medication first so repeated lines are checked against
	// the combined demand, matching the SQL guard that fails the second
	// decrement of the same row.
	need := map[int64]int{}
	for _, line := range res.Lines {
		need[line.MedicationID] += line.Quantity
	}
	for _, line := range res.Lines {
		if s.stock[line.MedicationID] < need[line.MedicationID] {
			return &domain.CapacityError{
				MedicationID: line.MedicationID,
				Requested:    need[line.MedicationID],
				Available:    s.stock[line.MedicationID],
			}
		}
	}
	for _, line := range res.Lines {
		s.stock[line.MedicationID] -= line.Quantity
	}
	cp := *res
	s.reserved[res.ReservationID] = &cp
	return nil
}

func (s *MemoryStore) ReleaseReservation(_ context.Context, reservationID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reserved[reservationID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "reservation", ID: reservationID}
	}
	if res.Status != domain.ReservationReserved {
		return nil, &domain.StateConflictError{Kind: "reservation", ID: reservationID, Status: string(res.Status)}
	}
	for _, line := range res.Lines {
		s.stock[line.MedicationID] += line.Quantity
	}
	now := time.Now().UTC()
	res.Status = domain.ReservationReleased
	res.ReleasedAt = &now
	cp := *res
	return &cp, nil
}

func (s *MemoryStore) GetReservation(_ context.Context, reservationID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reserved[reservationID]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (s *MemoryStore) CreateShipment(_ context.Context, sh *domain.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sh
	s.ships[sh.ShipmentID] = &cp
	return nil
}

func (s *MemoryStore) GetShipment(_ context.Context, shipmentID string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.ships[shipmentID]
	if !ok {
		return nil, nil
	}
	cp := *sh
	return &cp, nil
}

func (s *MemoryStore) CancelShipment(_ context.Context, shipmentID string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.ships[shipmentID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "shipment", ID: shipmentID}
	}
	if !sh.Status.Cancellable() {
		return nil, &domain.StateConflictError{Kind: "shipment", ID: shipmentID, Status: string(sh.Status)}
	}
	sh.Status = domain.ShipmentCancelled
	sh.UpdatedAt = time.Now().UTC()
	cp := *sh
	return &cp, nil
}

// MarkShipped is a test/dev helper that advances a shipment past the
// cancellable window.
func (s *MemoryStore) MarkShipped(shipmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.ships[shipmentID]; ok {
		sh.Status = domain.ShipmentShipped
	}
}

func (s *MemoryStore) UpsertOrderStatus(_ context.Context, row OrderStatusRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = time.Now().UTC()
	s.orders[row.OrderUUID] = row
	return nil
}

func (s *MemoryStore) GetOrderStatus(_ context.Context, orderUUID string) (*OrderStatusRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.orders[orderUUID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *MemoryStore) UpsertBilling(_ context.Context, row BillingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = time.Now().UTC()
	s.billing[row.SubscriptionID] = row
	return nil
}

// GetBilling returns a projected billing row, or nil when absent.
func (s *MemoryStore) GetBilling(_ context.Context, subscriptionID string) (*BillingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.billing[subscriptionID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

// SetPaymentMethod seeds a user's charging instrument.
func (s *MemoryStore) SetPaymentMethod(pm domain.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := pm
	s.payments[pm.UserID] = &cp
}

func (s *MemoryStore) PaymentMethodForUser(_ context.Context, userID string) (*domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.payments[userID]
	if !ok {
		return nil, nil
	}
	cp := *pm
	return &cp, nil
}
