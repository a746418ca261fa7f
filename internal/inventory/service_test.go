package inventory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/store"
)

func setupInventory(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(mem, logger), mem
}

func stockOf(t *testing.T, mem *store.MemoryStore, medicationID int64) int {
	t.Helper()
	qty, err := mem.StockQuantity(context.Background(), medicationID)
	if err != nil {
		t.Fatal(err)
	}
	return qty
}

func TestReserve_DecrementsEveryLine(t *testing.T) {
	svc, mem := setupInventory(t)
	mem.SetStock(1, 10)
	mem.SetStock(2, 5)

	result := svc.Reserve(context.Background(), []domain.Line{
		{MedicationID: 1, Quantity: 3},
		{MedicationID: 2, Quantity: 2},
	}, "wh-east")

	if !result.Success {
		t.Fatalf("reserve should succeed: %v", result.Err)
	}
	if result.ReservationID == "" {
		t.Error("reserve should return a reservation id")
	}
	if got := stockOf(t, mem, 1); got != 7 {
		t.Errorf("stock 1: got %d, want 7", got)
	}
	if got := stockOf(t, mem, 2); got != 3 {
		t.Errorf("stock 2: got %d, want 3", got)
	}
}

func TestReserve_AllOrNothing(t *testing.T) {
	svc, mem := setupInventory(t)
	mem.SetStock(1, 10)
	mem.SetStock(2, 1)

	result := svc.Reserve(context.Background(), []domain.Line{
		{MedicationID: 1, Quantity: 3},
		{MedicationID: 2, Quantity: 2},
	}, "")

	if result.Success {
		t.Fatal("reserve should fail when any line is short")
	}
	var capacity *domain.CapacityError
	if !errors.As(result.Err, &capacity) {
		t.Fatalf("expected CapacityError, got %v", result.Err)
	}
	if capacity.MedicationID != 2 {
		t.Errorf("CapacityError medication: got %d, want 2", capacity.MedicationID)
	}

	// The passable line must be untouched.
	if got := stockOf(t, mem, 1); got != 10 {
		t.Errorf("stock 1: got %d, want 10 (no partial decrement)", got)
	}
	if got := stockOf(t, mem, 2); got != 1 {
		t.Errorf("stock 2: got %d, want 1", got)
	}
}

func TestReserve_RepeatedLinesCheckCombinedDemand(t *testing.T) {
	svc, mem := setupInventory(t)
	mem.SetStock(1, 3)

	// Each line alone fits the stock; together they do not. Checking
	// them independently would drive the quantity negative.
	result := svc.Reserve(context.Background(), []domain.Line{
		{MedicationID: 1, Quantity: 2},
		{MedicationID: 1, Quantity: 2},
	}, "")

	if result.Success {
		t.Fatal("reserve should fail when combined demand exceeds stock")
	}
	var capacity *domain.CapacityError
	if !errors.As(result.Err, &capacity) {
		t.Fatalf("expected CapacityError, got %v", result.Err)
	}
	if capacity.MedicationID != 1 {
		t.Errorf("CapacityError medication: got %d, want 1", capacity.MedicationID)
	}
	if got := stockOf(t, mem, 1); got != 3 {
		t.Errorf("stock: got %d, want 3 (untouched)", got)
	}

	// Repeated lines that do fit reserve normally.
	result = svc.Reserve(context.Background(), []domain.Line{
		{MedicationID: 1, Quantity: 1},
		{MedicationID: 1, Quantity: 2},
	}, "")
	if !result.Success {
		t.Fatalf("reserve should succeed: %v", result.Err)
	}
	if got := stockOf(t, mem, 1); got != 0 {
		t.Errorf("stock: got %d, want 0", got)
	}
}

func TestReserve_ExactStockLeavesZero(t *testing.T) {
	svc, mem := setupInventory(t)
	mem.SetStock(1, 5)

	result := svc.Reserve(context.Background(), []domain.Line{{MedicationID: 1, Quantity: 5}}, "")
	if !result.Success {
		t.Fatalf("reserving exactly the on-hand quantity should succeed: %v", result.Err)
	}
	if got := stockOf(t, mem, 1); got != 0 {
		t.Errorf("stock: got %d, want 0", got)
	}

	// Nothing left for the next order.
	next := svc.Reserve(context.Background(), []domain.Line{{MedicationID: 1, Quantity: 1}}, "")
	var capacity *domain.CapacityError
	if !errors.As(next.Err, &capacity) {
		t.Fatalf("expected CapacityError on empty stock, got %v", next.Err)
	}
}

func TestReserve_Validation(t *testing.T) {
	svc, _ := setupInventory(t)

	result := svc.Reserve(context.Background(), nil, "")
	var valErr *domain.ValidationError
	if !errors.As(result.Err, &valErr) {
		t.Fatalf("empty lines: expected ValidationError, got %v", result.Err)
	}
	if valErr.Field != "medications" {
		t.Errorf("Field: got %q, want %q", valErr.Field, "medications")
	}

	result = svc.Reserve(context.Background(), []domain.Line{{MedicationID: 1, Quantity: 0}}, "")
	if !errors.As(result.Err, &valErr) {
		t.Fatalf("zero quantity: expected ValidationError, got %v", result.Err)
	}
	if valErr.Field != "quantity" {
		t.Errorf("Field: got %q, want %q", valErr.Field, "quantity")
	}
}

func TestRelease_RestoresStockExactlyOnce(t *testing.T) {
	svc, mem := setupInventory(t)
	mem.SetStock(1, 10)

	reserved := svc.Reserve(context.Background(), []domain.Line{{MedicationID: 1, Quantity: 4}}, "")
	if !reserved.Success {
		t.Fatal(reserved.Err)
	}
	if got := stockOf(t, mem, 1); got != 6 {
		t.Fatalf("stock after reserve: got %d, want 6", got)
	}

	released := svc.Release(context.Background(), reserved.ReservationID)
	if !released.Success {
		t.Fatalf("release should succeed: %v", released.Err)
	}
	if got := stockOf(t, mem, 1); got != 10 {
		t.Errorf("stock after release: got %d, want 10", got)
	}

	// Second release is a conflict, not a second restore.
	again := svc.Release(context.Background(), reserved.ReservationID)
	var conflict *domain.StateConflictError
	if !errors.As(again.Err, &conflict) {
		t.Fatalf("double release: expected StateConflictError, got %v", again.Err)
	}
	if got := stockOf(t, mem, 1); got != 10 {
		t.Errorf("stock after double release: got %d, want 10", got)
	}
}

func TestRelease_UnknownReservation(t *testing.T) {
	svc, _ := setupInventory(t)

	result := svc.Release(context.Background(), "00000000-0000-0000-0000-000000000000")
	var notFound *domain.NotFoundError
	if !errors.As(result.Err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", result.Err)
	}
}

func TestExisting_SeesEarlierReservation(t *testing.T) {
	svc, mem := setupInventory(t)
	mem.SetStock(1, 10)

	result := svc.ReserveAs(context.Background(), "res-fixed", []domain.Line{{MedicationID: 1, Quantity: 1}}, "")
	if !result.Success {
		t.Fatal(result.Err)
	}

	ok, err := svc.Existing(context.Background(), "res-fixed")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Existing should see the earlier reservation")
	}

	ok, err = svc.Existing(context.Background(), "res-other")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Existing should not see an unknown id")
	}
}
