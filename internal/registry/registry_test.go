package registry

import (
	"errors"
	"testing"

	"github.com/meridianrx/fulfillment/internal/domain"
)

func TestDefault_BuildsCleanly(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry should build: %v", err)
	}

	for _, name := range []string{ProjectionOrderStatus, ProjectionSubscriptionBilling} {
		types, err := reg.EventTypesForProjection(name)
		if err != nil {
			t.Errorf("projection %q should resolve: %v", name, err)
		}
		if len(types) == 0 {
			t.Errorf("projection %q should have event types", name)
		}
	}
}

func TestNew_NilFactoryRejected(t *testing.T) {
	_, err := New(Config{
		EventTypes: map[string]Factory{"Broken": nil},
	})

	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestNew_EmptyProjectionRejected(t *testing.T) {
	_, err := New(Config{
		EventTypes: map[string]Factory{
			"Known": func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.OrderCreated{Envelope: domain.NewEnvelope(rec)}
			},
		},
		Projections: map[string][]string{"empty": {}},
	})

	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for empty projection, got %v", err)
	}
}

func TestNew_UnregisteredTypeInProjectionRejected(t *testing.T) {
	_, err := New(Config{
		EventTypes: map[string]Factory{
			"Known": func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.OrderCreated{Envelope: domain.NewEnvelope(rec)}
			},
		},
		Projections: map[string][]string{"bad": {"Known", "Unknown"}},
	})

	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for unregistered type, got %v", err)
	}
}

func TestEventTypesForProjection_UnknownName(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.EventTypesForProjection("no_such_projection")
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for unknown projection, got %v", err)
	}
}

func TestRehydrate_BindsConcreteType(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	event, ok := reg.Rehydrate(domain.StoredEvent{
		ID:            7,
		AggregateUUID: "order-1",
		EventType:     domain.TypeInventoryReserved,
		EventData:     map[string]any{"reservation_id": "res-1"},
		Metadata:      map[string]any{"correlation_id": "corr-1"},
	})
	if !ok {
		t.Fatal("InventoryReserved should rehydrate")
	}

	reserved, ok := event.(domain.InventoryReserved)
	if !ok {
		t.Fatalf("expected InventoryReserved, got %T", event)
	}
	if reserved.ReservationID != "res-1" {
		t.Errorf("ReservationID: got %q, want %q", reserved.ReservationID, "res-1")
	}
	if reserved.StoredID() != 7 {
		t.Errorf("StoredID: got %d, want 7", reserved.StoredID())
	}
	if reserved.CorrelationID() != "corr-1" {
		t.Errorf("CorrelationID: got %q, want %q", reserved.CorrelationID(), "corr-1")
	}
}

func TestRehydrate_UnmappedTypeReportsFalse(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := reg.Rehydrate(domain.StoredEvent{EventType: "LegacyImportedEvent"}); ok {
		t.Error("unmapped event type should not rehydrate")
	}
}
