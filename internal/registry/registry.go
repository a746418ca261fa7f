// Package registry maps stored event types to rehydration factories and
// named projections to the event types that feed them. The registry is
// built once at startup and never mutated afterwards; the replay engine
// and the live listener bus share the same instance.
package registry

import (
	"fmt"
	"sort"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// Factory reconstructs a typed DomainEvent from a stored row.
type Factory func(domain.StoredEvent) domain.DomainEvent

// Registry is an immutable lookup table. Construct with New; the maps
// are copied so later changes to the config cannot leak in.
type Registry struct {
	factories   map[string]Factory
	projections map[string][]string
}

// Config enumerates the known event types and named projections.
type Config struct {
	EventTypes  map[string]Factory
	Projections map[string][]string
}

// New builds a registry from config. Projections referencing an event
// type with no registered factory are a configuration error: replay
// would silently skip every event of that projection.
func New(cfg Config) (*Registry, error) {
	r := &Registry{
		factories:   make(map[string]Factory, len(cfg.EventTypes)),
		projections: make(map[string][]string, len(cfg.Projections)),
	}
	for name, f := range cfg.EventTypes {
		if f == nil {
			return nil, &domain.ConfigError{Reason: fmt.Sprintf("event type %q has nil factory", name)}
		}
		r.factories[name] = f
	}
	for name, types := range cfg.Projections {
		if len(types) == 0 {
			return nil, &domain.ConfigError{Reason: fmt.Sprintf("projection %q has no event types", name)}
		}
		for _, t := range types {
			if _, ok := r.factories[t]; !ok {
				return nil, &domain.ConfigError{Reason: fmt.Sprintf("projection %q references unregistered event type %q", name, t)}
			}
		}
		cp := make([]string, len(types))
		copy(cp, types)
		sort.Strings(cp)
		r.projections[name] = cp
	}
	return r, nil
}

// FactoryFor resolves a stored event type to its rehydration factory.
func (r *Registry) FactoryFor(eventType string) (Factory, bool) {
	f, ok := r.factories[eventType]
	return f, ok
}

// EventTypesForProjection returns the event types feeding a named
// projection. Unknown names are a configuration error, raised before
// any replay batch runs.
func (r *Registry) EventTypesForProjection(name string) ([]string, error) {
	types, ok := r.projections[name]
	if !ok {
		return nil, &domain.ConfigError{Reason: fmt.Sprintf("unknown projection %q", name)}
	}
	out := make([]string, len(types))
	copy(out, types)
	return out, nil
}

// Rehydrate binds a stored row to its concrete event type. The second
// return is false when the type is unmapped; callers decide whether to
// skip or abort.
func (r *Registry) Rehydrate(rec domain.StoredEvent) (domain.DomainEvent, bool) {
	f, ok := r.factories[rec.EventType]
	if !ok {
		return nil, false
	}
	return f(rec), true
}

// Default returns the registry for the platform's event catalog: every
// saga-triggering event plus the renewal outcome events, and the two
// read-model projections.
func Default() (*Registry, error) {
	return New(Config{
		EventTypes: map[string]Factory{
			domain.TypeOrderCreated: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.OrderCreated{
					Envelope:       domain.NewEnvelope(rec),
					OrderUUID:      rec.AggregateUUID,
					SubscriptionID: domain.StringField(rec.EventData, "subscription_id"),
				}
			},
			domain.TypePrescriptionCreated: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.PrescriptionCreated{
					Envelope:       domain.NewEnvelope(rec),
					OrderUUID:      rec.AggregateUUID,
					PrescriptionID: domain.StringField(rec.EventData, "prescription_id"),
				}
			},
			domain.TypePrescriptionFailed: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.PrescriptionFailed{
					Envelope:  domain.NewEnvelope(rec),
					OrderUUID: rec.AggregateUUID,
					Reason:    domain.StringField(rec.EventData, "reason"),
				}
			},
			domain.TypeInventoryReserved: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.InventoryReserved{
					Envelope:      domain.NewEnvelope(rec),
					OrderUUID:     rec.AggregateUUID,
					ReservationID: domain.StringField(rec.EventData, "reservation_id"),
				}
			},
			domain.TypeInventoryReservationFailed: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.InventoryReservationFailed{
					Envelope:  domain.NewEnvelope(rec),
					OrderUUID: rec.AggregateUUID,
					Reason:    domain.StringField(rec.EventData, "reason"),
				}
			},
			domain.TypeShipmentInitiated: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.ShipmentInitiated{
					Envelope:       domain.NewEnvelope(rec),
					OrderUUID:      rec.AggregateUUID,
					ShipmentID:     domain.StringField(rec.EventData, "shipment_id"),
					TrackingNumber: domain.StringField(rec.EventData, "tracking_number"),
				}
			},
			domain.TypeShipmentInitiationFailed: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.ShipmentInitiationFailed{
					Envelope:  domain.NewEnvelope(rec),
					OrderUUID: rec.AggregateUUID,
					Reason:    domain.StringField(rec.EventData, "reason"),
				}
			},
			domain.TypeRenewalSagaStarted: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.RenewalSagaStarted{
					Envelope:       domain.NewEnvelope(rec),
					SubscriptionID: domain.StringField(rec.EventData, "subscription_id"),
					UserID:         domain.StringField(rec.EventData, "user_id"),
					AmountCents:    domain.IntField(rec.EventData, "amount_cents"),
				}
			},
			domain.TypeRenewalChargeSucceeded: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.RenewalChargeSucceeded{
					Envelope:       domain.NewEnvelope(rec),
					SubscriptionID: domain.StringField(rec.EventData, "subscription_id"),
					AmountCents:    domain.IntField(rec.EventData, "amount_cents"),
					Attempt:        int(domain.IntField(rec.EventData, "attempt")),
				}
			},
			domain.TypeRenewalChargeFailed: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.RenewalChargeFailed{
					Envelope:       domain.NewEnvelope(rec),
					SubscriptionID: domain.StringField(rec.EventData, "subscription_id"),
					Attempt:        int(domain.IntField(rec.EventData, "attempt")),
					Reason:         domain.StringField(rec.EventData, "reason"),
				}
			},
			domain.TypeRenewalFailureAlert: func(rec domain.StoredEvent) domain.DomainEvent {
				return domain.RenewalFailureAlert{
					Envelope:       domain.NewEnvelope(rec),
					SubscriptionID: domain.StringField(rec.EventData, "subscription_id"),
					UserID:         domain.StringField(rec.EventData, "user_id"),
					AmountCents:    domain.IntField(rec.EventData, "amount_cents"),
					Attempts:       int(domain.IntField(rec.EventData, "attempts")),
					LastError:      domain.StringField(rec.EventData, "last_error"),
				}
			},
		},
		Projections: map[string][]string{
			ProjectionOrderStatus: {
				domain.TypeOrderCreated,
				domain.TypePrescriptionCreated,
				domain.TypePrescriptionFailed,
				domain.TypeInventoryReserved,
				domain.TypeInventoryReservationFailed,
				domain.TypeShipmentInitiated,
				domain.TypeShipmentInitiationFailed,
			},
			ProjectionSubscriptionBilling: {
				domain.TypeRenewalSagaStarted,
				domain.TypeRenewalChargeSucceeded,
				domain.TypeRenewalChargeFailed,
				domain.TypeRenewalFailureAlert,
			},
		},
	})
}

// Named projections known to the platform.
const (
	ProjectionOrderStatus         = "order_status"
	ProjectionSubscriptionBilling = "subscription_billing"
)
