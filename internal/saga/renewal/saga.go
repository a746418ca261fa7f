// Package renewal drives the subscription renewal saga: a payment
// retry state machine with an idempotency guard, a backoff schedule,
// per-user rate limiting and escalation on exhaustion.
package renewal

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianrx/fulfillment/internal/alert"
	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/lane"
	"github.com/meridianrx/fulfillment/internal/ratelimit"
)

// chargeDue is the internal job kind scheduled on the renewal lane.
const chargeDue = "RenewalChargeDue"

// Outcome classifies what one renewal job did, mostly for tests and
// audit logging.
type Outcome string

const (
	OutcomeInvalid     Outcome = "invalid"
	OutcomeEnqueued    Outcome = "enqueued"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeRateLimited Outcome = "too_many_attempts"
	OutcomeCharged     Outcome = "charged"
	OutcomeRetryLater  Outcome = "retry_scheduled"
	OutcomeEscalated   Outcome = "escalated"
	OutcomeError       Outcome = "error"
)

// Charger is the external payment provider boundary.
type Charger interface {
	Charge(ctx context.Context, subscriptionID, userID string, amountCents int64) error
}

// PaymentMethods looks up a user's stored charging instrument.
type PaymentMethods interface {
	PaymentMethodForUser(ctx context.Context, userID string) (*domain.PaymentMethod, error)
}

// EventLog is the append-only log slice the saga writes outcomes to.
type EventLog interface {
	AppendEvent(ctx context.Context, rec domain.StoredEvent) (*domain.StoredEvent, error)
}

// Dispatcher feeds appended events to the live projection listeners.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.DomainEvent) error
}

// Rehydrator binds appended rows back to typed events.
type Rehydrator interface {
	Rehydrate(rec domain.StoredEvent) (domain.DomainEvent, bool)
}

// Enqueuer schedules jobs on the renewal lane.
type Enqueuer interface {
	Enqueue(ctx context.Context, laneName string, job lane.Job, runAt time.Time) error
}

// Saga processes renewal jobs from the subscription-renewal lane. It
// implements lane.Handler.
type Saga struct {
	cfg        Config
	redis      *redis.Client
	limiter    *ratelimit.Limiter
	charger    Charger
	methods    PaymentMethods
	log        EventLog
	bus        Dispatcher
	rehydrator Rehydrator
	queue      Enqueuer
	alerts     *alert.Fanout
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func New(
	cfg Config,
	redisClient *redis.Client,
	limiter *ratelimit.Limiter,
	charger Charger,
	methods PaymentMethods,
	log EventLog,
	bus Dispatcher,
	rehydrator Rehydrator,
	queue Enqueuer,
	alerts *alert.Fanout,
	logger *slog.Logger,
) (*Saga, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Saga{
		cfg:        cfg,
		redis:      redisClient,
		limiter:    limiter,
		charger:    charger,
		methods:    methods,
		log:        log,
		bus:        bus,
		rehydrator: rehydrator,
		queue:      queue,
		alerts:     alerts,
		logger:     logger,
		tracer:     otel.Tracer("saga.renewal"),
		now:        time.Now,
	}, nil
}

// Handle implements lane.Handler for the subscription-renewal lane.
func (s *Saga) Handle(ctx context.Context, job lane.Job) {
	s.Process(ctx, job)
}

// Process runs one renewal job and reports what it did.
func (s *Saga) Process(ctx context.Context, job lane.Job) Outcome {
	ctx, span := s.tracer.Start(ctx, "renewal.step",
		trace.WithAttributes(
			attribute.String("saga_uuid", job.SagaUUID),
			attribute.String("event_type", job.EventType),
			attribute.Int("attempt", job.Attempt),
		))
	defer span.End()

	switch job.EventType {
	case domain.TypeRenewalSagaStarted:
		return s.start(ctx, job)
	case chargeDue:
		return s.charge(ctx, job)
	default:
		s.logger.Warn("renewal lane received unknown job kind",
			"event_type", job.EventType, "saga_uuid", job.SagaUUID)
		return OutcomeInvalid
	}
}

// start validates the trigger and schedules the first charge attempt.
// A malformed trigger (missing subscription or user id) is a logged
// no-op, protecting the saga from bad upstream events.
func (s *Saga) start(ctx context.Context, job lane.Job) Outcome {
	subscriptionID := domain.StringField(job.Payload, "subscription_id")
	userID := domain.StringField(job.Payload, "user_id")
	if subscriptionID == "" || userID == "" {
		s.logger.Warn("renewal trigger missing required fields, ignoring",
			"saga_uuid", job.SagaUUID,
			"subscription_id", subscriptionID,
			"user_id", userID,
		)
		return OutcomeInvalid
	}

	next := lane.Job{
		SagaUUID:  job.SagaUUID,
		EventType: chargeDue,
		Payload:   job.Payload,
		Attempt:   1,
	}
	if err := s.queue.Enqueue(ctx, lane.Renewal, next, s.now()); err != nil {
		s.logger.Error("failed to enqueue first charge attempt",
			"saga_uuid", job.SagaUUID, "error", err)
		return OutcomeError
	}
	return OutcomeEnqueued
}

func (s *Saga) charge(ctx context.Context, job lane.Job) Outcome {
	subscriptionID := domain.StringField(job.Payload, "subscription_id")
	userID := domain.StringField(job.Payload, "user_id")
	amountCents := domain.IntField(job.Payload, "amount_cents")
	correlationID := domain.StringField(job.Payload, "correlation_id")
	attempt := job.Attempt

	// Idempotency guard: duplicate delivery of a job whose charge
	// already went through must not charge again.
	done, err := s.alreadyCharged(ctx, job.SagaUUID)
	if err != nil {
		s.logger.Error("idempotency check failed", "saga_uuid", job.SagaUUID, "error", err)
		return OutcomeError
	}
	if done {
		s.logger.Info("charge already executed for saga, skipping duplicate",
			"saga_uuid", job.SagaUUID, "attempt", attempt)
		return OutcomeDuplicate
	}

	// Per-user attempt budget, hourly then daily.
	if !s.limiter.Allow(ctx, userID+":renewal:1h", s.cfg.HourlyLimit, time.Hour) ||
		!s.limiter.Allow(ctx, userID+":renewal:24h", s.cfg.DailyLimit, 24*time.Hour) {
		s.logger.Warn("too many renewal attempts for user",
			"user_id", userID, "saga_uuid", job.SagaUUID)
		return OutcomeRateLimited
	}

	// Payment method gate.
	pm, err := s.methods.PaymentMethodForUser(ctx, userID)
	if err != nil {
		s.logger.Error("payment method lookup failed", "user_id", userID, "error", err)
		return OutcomeError
	}
	if gateErr := CheckPaymentMethod(pm, s.now()); gateErr != nil {
		s.logger.Warn("payment method rejected",
			"user_id", userID, "saga_uuid", job.SagaUUID, "reason", gateErr.Error())
		return s.failed(ctx, job, gateErr.Error())
	}

	if chargeErr := s.charger.Charge(ctx, subscriptionID, userID, amountCents); chargeErr != nil {
		s.logger.Warn("charge attempt failed",
			"saga_uuid", job.SagaUUID,
			"subscription_id", subscriptionID,
			"attempt", attempt,
			"error", chargeErr,
		)
		return s.failed(ctx, job, chargeErr.Error())
	}

	if err := s.markCharged(ctx, job.SagaUUID); err != nil {
		s.logger.Error("failed to set idempotency marker", "saga_uuid", job.SagaUUID, "error", err)
	}

	s.append(ctx, job.SagaUUID, domain.TypeRenewalChargeSucceeded, map[string]any{
		"subscription_id": subscriptionID,
		"amount_cents":    amountCents,
		"attempt":         attempt,
		"correlation_id":  correlationID,
	})

	s.logger.Info("subscription renewed",
		"saga_uuid", job.SagaUUID,
		"subscription_id", subscriptionID,
		"attempt", attempt,
	)
	return OutcomeCharged
}

// failed records the attempt and either schedules the next one per the
// backoff schedule or escalates after the final attempt.
func (s *Saga) failed(ctx context.Context, job lane.Job, reason string) Outcome {
	subscriptionID := domain.StringField(job.Payload, "subscription_id")
	attempt := job.Attempt

	s.append(ctx, job.SagaUUID, domain.TypeRenewalChargeFailed, map[string]any{
		"subscription_id": subscriptionID,
		"attempt":         attempt,
		"reason":          reason,
		"correlation_id":  domain.StringField(job.Payload, "correlation_id"),
	})

	if attempt < s.cfg.MaxAttempts {
		delay := time.Duration(s.cfg.ScheduleDays[attempt-1]) * 24 * time.Hour
		next := lane.Job{
			SagaUUID:  job.SagaUUID,
			EventType: chargeDue,
			Payload:   job.Payload,
			Attempt:   attempt + 1,
		}
		if err := s.queue.Enqueue(ctx, lane.Renewal, next, s.now().Add(delay)); err != nil {
			s.logger.Error("failed to schedule retry",
				"saga_uuid", job.SagaUUID, "attempt", attempt+1, "error", err)
			return OutcomeError
		}
		s.logger.Info("charge retry scheduled",
			"saga_uuid", job.SagaUUID,
			"attempt", attempt+1,
			"delay_days", s.cfg.ScheduleDays[attempt-1],
		)
		return OutcomeRetryLater
	}

	return s.escalate(ctx, job, reason)
}

// escalate fires exactly one failure alert per saga: the Redis SETNX
// dedup absorbs duplicate exhaustion deliveries.
func (s *Saga) escalate(ctx context.Context, job lane.Job, reason string) Outcome {
	first, err := s.redis.SetNX(ctx, "renewal:alert:"+job.SagaUUID, "1", s.cfg.IdempotencyTTL).Result()
	if err != nil {
		s.logger.Error("alert dedup check failed", "saga_uuid", job.SagaUUID, "error", err)
		return OutcomeError
	}
	if !first {
		s.logger.Info("failure alert already sent for saga, skipping",
			"saga_uuid", job.SagaUUID)
		return OutcomeDuplicate
	}

	subscriptionID := domain.StringField(job.Payload, "subscription_id")
	userID := domain.StringField(job.Payload, "user_id")
	amountCents := domain.IntField(job.Payload, "amount_cents")

	s.append(ctx, job.SagaUUID, domain.TypeRenewalFailureAlert, map[string]any{
		"subscription_id": subscriptionID,
		"user_id":         userID,
		"amount_cents":    amountCents,
		"attempts":        job.Attempt,
		"last_error":      reason,
		"correlation_id":  domain.StringField(job.Payload, "correlation_id"),
	})

	s.alerts.Send(ctx, alert.Alert{
		SagaUUID:       job.SagaUUID,
		SubscriptionID: subscriptionID,
		UserID:         userID,
		AmountCents:    amountCents,
		Attempts:       job.Attempt,
		LastError:      reason,
	})

	s.logger.Warn("renewal saga exhausted, escalated",
		"saga_uuid", job.SagaUUID,
		"subscription_id", subscriptionID,
		"attempts", job.Attempt,
	)
	return OutcomeEscalated
}

func (s *Saga) alreadyCharged(ctx context.Context, sagaUUID string) (bool, error) {
	n, err := s.redis.Exists(ctx, chargeMarkerKey(sagaUUID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Saga) markCharged(ctx context.Context, sagaUUID string) error {
	return s.redis.Set(ctx, chargeMarkerKey(sagaUUID), "1", s.cfg.IdempotencyTTL).Err()
}

func chargeMarkerKey(sagaUUID string) string {
	return "renewal:charged:" + sagaUUID
}

// append writes an outcome event to the log and dispatches it to the
// live projections. Append failures are logged; the saga's own control
// flow does not depend on the projection side.
func (s *Saga) append(ctx context.Context, sagaUUID, eventType string, payload map[string]any) {
	stored, err := s.log.AppendEvent(ctx, domain.StoredEvent{
		AggregateUUID: sagaUUID,
		AggregateType: "subscription_renewal",
		EventType:     eventType,
		EventData:     payload,
		Metadata: map[string]any{
			"saga_uuid":      sagaUUID,
			"correlation_id": domain.StringField(payload, "correlation_id"),
		},
	})
	if err != nil {
		s.logger.Error("failed to append renewal event",
			"saga_uuid", sagaUUID, "event_type", eventType, "error", err)
		return
	}
	if s.bus != nil && s.rehydrator != nil {
		if event, ok := s.rehydrator.Rehydrate(*stored); ok {
			if err := s.bus.Dispatch(ctx, event); err != nil {
				s.logger.Error("live projection dispatch failed",
					"event_id", stored.ID, "error", err)
			}
		}
	}
}
