package domain

import "fmt"

// ValidationError reports a malformed or missing required field. Saga
// listeners log it and skip the step; no compensation is needed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// NotFoundError reports an operation against an unknown reservation,
// shipment or saga id. Always surfaced, never silently ignored.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// StateConflictError reports a compensation or transition attempted
// against a resource already in an incompatible state.
type StateConflictError struct {
	Kind   string
	ID     string
	Status string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %q is %s", e.Kind, e.ID, e.Status)
}

// CapacityError reports insufficient inventory for a reservation line.
// It fails the whole reservation atomically.
type CapacityError struct {
	MedicationID int64
	Requested    int
	Available    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient inventory for medication %d: requested %d, available %d",
		e.MedicationID, e.Requested, e.Available)
}

// ConfigError reports invalid configuration (unknown projection name,
// bad retry schedule). Raised at startup or before work begins.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// ChannelError reports a single alert channel failing to send. Isolated
// and logged; never blocks the other channels.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("alert channel %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
