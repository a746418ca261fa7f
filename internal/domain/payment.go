package domain

import "time"

// PaymentMethodKind identifies how a subscription is charged.
type PaymentMethodKind string

const (
	PaymentCreditCard PaymentMethodKind = "credit_card"
	PaymentACH        PaymentMethodKind = "ach"
	PaymentInvoice    PaymentMethodKind = "invoice"
)

// PaymentMethod is the stored charging instrument for a user. ACH
// methods additionally carry a bank verification status; cards and
// invoices do not.
type PaymentMethod struct {
	UserID             string            `json:"user_id"`
	Kind               PaymentMethodKind `json:"kind"`
	ProviderToken      string            `json:"provider_token"`
	ExpiresAt          *time.Time        `json:"expires_at,omitempty"`
	VerificationStatus string            `json:"verification_status,omitempty"`
}
