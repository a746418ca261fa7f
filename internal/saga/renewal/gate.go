package renewal

import (
	"fmt"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// CheckPaymentMethod gates a charge on the stored instrument. Expired
// methods and methods without a provider token are rejected for every
// kind; ACH additionally requires bank verification to be exactly
// "verified". Cards and invoices skip the verification check.
func CheckPaymentMethod(pm *domain.PaymentMethod, now time.Time) error {
	if pm == nil {
		return &domain.ValidationError{Field: "payment_method", Reason: "none on file"}
	}
	if pm.ExpiresAt != nil && pm.ExpiresAt.Before(now) {
		return &domain.ValidationError{Field: "payment_method", Reason: "is expired"}
	}
	if pm.ProviderToken == "" {
		return &domain.ValidationError{Field: "payment_method", Reason: "has no provider token"}
	}
	if pm.Kind == domain.PaymentACH && pm.VerificationStatus != "verified" {
		return &domain.ValidationError{
			Field:  "payment_method",
			Reason: fmt.Sprintf("ach verification status is %q, must be \"verified\"", pm.VerificationStatus),
		}
	}
	return nil
}
