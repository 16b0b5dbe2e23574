// Package gateway is the payment provider adapter. Gateway is what the rest
// of the service depends on; PayPal is the production implementation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/models"
)

type Gateway interface {
	CreateFundingOrder(ctx context.Context, amount decimal.Decimal) (*Order, error)
	// CaptureOrder reports whether the order ended COMPLETED. false with a nil
	// error means the payer has not approved it.
	CaptureOrder(ctx context.Context, orderID string) (bool, error)
	CreatePayout(ctx context.Context, email string, amount decimal.Decimal, reference string) (*Payout, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id, reason string) error
	CreateWebhook(ctx context.Context, url string, eventTypes []string) (string, error)
	DeleteWebhook(ctx context.Context, id string) error
	VerifyWebhookSignature(ctx context.Context, in VerifyInput) (bool, error)
}

type Order struct {
	ID         string `json:"order_id"`
	Status     string `json:"status"`
	ApproveURL string `json:"approve_url"`
}

type Payout struct {
	BatchID     string `json:"payout_batch_id"`
	BatchStatus string `json:"batch_status"`
}

// Rejected reports whether the provider refused the batch outright.
func (p *Payout) Rejected() bool {
	switch p.BatchStatus {
	case "DENIED", "CANCELED", "CANCELLED":
		return true
	}
	return false
}

type Subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	PlanID string `json:"plan_id"`
}

// Active is true for ACTIVE, APPROVAL_PENDING and APPROVED.
func (s *Subscription) Active() bool {
	switch s.Status {
	case "ACTIVE", "APPROVAL_PENDING", "APPROVED":
		return true
	}
	return false
}

// VerifyInput carries the transmission headers of a delivery plus its body.
type VerifyInput struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

// APIError is a definitive 4xx rejection. Retrying the same request will not
// change the answer.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Issues     []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal: %d %s: %s", e.StatusCode, e.Name, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return models.ErrValidation
	}
	return nil
}

const batchIDReused = "SENDER_BATCH_ID_ALREADY_USED"

// IsBatchIDReused reports a payout the provider already accepted under the
// same sender_batch_id.
func IsBatchIDReused(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Name == batchIDReused {
		return true
	}
	for _, issue := range apiErr.Issues {
		if issue == batchIDReused {
			return true
		}
	}
	return false
}

// IsRejection reports a definitive provider refusal.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

var hundred = decimal.NewFromInt(100)

// NetPayout is the amount sent after the percentage fee, rounded to cents.
func NetPayout(amount, percentFee decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(percentFee).Div(hundred)
	return amount.Sub(fee).Round(2)
}
