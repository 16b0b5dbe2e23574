package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/inaiurai/settlement/internal/gateway"
)

var ErrBadSignature = errors.New("invalid webhook signature")

// Verifier authenticates a delivery before anything is persisted.
type Verifier interface {
	Verify(ctx context.Context, h http.Header, body []byte) error
}

// SignatureChecker is the provider's verification endpoint.
type SignatureChecker interface {
	VerifyWebhookSignature(ctx context.Context, in gateway.VerifyInput) (bool, error)
}

// NewVerifier builds the verifier for mode: none, hmac or paypal.
func NewVerifier(mode, secret, webhookID string, checker SignatureChecker, log *slog.Logger) (Verifier, error) {
	if log == nil {
		log = slog.Default()
	}
	switch mode {
	case "", "none":
		log.Warn("webhook signature verification is disabled; any caller can post provider events")
		return NoVerification{log: log}, nil
	case "hmac":
		if secret == "" {
			return nil, errors.New("hmac webhook verification needs a secret")
		}
		return HMAC{Secret: []byte(secret)}, nil
	case "paypal":
		if webhookID == "" || checker == nil {
			return nil, errors.New("paypal webhook verification needs a webhook id")
		}
		return PayPalSignature{WebhookID: webhookID, Checker: checker}, nil
	}
	return nil, fmt.Errorf("unknown webhook verify mode %q", mode)
}

// NoVerification accepts everything.
type NoVerification struct{ log *slog.Logger }

func (v NoVerification) Verify(ctx context.Context, _ http.Header, _ []byte) error {
	if v.log != nil {
		v.log.DebugContext(ctx, "webhook accepted without signature verification")
	}
	return nil
}

const SignatureHeader = "X-Webhook-Signature"

// HMAC expects the hex HMAC-SHA256 of the body in X-Webhook-Signature.
type HMAC struct{ Secret []byte }

func (v HMAC) Verify(_ context.Context, h http.Header, body []byte) error {
	got := h.Get(SignatureHeader)
	if got == "" {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(Sign(v.Secret, body)), []byte(got)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// PayPalSignature asks the provider to verify the transmission headers.
type PayPalSignature struct {
	WebhookID string
	Checker   SignatureChecker
}

func (v PayPalSignature) Verify(ctx context.Context, h http.Header, body []byte) error {
	in := gateway.VerifyInput{
		AuthAlgo:         h.Get("Paypal-Auth-Algo"),
		CertURL:          h.Get("Paypal-Cert-Url"),
		TransmissionID:   h.Get("Paypal-Transmission-Id"),
		TransmissionSig:  h.Get("Paypal-Transmission-Sig"),
		TransmissionTime: h.Get("Paypal-Transmission-Time"),
		WebhookID:        v.WebhookID,
		WebhookEvent:     body,
	}
	if in.TransmissionID == "" || in.TransmissionSig == "" || !json.Valid(body) {
		return ErrBadSignature
	}
	ok, err := v.Checker.VerifyWebhookSignature(ctx, in)
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}
