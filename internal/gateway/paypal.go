package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/inaiurai/settlement/internal/metrics"
	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/traces"
)

const maxResponseBytes = 1 << 20

type PayPalConfig struct {
	BaseURL  string // with trailing slash
	ClientID string
	Secret   string
	Currency string
	Timeout  time.Duration
	// HTTPClient is the transport used for both token and API calls.
	HTTPClient *http.Client
}

// PayPal talks to the PayPal REST API. Access tokens come from the OAuth2
// client-credentials grant and are cached until they expire.
type PayPal struct {
	base     string
	currency string
	timeout  time.Duration
	http     *http.Client
	log      *slog.Logger
}

func NewPayPal(cfg PayPalConfig, log *slog.Logger) *PayPal {
	if log == nil {
		log = slog.Default()
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.Secret,
		TokenURL:     cfg.BaseURL + "v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	return &PayPal{
		base:     cfg.BaseURL,
		currency: cfg.Currency,
		timeout:  cfg.Timeout,
		http:     cc.Client(tokenCtx),
		log:      log,
	}
}

var _ Gateway = (*PayPal)(nil)

type money struct {
	CurrencyCode string `json:"currency_code,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

func (p *PayPal) CreateFundingOrder(ctx context.Context, amount decimal.Decimal) (*Order, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{"amount": money{CurrencyCode: p.currency, Value: amount.StringFixed(2)}},
		},
	}
	var resp orderResponse
	if err := p.do(ctx, "create_order", http.MethodPost, "v2/checkout/orders", body, &resp); err != nil {
		return nil, err
	}
	o := &Order{ID: resp.ID, Status: resp.Status}
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			o.ApproveURL = l.Href
			break
		}
	}
	return o, nil
}

func (p *PayPal) CaptureOrder(ctx context.Context, orderID string) (bool, error) {
	path := "v2/checkout/orders/" + url.PathEscape(orderID)
	var order orderResponse
	if err := p.do(ctx, "get_order", http.MethodGet, path, nil, &order); err != nil {
		return false, err
	}
	switch order.Status {
	case "COMPLETED":
		return true, nil
	case "APPROVED":
	default:
		return false, nil
	}
	var captured orderResponse
	if err := p.do(ctx, "capture_order", http.MethodPost, path+"/capture", struct{}{}, &captured); err != nil {
		return false, err
	}
	return captured.Status == "COMPLETED", nil
}

type payoutResponse struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

// CreatePayout sends amount to email. reference is used as both the batch
// and item sender id so a retried job cannot pay twice.
func (p *PayPal) CreatePayout(ctx context.Context, email string, amount decimal.Decimal, reference string) (*Payout, error) {
	body := map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": reference,
			"email_subject":   "You have a payout!",
			"email_message":   "You have received a payout! Thanks for using our service!",
		},
		"items": []map[string]any{{
			"recipient_type":        "EMAIL",
			"amount":                money{Currency: p.currency, Value: amount.StringFixed(2)},
			"note":                  "Thanks for your patronage!",
			"sender_item_id":        reference,
			"receiver":              email,
			"notification_language": "en-US",
		}},
	}
	var resp payoutResponse
	if err := p.do(ctx, "create_payout", http.MethodPost, "v1/payments/payouts", body, &resp); err != nil {
		return nil, err
	}
	return &Payout{BatchID: resp.BatchHeader.PayoutBatchID, BatchStatus: resp.BatchHeader.BatchStatus}, nil
}

func (p *PayPal) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var s Subscription
	if err := p.do(ctx, "get_subscription", http.MethodGet, "v1/billing/subscriptions/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PayPal) CancelSubscription(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "Cancelled by staff"
	}
	path := "v1/billing/subscriptions/" + url.PathEscape(id) + "/cancel"
	return p.do(ctx, "cancel_subscription", http.MethodPost, path, map[string]string{"reason": reason}, nil)
}

func (p *PayPal) CreateWebhook(ctx context.Context, callbackURL string, eventTypes []string) (string, error) {
	if len(eventTypes) == 0 {
		eventTypes = []string{"*"}
	}
	types := make([]map[string]string, len(eventTypes))
	for i, name := range eventTypes {
		types[i] = map[string]string{"name": name}
	}
	var resp struct {
		ID string `json:"id"`
	}
	body := map[string]any{"url": callbackURL, "event_types": types}
	if err := p.do(ctx, "create_webhook", http.MethodPost, "v1/notifications/webhooks", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (p *PayPal) DeleteWebhook(ctx context.Context, id string) error {
	return p.do(ctx, "delete_webhook", http.MethodDelete, "v1/notifications/webhooks/"+url.PathEscape(id), nil, nil)
}

func (p *PayPal) VerifyWebhookSignature(ctx context.Context, in VerifyInput) (bool, error) {
	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.do(ctx, "verify_webhook", http.MethodPost, "v1/notifications/verify-webhook-signature", in, &resp); err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

type apiErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

// do performs one API call. Transport failures, timeouts, 429 and 5xx wrap
// models.ErrExternalUnavailable; any other 4xx is an *APIError.
func (p *PayPal) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, span := traces.StartSpan(ctx, "paypal."+op, traces.Operation(op))
	start := time.Now()
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		metrics.GatewayRequestsTotal.WithLabelValues(op, gatewayResult(err)).Inc()
		traces.End(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paypal %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, body)
	if err != nil {
		return fmt.Errorf("paypal %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paypal %s: %v", models.ErrExternalUnavailable, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: paypal %s: read response: %v", models.ErrExternalUnavailable, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		p.log.Warn("paypal unavailable", "operation", op, "status", resp.StatusCode)
		return fmt.Errorf("%w: paypal %s: status %d", models.ErrExternalUnavailable, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("paypal %s: decode response: %w", op, err)
		}
	}
	return nil
}

func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Name: http.StatusText(status)}
	var b apiErrorBody
	if json.Unmarshal(raw, &b) == nil {
		if b.Name != "" {
			apiErr.Name = b.Name
		}
		apiErr.Message = b.Message
		apiErr.DebugID = b.DebugID
		for _, d := range b.Details {
			apiErr.Issues = append(apiErr.Issues, d.Issue)
		}
	}
	return apiErr
}

func gatewayResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsRejection(err):
		return "rejected"
	default:
		return metrics.Result(err)
	}
}
