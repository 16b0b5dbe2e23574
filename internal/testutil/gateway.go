package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/gateway"
)

// PayoutCall records one CreatePayout invocation.
type PayoutCall struct {
	Email     string
	Amount    decimal.Decimal
	Reference string
}

// Gateway is a scriptable gateway.Gateway. Zero value answers every call
// successfully.
type Gateway struct {
	mu sync.Mutex

	OrderErr      error
	CaptureResult bool
	CaptureErr    error
	PayoutStatus  string
	PayoutErr     error
	VerifyResult  bool
	VerifyErr     error
	Subscriptions map[string]string

	orders   int
	Payouts  []PayoutCall
	Captures []string
	Webhooks map[string]string
}

var _ gateway.Gateway = (*Gateway)(nil)

func (g *Gateway) CreateFundingOrder(ctx context.Context, amount decimal.Decimal) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.OrderErr != nil {
		return nil, g.OrderErr
	}
	g.orders++
	id := fmt.Sprintf("ORDER-%d", g.orders)
	return &gateway.Order{ID: id, Status: "CREATED", ApproveURL: "https://paypal.test/approve/" + id}, nil
}

func (g *Gateway) CaptureOrder(ctx context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Captures = append(g.Captures, orderID)
	return g.CaptureResult, g.CaptureErr
}

func (g *Gateway) CreatePayout(ctx context.Context, email string, amount decimal.Decimal, reference string) (*gateway.Payout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Payouts = append(g.Payouts, PayoutCall{Email: email, Amount: amount, Reference: reference})
	if g.PayoutErr != nil {
		return nil, g.PayoutErr
	}
	status := g.PayoutStatus
	if status == "" {
		status = "PENDING"
	}
	return &gateway.Payout{BatchID: "BATCH-" + reference, BatchStatus: status}, nil
}

func (g *Gateway) GetSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.Subscriptions[id]
	if !ok {
		return nil, &gateway.APIError{StatusCode: 404, Name: "RESOURCE_NOT_FOUND"}
	}
	return &gateway.Subscription{ID: id, Status: status}, nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.Subscriptions[id]; !ok {
		return &gateway.APIError{StatusCode: 404, Name: "RESOURCE_NOT_FOUND"}
	}
	g.Subscriptions[id] = "CANCELLED"
	return nil
}

func (g *Gateway) CreateWebhook(ctx context.Context, url string, eventTypes []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Webhooks == nil {
		g.Webhooks = map[string]string{}
	}
	id := fmt.Sprintf("WH-%d", len(g.Webhooks)+1)
	g.Webhooks[id] = url
	return id, nil
}

func (g *Gateway) DeleteWebhook(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.Webhooks[id]; !ok {
		return &gateway.APIError{StatusCode: 404, Name: "RESOURCE_NOT_FOUND"}
	}
	delete(g.Webhooks, id)
	return nil
}

func (g *Gateway) VerifyWebhookSignature(ctx context.Context, in gateway.VerifyInput) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.VerifyResult, g.VerifyErr
}

func (g *Gateway) PayoutCalls() []PayoutCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PayoutCall(nil), g.Payouts...)
}
