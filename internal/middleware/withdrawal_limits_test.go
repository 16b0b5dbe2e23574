package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/models"
)

type stubHistory struct {
	withdrawn decimal.Decimal
	err       error
	since     time.Time
}

func (s *stubHistory) WithdrawnSince(_ context.Context, _ uuid.UUID, since time.Time) (decimal.Decimal, error) {
	s.since = since
	return s.withdrawn, s.err
}

// limits200 echoes the body it received, proving the middleware restored it.
var limits200 = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	if amt, ok := WithdrawalAmountFromCtx(r.Context()); ok {
		w.Header().Set("X-Amount", amt.StringFixed(2))
	}
	w.Write(b)
})

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func serveLimits(h *stubHistory, maxAmount, daily, body string) *httptest.ResponseRecorder {
	handler := WithdrawalLimits(h, d(maxAmount), d(daily))(limits200)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req = req.WithContext(WithPrincipal(req.Context(), models.Principal{UserID: uuid.New()}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// 1. Within limits -> handler sees the original body
// ---------------------------------------------------------------------------

func TestWithdrawalLimits_WithinLimits(t *testing.T) {
	original := nowFn
	nowFn = func() time.Time { return time.Date(2025, 6, 1, 18, 45, 0, 0, time.UTC) }
	defer func() { nowFn = original }()

	h := &stubHistory{withdrawn: d("100")}
	body := `{"amount":"250.00"}`
	rec := serveLimits(h, "1000", "500", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != body {
		t.Errorf("body: got %q, want %q", rec.Body.String(), body)
	}
	if got := rec.Header().Get("X-Amount"); got != "250.00" {
		t.Errorf("amount in context: got %q", got)
	}
	if want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC); !h.since.Equal(want) {
		t.Errorf("window start: got %s, want %s", h.since, want)
	}
}

// ---------------------------------------------------------------------------
// 2. Per-withdrawal cap
// ---------------------------------------------------------------------------

func TestWithdrawalLimits_ExceedsMax(t *testing.T) {
	rec := serveLimits(&stubHistory{withdrawn: decimal.Zero}, "100", "0", `{"amount":100.01}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "exceeds per-withdrawal limit") {
		t.Errorf("expected per-withdrawal message, got: %s", rec.Body.String())
	}
}

func TestWithdrawalLimits_AtMaxIsAllowed(t *testing.T) {
	rec := serveLimits(&stubHistory{withdrawn: decimal.Zero}, "100", "0", `{"amount":"100.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 3. Daily window
// ---------------------------------------------------------------------------

func TestWithdrawalLimits_ExceedsDaily(t *testing.T) {
	// 450 already out + 60 requested = 510 > 500
	rec := serveLimits(&stubHistory{withdrawn: d("450")}, "0", "500", `{"amount":"60"}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "exceeds daily limit") {
		t.Errorf("expected daily limit message, got: %s", rec.Body.String())
	}
}

func TestWithdrawalLimits_HistoryError(t *testing.T) {
	rec := serveLimits(&stubHistory{err: errors.New("db down")}, "0", "500", `{"amount":"1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 4. Malformed input
// ---------------------------------------------------------------------------

func TestWithdrawalLimits_BadInput(t *testing.T) {
	for _, body := range []string{`not json`, `{"amount":0}`, `{"amount":"-5"}`, `{}`} {
		rec := serveLimits(&stubHistory{}, "100", "100", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}
