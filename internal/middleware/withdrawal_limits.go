package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/httpx"
	"github.com/inaiurai/settlement/internal/models"
)

const ctxWithdrawalKey contextKey = "withdrawal_amount"

// WithdrawalHistory is implemented by ledger.Service.
type WithdrawalHistory interface {
	WithdrawnSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

type withdrawalPeek struct {
	Amount decimal.Decimal `json:"amount"`
}

// WithdrawalAmountFromCtx returns the amount parsed by WithdrawalLimits.
func WithdrawalAmountFromCtx(ctx context.Context) (decimal.Decimal, bool) {
	d, ok := ctx.Value(ctxWithdrawalKey).(decimal.Decimal)
	return d, ok
}

// WithdrawalLimits rejects a withdrawal above maxAmount, or one that would
// push the caller's withdrawals since 00:00 UTC above dailyLimit. A zero limit
// disables that check. The body is restored for the handler.
//
// The daily check here is an early rejection only. PaymentService.Withdraw
// repeats it under the wallet row lock.
func WithdrawalLimits(history WithdrawalHistory, maxAmount, dailyLimit decimal.Decimal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromCtx(r.Context())
			if !ok {
				writeUnauthorized(w, "unauthorized")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			r.Body.Close()
			if err != nil {
				httpx.WriteError(w, nil, fmt.Errorf("%w: failed to read body", models.ErrValidation))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var peek withdrawalPeek
			if err := json.Unmarshal(body, &peek); err != nil {
				httpx.WriteError(w, nil, fmt.Errorf("%w: invalid JSON body", models.ErrValidation))
				return
			}
			if !peek.Amount.IsPositive() {
				httpx.WriteError(w, nil, fmt.Errorf("%w: amount must be > 0", models.ErrValidation))
				return
			}
			if maxAmount.IsPositive() && peek.Amount.GreaterThan(maxAmount) {
				httpx.WriteError(w, nil, fmt.Errorf("%w: amount %s exceeds per-withdrawal limit %s",
					models.ErrForbidden, peek.Amount.StringFixed(2), maxAmount.StringFixed(2)))
				return
			}
			if dailyLimit.IsPositive() {
				withdrawn, err := history.WithdrawnSince(r.Context(), p.UserID, startOfDay(nowFn()))
				if err != nil {
					httpx.WriteError(w, nil, fmt.Errorf("check daily withdrawals: %w", err))
					return
				}
				if withdrawn.Add(peek.Amount).GreaterThan(dailyLimit) {
					httpx.WriteError(w, nil, fmt.Errorf("%w: withdrawn today %s + %s exceeds daily limit %s",
						models.ErrForbidden, withdrawn.StringFixed(2), peek.Amount.StringFixed(2), dailyLimit.StringFixed(2)))
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxWithdrawalKey, peek.Amount)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// nowFn is swapped in tests.
var nowFn = time.Now

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
