package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/inaiurai/settlement/internal/httpx"
)

// RateLimit shares one token bucket across every caller of the wrapped
// handler. Provider deliveries arrive from many addresses, so the bucket is
// not keyed by IP. A non-positive limit disables it.
func RateLimit(limit float64, burst int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				httpx.WriteJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests", Code: "RATE_LIMITED"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
