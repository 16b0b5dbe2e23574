package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/inaiurai/settlement/internal/httpx"
	"github.com/inaiurai/settlement/internal/models"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal"

// TokenValidator is implemented by auth.Service.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (models.Principal, error)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	httpx.WriteJSON(w, http.StatusUnauthorized, errorBody{Error: msg, Code: "UNAUTHORIZED"})
}

// Authenticate validates the Bearer token and stores the caller's Principal
// in the request context.
func Authenticate(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeUnauthorized(w, "missing or malformed Authorization header")
				return
			}
			p, err := v.ValidateToken(r.Context(), raw)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireStaff must run after Authenticate.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromCtx(r.Context())
		if !ok {
			writeUnauthorized(w, "unauthorized")
			return
		}
		if !p.IsStaff {
			httpx.WriteError(w, nil, models.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFromCtx returns the authenticated caller.
func PrincipalFromCtx(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(ctxPrincipalKey).(models.Principal)
	return p, ok
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
