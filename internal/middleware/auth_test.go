package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/inaiurai/settlement/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	principal models.Principal
	err       error
	gotToken  string
}

func (s *stubValidator) ValidateToken(_ context.Context, token string) (models.Principal, error) {
	s.gotToken = token
	return s.principal, s.err
}

// okHandler writes the caller's user id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p, ok := PrincipalFromCtx(r.Context()); ok {
		w.Write([]byte(p.UserID.String()))
	}
})

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate_ValidToken(t *testing.T) {
	id := uuid.New()
	v := &stubValidator{principal: models.Principal{UserID: id, UserType: models.UserTypeCustomer}}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	Authenticate(v)(okHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != id.String() {
		t.Errorf("principal: got %q, want %q", body, id.String())
	}
	if v.gotToken != "good-token" {
		t.Errorf("token: got %q, want %q", v.gotToken, "good-token")
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
	}{
		{"missing header", "", nil},
		{"wrong scheme", "Basic abc", nil},
		{"empty token", "Bearer ", nil},
		{"invalid token", "Bearer bad", errors.New("signature is invalid")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubValidator{err: tc.err}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Authenticate(v)(okHandler).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthenticate_CaseInsensitiveScheme(t *testing.T) {
	v := &stubValidator{principal: models.Principal{UserID: uuid.New()}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer tok")
	rec := httptest.NewRecorder()
	Authenticate(v)(okHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireStaff
// ---------------------------------------------------------------------------

func TestRequireStaff(t *testing.T) {
	cases := []struct {
		name string
		ctx  func(context.Context) context.Context
		want int
	}{
		{"no principal", func(c context.Context) context.Context { return c }, http.StatusUnauthorized},
		{"regular user", func(c context.Context) context.Context {
			return WithPrincipal(c, models.Principal{UserID: uuid.New()})
		}, http.StatusForbidden},
		{"staff", func(c context.Context) context.Context {
			return WithPrincipal(c, models.Principal{UserID: uuid.New(), IsStaff: true})
		}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(tc.ctx(req.Context()))
			rec := httptest.NewRecorder()
			RequireStaff(okHandler).ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Errorf("status: got %d, want %d", rec.Code, tc.want)
			}
		})
	}
}
