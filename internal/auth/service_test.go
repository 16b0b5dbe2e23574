package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/testutil"
	"github.com/inaiurai/settlement/internal/wallet"
)

const testSecret = "test-secret"

func newService(t *testing.T) (*service, *testutil.Store) {
	t.Helper()
	store := testutil.NewStore()
	w := wallet.NewService(store.Wallets(), store.Transactions())
	svc := NewService(store, store.Users(), w, testSecret, nil)
	return svc, store
}

func register(t *testing.T, svc *service, email string, ut models.UserType) *models.User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{Email: email, Password: "correct-horse", UserType: ut})
	require.NoError(t, err)
	return u
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegister_ProvisionsWallet(t *testing.T) {
	svc, store := newService(t)

	u := register(t, svc, " Alice@Example.com ", models.UserTypeFreelancer)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	w, found, err := wallet.NewService(store.Wallets(), store.Transactions()).GetWallet(context.Background(), u.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, w.Balance.IsZero())
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	svc, _ := newService(t)
	register(t, svc, "bob@example.com", models.UserTypeCustomer)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "bob@example.com", Password: "another-pass", UserType: models.UserTypeCustomer})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegister_WalletFailureRollsBackUser(t *testing.T) {
	svc, store := newService(t)
	store.FailNext("Ensure", testutil.ErrInjected)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "carol@example.com", Password: "password1", UserType: models.UserTypeCustomer})
	require.ErrorIs(t, err, testutil.ErrInjected)

	_, err = store.Users().GetByEmail(context.Background(), "carol@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService(t)
	cases := []RegisterInput{
		{Email: "not-an-email", Password: "password1", UserType: models.UserTypeCustomer},
		{Email: "d@example.com", Password: "short", UserType: models.UserTypeCustomer},
		{Email: "d@example.com", Password: "password1", UserType: "ADMIN"},
	}
	for _, in := range cases {
		_, err := svc.Register(context.Background(), in)
		assert.ErrorIs(t, err, models.ErrValidation, "%+v", in)
	}
}

// ---------------------------------------------------------------------------
// Login and tokens
// ---------------------------------------------------------------------------

func TestLogin_RoundTripsPrincipal(t *testing.T) {
	svc, _ := newService(t)
	u := register(t, svc, "erin@example.com", models.UserTypeFreelancer)
	ctx := context.Background()

	token, err := svc.Login(ctx, "ERIN@example.com", "correct-horse")
	require.NoError(t, err)

	p, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: u.ID, UserType: models.UserTypeFreelancer}, p)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newService(t)
	register(t, svc, "frank@example.com", models.UserTypeCustomer)
	ctx := context.Background()

	_, err := svc.Login(ctx, "frank@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc, _ := newService(t)
	u := &models.User{UserType: models.UserTypeCustomer, IsStaff: true}
	ctx := context.Background()

	token, err := svc.issueToken(u)
	require.NoError(t, err)
	p, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, p.IsStaff)

	other := NewService(nil, nil, nil, "other-secret", nil)
	_, err = other.ValidateToken(ctx, token)
	assert.Error(t, err, "wrong secret")

	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, err := svc.issueToken(u)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.ValidateToken(ctx, expired)
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: u.ID.String()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(ctx, unsigned)
	assert.Error(t, err, "alg none")
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func TestHandler_RegisterAndLogin(t *testing.T) {
	svc, _ := newService(t)
	mux := http.NewServeMux()
	NewHandler(svc, nil).Register(mux)

	do := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec
	}

	rec := do("/v1/auth/register", `{"email":"gina@example.com","password":"password1","user_type":"CUSTOMER"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	rec = do("/v1/auth/register", `{"email":"gina@example.com","password":"password1","user_type":"CUSTOMER"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do("/v1/auth/register", `{"email":"gina@example.com","password":"password1","user_type":"ROBOT"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do("/v1/auth/login", `{"email":"gina@example.com","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)

	rec = do("/v1/auth/login", `{"email":"gina@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
