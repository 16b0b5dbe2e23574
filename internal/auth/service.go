// Package auth registers users, provisions their wallets and issues the
// bearer tokens the middleware validates.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/inaiurai/settlement/internal/database"
	"github.com/inaiurai/settlement/internal/models"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 8
)

// UserStore is implemented by Repository.
type UserStore interface {
	Create(ctx context.Context, tx pgx.Tx, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// WalletProvisioner creates the user's wallet in the registration transaction.
type WalletProvisioner interface {
	EnsureWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	UserType    models.UserType
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (models.Principal, error)
	Me(ctx context.Context, p models.Principal) (*models.User, error)
}

type service struct {
	db      database.TxBeginner
	users   UserStore
	wallets WalletProvisioner
	secret  []byte
	now     func() time.Time
	log     *slog.Logger
}

func NewService(db database.TxBeginner, users UserStore, wallets WalletProvisioner, secret string, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, users: users, wallets: wallets, secret: []byte(secret), now: time.Now, log: log}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	UserType models.UserType `json:"user_type"`
	IsStaff  bool            `json:"is_staff"`
}

// Register creates the user and its wallet together; neither exists without
// the other.
func (s *service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", models.ErrValidation)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", models.ErrValidation, minPasswordLength)
	}
	if !in.UserType.Valid() {
		return nil, fmt.Errorf("%w: user_type must be CUSTOMER or FREELANCER", models.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: string(hash),
		UserType:     in.UserType,
	}
	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.users.Create(ctx, tx, u); err != nil {
			return err
		}
		return s.wallets.EnsureWallet(ctx, tx, u.ID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user", u.ID, "user_type", u.UserType)
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, models.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u)
}

func (s *service) issueToken(u *models.User) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserType: u.UserType,
		IsStaff:  u.IsStaff,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (models.Principal, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Principal{}, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return models.Principal{}, errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.Principal{}, err
	}
	return models.Principal{UserID: id, UserType: c.UserType, IsStaff: c.IsStaff}, nil
}

func (s *service) Me(ctx context.Context, p models.Principal) (*models.User, error) {
	return s.users.GetByID(ctx, p.UserID)
}
