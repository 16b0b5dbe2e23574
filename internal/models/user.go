package models

import (
	"time"

	"github.com/google/uuid"
)

type UserType string

const (
	UserTypeCustomer   UserType = "CUSTOMER"
	UserTypeFreelancer UserType = "FREELANCER"
)

func (t UserType) Valid() bool {
	return t == UserTypeCustomer || t == UserTypeFreelancer
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	UserType     UserType  `json:"user_type"`
	IsStaff      bool      `json:"is_staff"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated caller as carried by a request token.
type Principal struct {
	UserID   uuid.UUID
	UserType UserType
	IsStaff  bool
}

func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, UserType: u.UserType, IsStaff: u.IsStaff}
}
