package jobs

import (
	"github.com/google/uuid"

	"github.com/inaiurai/settlement/internal/models"
)

// Predicate is one authorization rule evaluated against the caller.
type Predicate func(p models.Principal) bool

func IsOwner(owner uuid.UUID) Predicate {
	return func(p models.Principal) bool { return p.UserID == owner }
}

func IsStaff() Predicate {
	return func(p models.Principal) bool { return p.IsStaff }
}

// IsCounterparty matches either side of the contract.
func IsCounterparty(c *models.Contract) Predicate {
	return func(p models.Principal) bool {
		return p.UserID == c.CustomerID || p.UserID == c.FreelancerID
	}
}

func IsUserType(t models.UserType) Predicate {
	return func(p models.Principal) bool { return p.UserType == t }
}

func AnyOf(preds ...Predicate) Predicate {
	return func(p models.Principal) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}

func AllOf(preds ...Predicate) Predicate {
	return func(p models.Principal) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}
}

// Authorize returns models.ErrForbidden unless every predicate holds.
func Authorize(p models.Principal, preds ...Predicate) error {
	if !AllOf(preds...)(p) {
		return models.ErrForbidden
	}
	return nil
}
