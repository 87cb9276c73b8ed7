package repository

import (
	"context"
	"errors"

	"member-registry/internal/domain"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness or precondition check.
	ErrConflict = errors.New("record conflict")
)

// UserFilter narrows List results. Zero values match everything.
type UserFilter struct {
	Role            domain.Role
	PendingReferral bool
}

// ReferralUpdate describes a compare-and-set on one referee slot.
type ReferralUpdate struct {
	UserID    string
	RefereeID string
	Slot      domain.ReferrerSlot
	Approved  bool
	// AutoActivate flips membership status with the flag: active once both
	// slots are confirmed, inactive on rejection.
	AutoActivate bool
}

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
	Count(ctx context.Context) (int64, error)
	// CountByProfileImage reports how many users reference objectURL.
	CountByProfileImage(ctx context.Context, objectURL string) (int64, error)
	Update(ctx context.Context, user *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
	// SetReferral atomically updates the flag of upd.Slot only while the slot
	// still holds upd.RefereeID, and returns the user as stored afterwards.
	SetReferral(ctx context.Context, upd ReferralUpdate) (*domain.User, error)
}
