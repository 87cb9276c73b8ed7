package service

import (
	"errors"
	"fmt"

	"member-registry/internal/domain"
	"member-registry/internal/repository"
)

var (
	// ErrMissingParameter indicates a required request field was empty.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrNotFound indicates the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the input was present but unacceptable.
	ErrValidation = errors.New("validation failed")
	// ErrUserAlreadyExists is returned when registering an email that is already taken.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrRefereeMismatch is returned when the acting referee holds neither referrer slot.
	ErrRefereeMismatch = errors.New("referee mismatch")
	// ErrUnauthorized indicates a missing or invalid caller identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller may not act on the record.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidToken indicates a bad, expired or spent password reset token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrDispatch indicates the mail adapter refused a message.
	ErrDispatch = errors.New("dispatch failed")
	// ErrPersistence indicates a storage backend failure.
	ErrPersistence = errors.New("persistence failure")
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Email string
	Role  domain.Role
}

// Name identifies the actor in audit entries.
func (a Actor) Name() string {
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}

func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}

func (a Actor) Anonymous() bool {
	return a.ID == ""
}

// userLookupError translates repository lookup errors into service errors.
func userLookupError(err error, notFoundMessage string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, notFoundMessage)
	}
	return persistenceError(err)
}

func persistenceError(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clone := *user
	clone.PasswordHash = ""
	return &clone
}

func sanitizeUsers(users []domain.User) []domain.User {
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users
}
