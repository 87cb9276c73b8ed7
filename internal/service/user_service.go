package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"member-registry/internal/domain"
	"member-registry/internal/idx"
	"member-registry/internal/notify"
	"member-registry/internal/repository"
	"member-registry/internal/storage"
	"member-registry/internal/token"
)

const (
	// MaxImageBytes caps profile image uploads.
	MaxImageBytes     = 5_000_000
	minPasswordLength = 8
)

// CreateUserInput is a registration request.
type CreateUserInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	Referrer1       string
	Referrer2       string
	MembershipPlan  string
	Profile         domain.Profile
}

// UpdateUserInput is a partial update. Nil fields are left untouched.
type UpdateUserInput struct {
	ID               string
	Email            *string
	Profile          domain.ProfilePatch
	Role             *domain.Role
	MembershipStatus *domain.MembershipStatus
	MembershipFee    *domain.MembershipFee
	MembershipPlan   *string
}

func (in UpdateUserInput) privileged() bool {
	return in.Role != nil || in.MembershipStatus != nil || in.MembershipFee != nil || in.MembershipPlan != nil
}

// LoginResult carries an access token for an authenticated user.
type LoginResult struct {
	Token string
	User  *domain.User
}

// UserService describes user lifecycle operations.
type UserService interface {
	Create(ctx context.Context, in CreateUserInput) (*domain.User, error)
	Update(ctx context.Context, actor Actor, in UpdateUserInput) (*domain.User, error)
	Delete(ctx context.Context, actor Actor, id string) error
	Get(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Count(ctx context.Context) (int64, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Authenticate(ctx context.Context, userID string) (Actor, error)
	ForgotPassword(ctx context.Context, email, resetURL string) error
	ChangePassword(ctx context.Context, actor Actor, rawToken, password, confirmPassword string) error
	UploadImage(ctx context.Context, filename string, size int64, body io.Reader, contentType string) (string, error)
	ListImages(ctx context.Context, actor Actor) ([]storage.ObjectInfo, error)
}

type UserConfig struct {
	// AdminEmails are granted the Admin role when they register.
	AdminEmails []string
	Logger      *logrus.Logger
}

type userService struct {
	cfg        UserConfig
	users      repository.UserRepository
	activity   ActivityService
	storage    storage.Service
	tokens     *token.Issuer
	dispatcher notify.Dispatcher
	composer   *notify.Composer
	admins     map[string]struct{}
}

func NewUserService(cfg UserConfig, users repository.UserRepository, activity ActivityService, store storage.Service, tokens *token.Issuer, dispatcher notify.Dispatcher, composer *notify.Composer) UserService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if email = domain.NormalizeEmail(email); email != "" {
			admins[email] = struct{}{}
		}
	}
	return &userService{
		cfg:        cfg,
		users:      users,
		activity:   activity,
		storage:    store,
		tokens:     tokens,
		dispatcher: dispatcher,
		composer:   composer,
		admins:     admins,
	}
}

func (s *userService) Create(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	if in.Password != in.ConfirmPassword {
		return nil, fmt.Errorf("%w: Passwords doesn't match, What a shame!", ErrValidation)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	email, err := normalizeAddress(in.Email, "email")
	if err != nil {
		return nil, err
	}
	referrer1, err := normalizeAddress(in.Referrer1, "referrer1")
	if err != nil {
		return nil, err
	}
	referrer2, err := normalizeAddress(in.Referrer2, "referrer2")
	if err != nil {
		return nil, err
	}
	if referrer1 == referrer2 {
		return nil, fmt.Errorf("%w: referrer1 and referrer2 must be different people", ErrValidation)
	}
	if referrer1 == email || referrer2 == email {
		return nil, fmt.Errorf("%w: you cannot refer yourself", ErrValidation)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: An account with that email already exists.", ErrUserAlreadyExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, persistenceError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := domain.RoleUser
	if _, ok := s.admins[email]; ok {
		role = domain.RoleAdmin
	}

	profile := in.Profile
	profile.Trim()

	user := &domain.User{
		ID:               idx.New(),
		MembershipID:     MembershipID(email),
		Email:            email,
		PasswordHash:     string(hash),
		Profile:          profile,
		Role:             role,
		MembershipStatus: domain.MembershipInactive,
		MembershipFee:    domain.FeeUnpaid,
		MembershipPlan:   strings.TrimSpace(in.MembershipPlan),
		Referrer1:        referrer1,
		Referrer2:        referrer2,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: An account with that email already exists.", ErrUserAlreadyExists)
		}
		return nil, persistenceError(err)
	}

	s.cfg.Logger.WithFields(logrus.Fields{
		"user_id":       user.ID,
		"membership_id": user.MembershipID,
	}).Info("user registered")
	return sanitizeUser(user), nil
}

func (s *userService) Update(ctx context.Context, actor Actor, in UpdateUserInput) (*domain.User, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: No User id provided!", ErrMissingParameter)
	}
	if actor.Anonymous() {
		return nil, ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, userLookupError(err, "No User with such id existing")
	}
	if actor.ID != user.ID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: you may only edit your own account", ErrForbidden)
	}
	if in.privileged() && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only an Admin can change role or membership", ErrForbidden)
	}

	if in.Email != nil {
		email, err := normalizeAddress(*in.Email, "email")
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			if _, err := s.users.GetByEmail(ctx, email); err == nil {
				return nil, fmt.Errorf("%w: An account with that email already exists.", ErrUserAlreadyExists)
			} else if !errors.Is(err, repository.ErrNotFound) {
				return nil, persistenceError(err)
			}
			user.Email = email
		}
	}
	if err := applyMembership(user, in); err != nil {
		return nil, err
	}

	previousImage := user.ProfileImage
	in.Profile.Apply(&user.Profile)

	if err := s.users.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, fmt.Errorf("%w: An account with that email already exists.", ErrUserAlreadyExists)
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: No User with such id existing", ErrNotFound)
		default:
			return nil, persistenceError(err)
		}
	}

	if previousImage != "" && previousImage != user.ProfileImage {
		s.deleteImage(ctx, user.ID, previousImage)
	}

	s.activity.Audit(ctx, actor.Name(), domain.AuditEdited, actor.Name()+" edited "+user.Company)
	return sanitizeUser(user), nil
}

func (s *userService) Delete(ctx context.Context, actor Actor, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: No User id provided!", ErrMissingParameter)
	}
	if actor.Anonymous() {
		return ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return userLookupError(err, "No User with such id existing")
	}
	if actor.ID != user.ID && !actor.IsAdmin() {
		return fmt.Errorf("%w: you may only delete your own account", ErrForbidden)
	}

	if err := s.users.Delete(ctx, user.ID); err != nil {
		return userLookupError(err, "No User with such id existing")
	}

	if user.ProfileImage != "" {
		s.deleteImage(ctx, user.ID, user.ProfileImage)
	}

	s.activity.Audit(ctx, actor.Name(), domain.AuditDeleted, actor.Name()+" deleted "+user.Company)
	return nil
}

func (s *userService) Get(ctx context.Context, id string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: No User id provided!", ErrMissingParameter)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, userLookupError(err, "No User with such id existing")
	}
	return sanitizeUser(user), nil
}

func (s *userService) List(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx, repository.UserFilter{})
	if err != nil {
		return nil, persistenceError(err)
	}
	return sanitizeUsers(users), nil
}

func (s *userService) Count(ctx context.Context) (int64, error) {
	count, err := s.users.Count(ctx)
	if err != nil {
		return 0, persistenceError(err)
	}
	return count, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrMissingParameter)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil, persistenceError(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}

	signed, err := s.tokens.IssueAccess(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &LoginResult{Token: signed, User: sanitizeUser(user)}, nil
}

// Authenticate resolves an access token subject against the stored record, so
// role changes and deletions apply to tokens that are already issued.
func (s *userService) Authenticate(ctx context.Context, userID string) (Actor, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Actor{}, ErrUnauthorized
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Actor{}, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
		}
		return Actor{}, persistenceError(err)
	}
	return Actor{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

func (s *userService) ForgotPassword(ctx context.Context, email, resetURL string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: No user email provided!", ErrMissingParameter)
	}
	resetURL = strings.TrimSpace(resetURL)
	if resetURL == "" {
		return fmt.Errorf("%w: No reset url provided!", ErrMissingParameter)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return userLookupError(err, "No User with such email existing")
	}

	raw, err := s.tokens.IssueReset(user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	link := resetLink(resetURL, raw)

	message, err := s.composer.PasswordReset(user.Email, link)
	if err == nil {
		err = s.dispatcher.Deliver(ctx, message)
	}
	if err != nil {
		s.cfg.Logger.WithField("user_id", user.ID).Errorf("send password reset email: %v", err)
		return fmt.Errorf("%w: There was an error while sending your password reset email.", ErrDispatch)
	}
	return nil
}

func (s *userService) ChangePassword(ctx context.Context, actor Actor, rawToken, password, confirmPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return fmt.Errorf("%w: No token provided!", ErrMissingParameter)
	}

	claims, err := s.tokens.ParseReset(rawToken)
	if err != nil {
		return fmt.Errorf("%w: Invalid Token!", ErrInvalidToken)
	}
	user, err := s.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: Invalid Token!", ErrInvalidToken)
		}
		return persistenceError(err)
	}
	if !claims.Matches(user.PasswordHash) {
		return fmt.Errorf("%w: Invalid Token!", ErrInvalidToken)
	}

	if password != confirmPassword {
		return fmt.Errorf("%w: Password doesn't match, What a shame!", ErrValidation)
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, string(hash)); err != nil {
		return userLookupError(err, "No User with such id existing")
	}

	who := claims.Email
	if !actor.Anonymous() {
		who = actor.Name()
	}
	s.activity.Audit(ctx, who, domain.AuditChangedPassword, who+" changed password")
	return nil
}

func (s *userService) UploadImage(ctx context.Context, filename string, size int64, body io.Reader, contentType string) (string, error) {
	if body == nil || size <= 0 {
		return "", fmt.Errorf("%w: No file uploaded!", ErrMissingParameter)
	}
	if size > MaxImageBytes {
		return "", fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, MaxImageBytes)
	}
	if s.storage == nil {
		return "", fmt.Errorf("%w: object storage is not configured", ErrPersistence)
	}

	objectURL, err := s.storage.Upload(ctx, filename, io.LimitReader(body, MaxImageBytes), contentType)
	if err != nil {
		return "", persistenceError(err)
	}
	return objectURL, nil
}

func (s *userService) ListImages(ctx context.Context, actor Actor) ([]storage.ObjectInfo, error) {
	if actor.Anonymous() {
		return nil, ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if s.storage == nil {
		return []storage.ObjectInfo{}, nil
	}
	objects, err := s.storage.ListObjects(ctx, "")
	if err != nil {
		return nil, persistenceError(err)
	}
	return objects, nil
}

// deleteImage removes an image the user no longer references. Objects still
// referenced by another record are kept.
func (s *userService) deleteImage(ctx context.Context, userID, objectURL string) {
	if s.storage == nil {
		return
	}
	logger := s.cfg.Logger.WithFields(logrus.Fields{
		"user_id": userID,
		"url":     objectURL,
	})

	refs, err := s.users.CountByProfileImage(ctx, objectURL)
	if err != nil {
		logger.Warnf("check profile image references: %v", err)
		return
	}
	if refs > 0 {
		logger.Info("profile image still referenced, keeping object")
		return
	}
	if err := s.storage.Delete(ctx, objectURL); err != nil {
		logger.Warnf("delete profile image: %v", err)
	}
}

// MembershipID derives the public membership number from an email address.
func MembershipID(email string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeEmail(email)))
	return "MBR-" + strings.ToUpper(hex.EncodeToString(sum[:4]))
}

func applyMembership(user *domain.User, in UpdateUserInput) error {
	if in.Role != nil {
		switch *in.Role {
		case domain.RoleUser, domain.RoleAdmin:
			user.Role = *in.Role
		default:
			return fmt.Errorf("%w: unknown role %q", ErrValidation, *in.Role)
		}
	}
	if in.MembershipStatus != nil {
		switch *in.MembershipStatus {
		case domain.MembershipActive, domain.MembershipInactive:
			user.MembershipStatus = *in.MembershipStatus
		default:
			return fmt.Errorf("%w: unknown membership status %q", ErrValidation, *in.MembershipStatus)
		}
	}
	if in.MembershipFee != nil {
		switch *in.MembershipFee {
		case domain.FeePaid, domain.FeeUnpaid:
			user.MembershipFee = *in.MembershipFee
		default:
			return fmt.Errorf("%w: unknown membership fee %q", ErrValidation, *in.MembershipFee)
		}
	}
	if in.MembershipPlan != nil {
		user.MembershipPlan = strings.TrimSpace(*in.MembershipPlan)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	return nil
}

// normalizeAddress requires a bare email address and returns it lower-cased.
func normalizeAddress(raw, field string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if email == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %s is not a valid email address", ErrValidation, field)
	}
	return email, nil
}

func resetLink(base, raw string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(raw)
}
