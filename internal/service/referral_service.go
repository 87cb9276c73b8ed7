package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"member-registry/internal/domain"
	"member-registry/internal/notify"
	"member-registry/internal/repository"
)

// ReferralOutcome describes the result of a referee decision.
type ReferralOutcome struct {
	User          *domain.User
	Slot          domain.ReferrerSlot
	Approved      bool
	Message       string
	FullyReferred bool
}

// ReferralService drives the two-referee confirmation workflow.
type ReferralService interface {
	Confirm(ctx context.Context, userID, refereeID string) (*ReferralOutcome, error)
	Reject(ctx context.Context, userID, refereeID string) (*ReferralOutcome, error)
	Pending(ctx context.Context, userID string) (*domain.User, error)
	ListPending(ctx context.Context) ([]domain.User, error)
	ValidateReferee(ctx context.Context, email string) error
	AlertReferees(ctx context.Context, userID, refereeURL string) error
}

type ReferralConfig struct {
	AutoActivate bool
	Logger       *logrus.Logger
	Tracer       trace.Tracer
}

type referralService struct {
	cfg        ReferralConfig
	users      repository.UserRepository
	activity   ActivityService
	dispatcher notify.Dispatcher
	composer   *notify.Composer
}

func NewReferralService(cfg ReferralConfig, users repository.UserRepository, activity ActivityService, dispatcher notify.Dispatcher, composer *notify.Composer) ReferralService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("member-registry/referral")
	}
	return &referralService{
		cfg:        cfg,
		users:      users,
		activity:   activity,
		dispatcher: dispatcher,
		composer:   composer,
	}
}

func (s *referralService) Confirm(ctx context.Context, userID, refereeID string) (*ReferralOutcome, error) {
	return s.decide(ctx, userID, refereeID, true)
}

func (s *referralService) Reject(ctx context.Context, userID, refereeID string) (*ReferralOutcome, error) {
	return s.decide(ctx, userID, refereeID, false)
}

func (s *referralService) decide(ctx context.Context, userID, refereeID string, approved bool) (*ReferralOutcome, error) {
	ctx, span := s.cfg.Tracer.Start(ctx, "referral.decide", trace.WithAttributes(
		attribute.String("user.id", strings.TrimSpace(userID)),
		attribute.Bool("referral.approved", approved),
	))
	defer span.End()

	outcome, err := s.record(ctx, userID, refereeID, approved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("referral.slot", outcome.Slot.Ordinal()),
		attribute.Bool("referral.fully_referred", outcome.FullyReferred),
	)
	return outcome, nil
}

func (s *referralService) record(ctx context.Context, userID, refereeID string, approved bool) (*ReferralOutcome, error) {
	userID = strings.TrimSpace(userID)
	refereeID = strings.TrimSpace(refereeID)
	if userID == "" {
		return nil, fmt.Errorf("%w: No User id provided!", ErrMissingParameter)
	}
	if refereeID == "" {
		return nil, fmt.Errorf("%w: No referee id provided!", ErrMissingParameter)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userLookupError(err, "No User with such id existing")
	}

	slot := user.ReferrerSlot(refereeID)
	if slot == domain.SlotNone {
		return nil, fmt.Errorf("%w: %s is not a referee of this applicant", ErrRefereeMismatch, domain.NormalizeEmail(refereeID))
	}

	logger := s.cfg.Logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"slot":     slot.Ordinal(),
		"approved": approved,
	})

	outcome := &ReferralOutcome{
		Slot:     slot,
		Approved: approved,
		Message:  referralMessage(slot, approved),
	}

	var persistErr error
	updated, err := s.users.SetReferral(ctx, repository.ReferralUpdate{
		UserID:       user.ID,
		RefereeID:    user.ReferrerIdentifier(slot),
		Slot:         slot,
		Approved:     approved,
		AutoActivate: s.cfg.AutoActivate,
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: No User with such id existing", ErrNotFound)
	case errors.Is(err, repository.ErrConflict):
		return nil, fmt.Errorf("%w: referee no longer holds the %s slot", ErrRefereeMismatch, slot.Ordinal())
	case err != nil:
		logger.Errorf("update referral flag: %v", err)
		persistErr = persistenceError(err)
		updated = user
	}
	outcome.User = sanitizeUser(updated)
	outcome.FullyReferred = updated.FullyReferred()

	kind := domain.NotificationReferralConfirmed
	if !approved {
		kind = domain.NotificationReferralRejected
	}
	if err := s.activity.Notify(ctx, user.ID, kind, outcome.Message); err != nil {
		logger.Warnf("record notification: %v", err)
	}

	dispatchErr := s.sendStatusEmail(ctx, user, outcome.Message)
	if dispatchErr != nil {
		logger.Errorf("send referral email: %v", dispatchErr)
	}

	if persistErr != nil {
		return nil, persistErr
	}
	if dispatchErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatch, dispatchErr)
	}

	logger.Info("referral decision recorded")
	return outcome, nil
}

func (s *referralService) sendStatusEmail(ctx context.Context, user *domain.User, message string) error {
	email, err := s.composer.ReferralStatus(user.Email, user.Company, message)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, email)
}

func (s *referralService) Pending(ctx context.Context, userID string) (*domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: No User id provided!", ErrMissingParameter)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userLookupError(err, "No User with such id existing")
	}
	if user.FullyReferred() {
		return nil, fmt.Errorf("%w: No User with such id existing", ErrNotFound)
	}
	return sanitizeUser(user), nil
}

func (s *referralService) ListPending(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx, repository.UserFilter{Role: domain.RoleUser, PendingReferral: true})
	if err != nil {
		return nil, persistenceError(err)
	}
	return sanitizeUsers(users), nil
}

func (s *referralService) ValidateReferee(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: No referee email provided!", ErrMissingParameter)
	}
	referee, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return userLookupError(err, invalidRefereeMessage)
	}
	if referee.MembershipFee != domain.FeePaid || referee.MembershipStatus != domain.MembershipActive {
		return fmt.Errorf("%w: %s", ErrNotFound, invalidRefereeMessage)
	}
	return nil
}

// AlertReferees queues an approve/reject request to both referees and then
// tells the applicant, synchronously, that registration has begun.
func (s *referralService) AlertReferees(ctx context.Context, userID, refereeURL string) error {
	userID = strings.TrimSpace(userID)
	refereeURL = strings.TrimSpace(refereeURL)
	if userID == "" {
		return fmt.Errorf("%w: No User id provided!", ErrMissingParameter)
	}
	if refereeURL == "" {
		return fmt.Errorf("%w: No referrer url provided!", ErrMissingParameter)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return userLookupError(err, "No User with such id existing")
	}

	link := refereeURL + user.ID
	logger := s.cfg.Logger.WithField("user_id", user.ID)
	for _, referee := range []string{user.Referrer1, user.Referrer2} {
		if referee == "" {
			continue
		}
		email, err := s.composer.RefereeAlert(referee, user.Company, withAction(link, "approve"), withAction(link, "reject"))
		if err == nil {
			err = s.dispatcher.Enqueue(ctx, email)
		}
		if err != nil {
			logger.WithField("referee", referee).Errorf("queue referee alert: %v", err)
		}
	}

	email, err := s.composer.RegistrationStarted(user.Email, user.Company)
	if err == nil {
		err = s.dispatcher.Deliver(ctx, email)
	}
	if err != nil {
		logger.Errorf("send registration email: %v", err)
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return nil
}

const invalidRefereeMessage = "The referee is either invalid or not fully paid"

func referralMessage(slot domain.ReferrerSlot, approved bool) string {
	verb := "confirmed"
	if !approved {
		verb = "rejected"
	}
	return fmt.Sprintf("Your membership application has been %s by your %s referee.", verb, slot.Ordinal())
}

func withAction(link, action string) string {
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	return link + sep + "action=" + action
}
