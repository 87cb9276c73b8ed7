package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"member-registry/internal/domain"
	"member-registry/internal/idx"
	"member-registry/internal/repository"
)

// ActivityService records and exposes in-app notifications and the audit log.
type ActivityService interface {
	Notify(ctx context.Context, userID string, kind domain.NotificationKind, message string) error
	Notifications(ctx context.Context, actor Actor) ([]domain.Notification, error)
	MarkRead(ctx context.Context, actor Actor, id string) error
	Audit(ctx context.Context, actor string, action domain.AuditAction, detail string)
	AuditLog(ctx context.Context, actor Actor, limit int) ([]domain.AuditEntry, error)
}

type activityService struct {
	notifications repository.NotificationRepository
	audit         repository.AuditRepository
	logger        *logrus.Logger
}

func NewActivityService(notifications repository.NotificationRepository, audit repository.AuditRepository, logger *logrus.Logger) ActivityService {
	if logger == nil {
		logger = logrus.New()
	}
	return &activityService{
		notifications: notifications,
		audit:         audit,
		logger:        logger,
	}
}

func (s *activityService) Notify(ctx context.Context, userID string, kind domain.NotificationKind, message string) error {
	n := &domain.Notification{
		ID:        idx.New(),
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return persistenceError(err)
	}
	return nil
}

func (s *activityService) Notifications(ctx context.Context, actor Actor) ([]domain.Notification, error) {
	if actor.Anonymous() {
		return nil, ErrUnauthorized
	}
	list, err := s.notifications.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return list, nil
}

func (s *activityService) MarkRead(ctx context.Context, actor Actor, id string) error {
	if actor.Anonymous() {
		return ErrUnauthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: No notification id provided!", ErrMissingParameter)
	}
	if err := s.notifications.MarkRead(ctx, id, actor.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: No notification with such id existing", ErrNotFound)
		}
		return persistenceError(err)
	}
	return nil
}

// Audit writes an entry for the user entity. Failures are logged only.
func (s *activityService) Audit(ctx context.Context, actor string, action domain.AuditAction, detail string) {
	entry := &domain.AuditEntry{
		ID:        idx.New(),
		Entity:    "user",
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.WithFields(logrus.Fields{
			"actor":  actor,
			"action": action,
		}).Errorf("write audit entry: %v", err)
		return
	}
	s.logger.WithField("actor", actor).Info(detail)
}

func (s *activityService) AuditLog(ctx context.Context, actor Actor, limit int) ([]domain.AuditEntry, error) {
	if actor.Anonymous() {
		return nil, ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := s.audit.List(ctx, limit)
	if err != nil {
		return nil, persistenceError(err)
	}
	return entries, nil
}
