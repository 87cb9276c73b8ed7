package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"member-registry/internal/domain"
	"member-registry/internal/repository"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) repository.NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notifications (id, user_id, kind, message, is_read, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.UserID,
		string(n.Kind),
		n.Message,
		boolToInt(n.Read),
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, kind, message, is_read, created_at
FROM notifications
WHERE user_id=?
ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []domain.Notification{}
	for rows.Next() {
		var (
			n         domain.Notification
			kind      string
			createdAt time.Time
		)
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Message, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = domain.NotificationKind(kind)
		n.CreatedAt = createdAt.UTC()
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE notifications
SET is_read=1
WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireAffected(res, "notification")
}
