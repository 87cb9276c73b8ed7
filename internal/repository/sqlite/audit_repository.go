package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"member-registry/internal/domain"
	"member-registry/internal/repository"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) repository.AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_entries (id, entity, actor, action, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Entity,
		entry.Actor,
		string(entry.Action),
		entry.Detail,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, entity, actor, action, detail, created_at
FROM audit_entries
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			entry     domain.AuditEntry
			action    string
			createdAt time.Time
		)
		if err := rows.Scan(&entry.ID, &entry.Entity, &entry.Actor, &action, &entry.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = domain.AuditAction(action)
		entry.CreatedAt = createdAt.UTC()
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
