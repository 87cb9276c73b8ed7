package domain

import "time"

type AuditAction string

const (
	AuditDeleted         AuditAction = "deleted"
	AuditEdited          AuditAction = "edited"
	AuditChangedPassword AuditAction = "changed password"
)

// AuditEntry records who changed what.
type AuditEntry struct {
	ID        string      `json:"id"`
	Entity    string      `json:"entity"`
	Actor     string      `json:"actor"`
	Action    AuditAction `json:"action"`
	Detail    string      `json:"detail"`
	CreatedAt time.Time   `json:"createdAt"`
}
