package domain

import "time"

type NotificationKind string

const (
	NotificationReferralConfirmed NotificationKind = "referral_confirmed"
	NotificationReferralRejected  NotificationKind = "referral_rejected"
)

// Notification is an in-app message addressed to a single user.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}
