package model

import "time"

type TransitionKind string

const (
	TransitionNone             TransitionKind = ""
	TransitionPaymentConfirmed TransitionKind = "payment_confirmed"
	TransitionOrderShipped     TransitionKind = "order_shipped"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelChat  NotificationChannel = "chat"
)

// Dispatch statuses of NotificationDispatch.Status. Kept as strings (DB values).
const (
	DispatchStatusPending    = "PENDING"
	DispatchStatusProcessing = "PROCESSING"
	DispatchStatusSucceeded  = "SUCCEEDED"
	DispatchStatusFailed     = "FAILED"
	DispatchStatusDead       = "DEAD"
)

// NotificationDispatch is both the outbox row and the dispatch ledger for one
// (order, transition kind, channel). A SUCCEEDED row is what gates re-sending.
type NotificationDispatch struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	OrderID       string              `gorm:"size:64;not null;uniqueIndex:ux_notification_dispatch,priority:1" json:"orderId"`
	Kind          TransitionKind      `gorm:"size:32;not null;uniqueIndex:ux_notification_dispatch,priority:2" json:"kind"`
	Channel       NotificationChannel `gorm:"size:16;not null;uniqueIndex:ux_notification_dispatch,priority:3" json:"channel"`
	Status        string              `gorm:"size:16;index;not null" json:"status"`
	Attempts      int                 `gorm:"not null;default:0" json:"attempts"`
	LastError     *string             `gorm:"type:text" json:"lastError"`
	NextAttemptAt *time.Time          `gorm:"index" json:"nextAttemptAt"`
	LockedAt      *time.Time          `json:"-"`
	LockedBy      *string             `gorm:"size:64" json:"-"`
	SentAt        *time.Time          `json:"sentAt"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

func AllChannels() []NotificationChannel {
	return []NotificationChannel{ChannelEmail, ChannelChat}
}
