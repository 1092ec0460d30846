package model

import (
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

type ObservationSource string

const (
	SourceWebhook    ObservationSource = "webhook"
	SourceManualSync ObservationSource = "manual_sync"
	SourceAdmin      ObservationSource = "admin"
	SourceNotifier   ObservationSource = "notifier"
)

// ExternalStatus is the gateway's invoice status vocabulary.
type ExternalStatus string

const (
	ExternalStatusPending ExternalStatus = "PENDING"
	ExternalStatusPaid    ExternalStatus = "PAID"
	ExternalStatusSettled ExternalStatus = "SETTLED"
	ExternalStatusExpired ExternalStatus = "EXPIRED"
)

func (s ExternalStatus) IsPayment() bool {
	return s == ExternalStatusPaid || s == ExternalStatusSettled
}

// GatewayObservation is a status report about one invoice of an order. It is
// never persisted on its own, only through the reconciliation log.
type GatewayObservation struct {
	OrderID        string
	ExternalRef    string
	Attempt        int
	ExternalStatus ExternalStatus
	Amount         int64 // minor units
	ObservedAt     time.Time
	Source         ObservationSource
	RawPayload     []byte
}

type ReconcileOutcome string

const (
	OutcomeTransitioned ReconcileOutcome = "transitioned"
	OutcomeNoop         ReconcileOutcome = "noop"
	OutcomeTerminal     ReconcileOutcome = "terminal"
	OutcomeIgnored      ReconcileOutcome = "ignored"
	OutcomeUnknownOrder ReconcileOutcome = "unknown_order"
	OutcomeAuthFailed   ReconcileOutcome = "auth_failed"
	OutcomeMalformed    ReconcileOutcome = "malformed"
	OutcomeConflict     ReconcileOutcome = "conflict_exhausted"
	OutcomeAdminAction  ReconcileOutcome = "admin_action"
	OutcomeNotified     ReconcileOutcome = "notification_sent"
	OutcomeNotifyFailed ReconcileOutcome = "notification_failed"
)

// ReconciliationLogEntry is an append-only audit row; rows are never updated
// or deleted.
type ReconciliationLogEntry struct {
	ID                   string            `gorm:"primaryKey;size:36" json:"id"`
	OrderID              *string           `gorm:"size:64;index" json:"orderId"`
	Source               ObservationSource `gorm:"size:32;index;not null" json:"source"`
	ExternalRef          string            `gorm:"size:128" json:"externalRef"`
	ExternalStatus       string            `gorm:"size:32" json:"externalStatus"`
	PreviousStatus       string            `gorm:"size:32" json:"previousStatus"`
	ResultingLocalStatus string            `gorm:"size:32" json:"resultingLocalStatus"`
	TransitionKind       string            `gorm:"size:32" json:"transitionKind,omitempty"`
	Outcome              ReconcileOutcome  `gorm:"size:32;index;not null" json:"outcome"`
	Detail               string            `gorm:"type:text" json:"detail,omitempty"`
	RawPayload           datatypes.JSON    `json:"rawPayload,omitempty"`
	ProcessedAt          time.Time         `gorm:"index;not null" json:"processedAt"`
}

// MaxDetailLength bounds free text taken from outside the service, such as a
// provider error body, before it is stored.
const MaxDetailLength = 1024

// TruncateDetail cuts s to at most MaxDetailLength bytes on a rune boundary.
func TruncateDetail(s string) string {
	if len(s) <= MaxDetailLength {
		return s
	}
	cut := MaxDetailLength - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func (ReconciliationLogEntry) TableName() string {
	return "reconciliation_log"
}
