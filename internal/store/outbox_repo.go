package store

import "time"

// OutboxStatus is the delivery state of a queued nudge or reminder.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed is terminal: the message ran out of attempts.
	OutboxStatusFailed OutboxStatus = "failed"
)

// Terminal reports whether no further delivery will be attempted.
func (s OutboxStatus) Terminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusFailed
}

// MaxOutboxAttempts is the number of failed sends after which a message is
// parked as failed.
const MaxOutboxAttempts = 5

// pendingStatusSQL matches rows that still hold their dedupe key.
const pendingStatusSQL = `status IN ('queued', 'sending')`

// OutboxMessage is one durable outgoing message. Kind tells the send
// function how to decode PayloadJSON.
type OutboxMessage struct {
	ID            string       `json:"id"`
	Recipient     string       `json:"recipient"`
	Kind          string       `json:"kind"`
	PayloadJSON   string       `json:"payload_json"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists outgoing messages for OutboxSender.
type OutboxRepo interface {
	// EnqueueOutboxMessage stores a queued message. A non-empty dedupeKey
	// held by a pending message returns that message's ID instead.
	EnqueueOutboxMessage(recipient, kind, payloadJSON, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages moves up to limit due queued messages, oldest
	// first, to sending and returns them.
	ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error)

	MarkOutboxMessageSent(id string) error

	// FailOutboxMessage counts an attempt and requeues the message for
	// nextAttemptAt, or parks it once MaxOutboxAttempts is reached.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSendingMessages returns messages locked before staleBefore
	// to queued.
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)
}
