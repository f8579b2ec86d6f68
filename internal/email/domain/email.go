package domain

import "time"

// Email is one processed (or in-flight) inbox message. The pair
// (UserID, MessageID) is the dedup key: at most one row per real message
// per user, enforced by a unique index at the storage layer.
type Email struct {
	ID        string `json:"id" gorm:"primaryKey"`
	UserID    string `json:"user_id" gorm:"uniqueIndex:idx_user_message;index;not null"`
	TenantID  string `json:"tenant_id" gorm:"index;not null"`
	MessageID string `json:"message_id" gorm:"uniqueIndex:idx_user_message;not null"`
	ThreadID  string `json:"thread_id"`

	Subject    string    `json:"subject"`
	From       string    `json:"from" gorm:"column:from_address"`
	Snippet    string    `json:"snippet"`
	Body       string    `json:"body" gorm:"type:text"`
	Summary    string    `json:"summary" gorm:"type:text"`
	ReceivedAt time.Time `json:"received_at"`

	// ReplyAttemptedAt is written just before the reply is handed to the
	// provider. A row with this set but ProcessedAt still null means a
	// previous delivery may have sent the reply without living long enough
	// to record it.
	ReplyAttemptedAt *time.Time `json:"reply_attempted_at,omitempty"`

	// ProcessedAt is set only after a confirmed successful send.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// ResponseTime is seconds between pipeline pickup and send completion.
	ResponseTime float64 `json:"response_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Email) TableName() string {
	return "emails"
}

// MessageStub is a lightweight listing entry from the mail provider.
type MessageStub struct {
	ID       string
	ThreadID string
}

// FullMessage is the fetched content of a single provider message.
type FullMessage struct {
	ID         string
	ThreadID   string
	Subject    string
	From       string
	Snippet    string
	Body       string
	ReceivedAt time.Time
}

// OutgoingReply describes a reply to send, threaded into the original
// conversation via ThreadID.
type OutgoingReply struct {
	To       string
	Subject  string
	BodyHTML string
	ThreadID string
}
