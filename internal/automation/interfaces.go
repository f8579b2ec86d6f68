package automation

import (
	"context"
	"net/http"
	"time"

	emaildomain "replypilot-backend/internal/email/domain"
	"replypilot-backend/internal/queue"
	"replypilot-backend/pkg/sheets"
)

// CredentialSource builds authenticated HTTP clients for a user's mailbox.
type CredentialSource interface {
	Client(ctx context.Context, userID string) (*http.Client, error)
}

// MailboxProvider is the remote mail provider surface the pipeline needs.
type MailboxProvider interface {
	ListRecentUnread(ctx context.Context, client *http.Client, maxResults int64, sinceMinutes int) ([]*emaildomain.MessageStub, error)
	FetchFull(ctx context.Context, client *http.Client, messageID string) (*emaildomain.FullMessage, error)
	SendReply(ctx context.Context, client *http.Client, reply *emaildomain.OutgoingReply) error
	MarkRead(ctx context.Context, client *http.Client, messageID string) error
}

// ReplyEngine produces summaries and knowledge-grounded reply drafts.
type ReplyEngine interface {
	Summarize(ctx context.Context, body string) (string, error)
	GenerateReply(ctx context.Context, tenantID, body string) (string, error)
}

// AuditLogger records successful automated replies to an external
// destination, created lazily per user.
type AuditLogger interface {
	EnsureSheet(ctx context.Context, client *http.Client, title, existingID string) (string, error)
	AppendEntry(ctx context.Context, client *http.Client, spreadsheetID string, entry *sheets.Entry) error
}

// JobQueue is the durable queue contract consumed by scheduler and workers.
// Passing it in at construction (instead of process-wide state) is what
// lets tests substitute an in-memory double.
type JobQueue interface {
	Enqueue(ctx context.Context, payload interface{}) (string, error)
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, jobErr error, retryable bool) error
}

// JobEnqueuer is the producer-side slice of JobQueue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, payload interface{}) (string, error)
}
