package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"replypilot-backend/internal/credential"
	emaildomain "replypilot-backend/internal/email/domain"
	emailrepo "replypilot-backend/internal/email/repository"
	userrepo "replypilot-backend/internal/user/repository"
	"replypilot-backend/internal/queue"
	"replypilot-backend/pkg/gmail"
	"replypilot-backend/pkg/sheets"
)

// ProcessWorker consumes message-process jobs: generate a knowledge-grounded
// reply, send it, record the outcome and append the audit entry. Delivery is
// at-least-once, so every user-visible side effect is guarded by state on
// the email row.
type ProcessWorker struct {
	users   userrepo.UserRepository
	emails  emailrepo.EmailRepository
	creds   CredentialSource
	mailbox MailboxProvider
	engine  ReplyEngine
	audit   AuditLogger
	jobs    JobQueue
	workers int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewProcessWorker(
	users userrepo.UserRepository,
	emails emailrepo.EmailRepository,
	creds CredentialSource,
	mailbox MailboxProvider,
	engine ReplyEngine,
	audit AuditLogger,
	jobs JobQueue,
	workers int,
) *ProcessWorker {
	if workers <= 0 {
		workers = 2
	}
	return &ProcessWorker{
		users:    users,
		emails:   emails,
		creds:    creds,
		mailbox:  mailbox,
		engine:   engine,
		audit:    audit,
		jobs:     jobs,
		workers:  workers,
		stopChan: make(chan struct{}),
	}
}

func (w *ProcessWorker) Start() {
	log.Printf("[ProcessWorker] Starting %d workers", w.workers)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
}

func (w *ProcessWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	log.Println("[ProcessWorker] Stopped")
}

func (w *ProcessWorker) run(id int) {
	defer w.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx, 2*time.Second)
		if err != nil {
			log.Printf("[ProcessWorker %d] Dequeue failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *ProcessWorker) handle(ctx context.Context, job *queue.Job) {
	start := time.Now()

	var payload queue.MessageProcessPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.fail(ctx, job, err, false)
		return
	}

	user, err := w.users.FindByID(payload.UserID)
	if err != nil {
		w.fail(ctx, job, err, true)
		return
	}
	if user == nil {
		w.fail(ctx, job, ErrUserNotFound, false)
		return
	}

	email, err := w.emails.FindByID(payload.EmailID)
	if err != nil {
		w.fail(ctx, job, err, true)
		return
	}
	if email == nil || email.UserID != user.ID {
		w.fail(ctx, job, ErrEmailNotFound, false)
		return
	}

	// A redelivered job for an already completed email is acked without
	// touching the mailbox again.
	if email.ProcessedAt != nil {
		w.ack(ctx, job)
		return
	}

	// A reply attempt was recorded but never confirmed. The reply may or
	// may not have reached the recipient; retrying could send it twice, so
	// the job goes to the dead letters for an operator to resolve.
	if email.ReplyAttemptedAt != nil {
		w.fail(ctx, job, fmt.Errorf("reply attempt for email %s was interrupted before confirmation", email.ID), false)
		return
	}

	client, err := w.creds.Client(ctx, user.ID)
	if err != nil {
		retryable := !errors.Is(err, credential.ErrNotConnected) && !errors.Is(err, credential.ErrRefreshFailed)
		w.fail(ctx, job, err, retryable)
		return
	}

	spreadsheetID, err := w.audit.EnsureSheet(ctx, client, fmt.Sprintf("Email Automation Log - %s", user.Email), user.SpreadsheetID)
	if err != nil {
		w.fail(ctx, job, err, gmail.IsTransient(err))
		return
	}
	if spreadsheetID != user.SpreadsheetID {
		if err := w.users.SetSpreadsheetID(user.ID, spreadsheetID); err != nil {
			// The sheet exists and will be found again by title next time.
			log.Printf("[ProcessWorker] Failed to persist spreadsheet ID for user %s: %v", user.ID, err)
		}
	}

	replyBody, err := w.engine.GenerateReply(ctx, email.TenantID, email.Body)
	if err != nil {
		w.fail(ctx, job, err, true)
		return
	}

	if err := w.emails.SetReplyAttempted(email.ID, time.Now()); err != nil {
		w.fail(ctx, job, err, true)
		return
	}

	reply := &emaildomain.OutgoingReply{
		To:       email.From,
		Subject:  replySubject(email.Subject),
		BodyHTML: replyBody,
		ThreadID: email.ThreadID,
	}
	if err := w.mailbox.SendReply(ctx, client, reply); err != nil {
		// The provider rejected the send, so nothing reached the recipient
		// and the attempt marker can be cleared for a clean retry.
		if clearErr := w.emails.ClearReplyAttempted(email.ID); clearErr != nil {
			log.Printf("[ProcessWorker] Failed to clear reply marker for email %s: %v", email.ID, clearErr)
		}
		w.fail(ctx, job, err, gmail.IsTransient(err))
		return
	}

	processedAt := time.Now()
	responseTime := processedAt.Sub(start).Seconds()
	if err := w.emails.MarkProcessed(email.ID, processedAt, responseTime); err != nil {
		// The reply is out; retrying would send it again.
		w.fail(ctx, job, fmt.Errorf("reply sent but state update failed: %w", err), false)
		return
	}

	entry := &sheets.Entry{
		Timestamp: processedAt,
		From:      email.From,
		Subject:   email.Subject,
		Summary:   email.Summary,
		Reply:     replyBody,
	}
	if err := w.audit.AppendEntry(ctx, client, spreadsheetID, entry); err != nil {
		log.Printf("[ProcessWorker] Audit append failed for email %s: %v", email.ID, err)
	}

	if err := w.mailbox.MarkRead(ctx, client, email.MessageID); err != nil {
		log.Printf("[ProcessWorker] Failed to mark message %s read: %v", email.MessageID, err)
	}

	log.Printf("[ProcessWorker] Replied to email %s for user %s in %.1fs", email.ID, user.ID, responseTime)
	w.ack(ctx, job)
}

func (w *ProcessWorker) ack(ctx context.Context, job *queue.Job) {
	if err := w.jobs.Ack(ctx, job); err != nil {
		log.Printf("[ProcessWorker] Ack failed for job %s: %v", job.ID, err)
	}
}

func (w *ProcessWorker) fail(ctx context.Context, job *queue.Job, jobErr error, retryable bool) {
	log.Printf("[ProcessWorker] Job %s failed (attempt %d, retryable=%t): %v", job.ID, job.Attempts, retryable, jobErr)
	if err := w.jobs.Fail(ctx, job, jobErr, retryable); err != nil {
		log.Printf("[ProcessWorker] Failed to record job failure for %s: %v", job.ID, err)
	}
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
