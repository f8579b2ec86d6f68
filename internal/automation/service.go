package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	emaildomain "replypilot-backend/internal/email/domain"
	emailrepo "replypilot-backend/internal/email/repository"
	userdomain "replypilot-backend/internal/user/domain"
	userrepo "replypilot-backend/internal/user/repository"
	"replypilot-backend/internal/queue"
)

// ErrUserNotFound is returned when a job or request references a user that
// no longer exists. Never retryable.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailNotFound is returned when a request references an email row that
// does not exist or belongs to someone else.
var ErrEmailNotFound = errors.New("email not found")

// Service holds the synchronous automation primitives. The stage-1 worker
// and the on-demand HTTP operations share the same inbox scan; the only
// difference is whether newly saved emails fan out stage-2 jobs.
type Service struct {
	users        userrepo.UserRepository
	emails       emailrepo.EmailRepository
	creds        CredentialSource
	mailbox      MailboxProvider
	engine       ReplyEngine
	processQueue JobEnqueuer

	maxMessages   int64
	windowMinutes int
}

func NewService(
	users userrepo.UserRepository,
	emails emailrepo.EmailRepository,
	creds CredentialSource,
	mailbox MailboxProvider,
	engine ReplyEngine,
	processQueue JobEnqueuer,
	maxMessages int64,
	windowMinutes int,
) *Service {
	if maxMessages <= 0 {
		maxMessages = 5
	}
	if windowMinutes <= 0 {
		windowMinutes = 30
	}
	return &Service{
		users:         users,
		emails:        emails,
		creds:         creds,
		mailbox:       mailbox,
		engine:        engine,
		processQueue:  processQueue,
		maxMessages:   maxMessages,
		windowMinutes: windowMinutes,
	}
}

// RunInboxCheck executes one stage-1 pass for a user: discover new unread
// messages, summarize and persist them, and fan out one stage-2 job per new
// email. Returns the newly persisted emails.
func (s *Service) RunInboxCheck(ctx context.Context, userID string) ([]*emaildomain.Email, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return s.scanInbox(ctx, user, true)
}

// FetchAndSummarize is the synchronous variant of stage-1 exposed to the
// HTTP layer: scan, summarize and persist, but never send replies. Returns
// all of the user's emails, newest first.
func (s *Service) FetchAndSummarize(ctx context.Context, userID string) ([]*emaildomain.Email, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if _, err := s.scanInbox(ctx, user, false); err != nil {
		return nil, err
	}
	return s.emails.ListByUser(userID)
}

// DraftReply generates a knowledge-grounded reply draft for an email
// without sending it.
func (s *Service) DraftReply(ctx context.Context, emailID, userID string) (string, error) {
	email, err := s.emails.FindByID(emailID)
	if err != nil {
		return "", err
	}
	if email == nil || email.UserID != userID {
		return "", ErrEmailNotFound
	}
	return s.engine.GenerateReply(ctx, email.TenantID, email.Body)
}

// SetAutomationEnabled flips the automation flag. Enabling requires a
// connected Google account; the flag alone never qualifies a user for the
// scheduler.
func (s *Service) SetAutomationEnabled(userID string, enabled bool) error {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if enabled && user.GoogleRefreshToken == "" {
		return fmt.Errorf("cannot enable automation: google account not connected")
	}
	if enabled {
		// A fresh opt-in starts with a clean failure budget.
		if err := s.users.ClearRefreshFailures(userID); err != nil {
			return err
		}
	}
	return s.users.SetAutomationEnabled(userID, enabled)
}

// Stats returns the per-user automation analytics.
func (s *Service) Stats(userID string) (*emailrepo.AutomationStats, error) {
	return s.emails.Stats(userID)
}

// scanInbox is the shared stage-1 primitive. Per-message failures are
// logged and skipped so one bad message never blocks the rest of the scan;
// skipped messages stay unread and are retried by a later scan.
func (s *Service) scanInbox(ctx context.Context, user *userdomain.User, enqueueProcessing bool) ([]*emaildomain.Email, error) {
	client, err := s.creds.Client(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	stubs, err := s.mailbox.ListRecentUnread(ctx, client, s.maxMessages, s.windowMinutes)
	if err != nil {
		return nil, err
	}

	var saved []*emaildomain.Email
	for _, stub := range stubs {
		exists, err := s.emails.ExistsByUserAndMessageID(user.ID, stub.ID)
		if err != nil {
			log.Printf("[InboxScan] Dedup lookup failed for user %s message %s: %v", user.ID, stub.ID, err)
			continue
		}
		if exists {
			continue
		}

		msg, err := s.mailbox.FetchFull(ctx, client, stub.ID)
		if err != nil {
			log.Printf("[InboxScan] Fetch failed for user %s message %s: %v", user.ID, stub.ID, err)
			continue
		}
		if strings.TrimSpace(msg.Body) == "" {
			// Nothing to summarize or reply to.
			continue
		}

		summary, err := s.engine.Summarize(ctx, msg.Body)
		if err != nil {
			log.Printf("[InboxScan] Summarization failed for user %s message %s: %v", user.ID, stub.ID, err)
			continue
		}

		email := &emaildomain.Email{
			UserID:     user.ID,
			TenantID:   user.TenantID,
			MessageID:  msg.ID,
			ThreadID:   msg.ThreadID,
			Subject:    msg.Subject,
			From:       msg.From,
			Snippet:    msg.Snippet,
			Body:       msg.Body,
			Summary:    summary,
			ReceivedAt: msg.ReceivedAt,
		}
		if err := s.emails.Create(email); err != nil {
			if errors.Is(err, emailrepo.ErrDuplicateEmail) {
				// A concurrent scan for the same user won the insert race.
				continue
			}
			log.Printf("[InboxScan] Persist failed for user %s message %s: %v", user.ID, stub.ID, err)
			continue
		}
		saved = append(saved, email)

		if enqueueProcessing {
			payload := queue.MessageProcessPayload{EmailID: email.ID, UserID: user.ID}
			if _, err := s.processQueue.Enqueue(ctx, payload); err != nil {
				log.Printf("[InboxScan] Failed to enqueue processing for email %s: %v", email.ID, err)
			}
		}
	}

	return saved, nil
}
