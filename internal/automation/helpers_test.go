package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	emaildomain "replypilot-backend/internal/email/domain"
	emailrepo "replypilot-backend/internal/email/repository"
	userdomain "replypilot-backend/internal/user/domain"
	userrepo "replypilot-backend/internal/user/repository"
	"replypilot-backend/internal/queue"
	"replypilot-backend/pkg/sheets"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) (userrepo.UserRepository, emailrepo.EmailRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&userdomain.User{}, &emaildomain.Email{}))
	return userrepo.NewUserRepository(db), emailrepo.NewEmailRepository(db)
}

func createTestUser(t *testing.T, users userrepo.UserRepository, mutate ...func(*userdomain.User)) *userdomain.User {
	t.Helper()
	user := &userdomain.User{
		Email:               uuid.New().String() + "@example.com",
		Name:                "Test User",
		GoogleAccessToken:   "access",
		GoogleRefreshToken:  "refresh",
		IsAutomationEnabled: true,
	}
	for _, fn := range mutate {
		fn(user)
	}
	require.NoError(t, users.Create(user))
	return user
}

type fakeCreds struct {
	err error
}

func (c *fakeCreds) Client(ctx context.Context, userID string) (*http.Client, error) {
	if c.err != nil {
		return nil, c.err
	}
	return http.DefaultClient, nil
}

type fakeMailbox struct {
	stubs    []*emaildomain.MessageStub
	messages map[string]*emaildomain.FullMessage
	listErr  error
	fetchErr map[string]error
	sendErr  error

	sent       []*emaildomain.OutgoingReply
	markedRead []string
	markErr    error
}

func (m *fakeMailbox) ListRecentUnread(ctx context.Context, client *http.Client, maxResults int64, sinceMinutes int) ([]*emaildomain.MessageStub, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if int64(len(m.stubs)) > maxResults {
		return m.stubs[:maxResults], nil
	}
	return m.stubs, nil
}

func (m *fakeMailbox) FetchFull(ctx context.Context, client *http.Client, messageID string) (*emaildomain.FullMessage, error) {
	if err, ok := m.fetchErr[messageID]; ok {
		return nil, err
	}
	return m.messages[messageID], nil
}

func (m *fakeMailbox) SendReply(ctx context.Context, client *http.Client, reply *emaildomain.OutgoingReply) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, reply)
	return nil
}

func (m *fakeMailbox) MarkRead(ctx context.Context, client *http.Client, messageID string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.markedRead = append(m.markedRead, messageID)
	return nil
}

type fakeEngine struct {
	summarizeErr map[string]error
	replyErr     error
	reply        string
	replyDelay   time.Duration
}

func (e *fakeEngine) Summarize(ctx context.Context, body string) (string, error) {
	if err, ok := e.summarizeErr[body]; ok {
		return "", err
	}
	return "summary: " + body, nil
}

func (e *fakeEngine) GenerateReply(ctx context.Context, tenantID, body string) (string, error) {
	if e.replyDelay > 0 {
		time.Sleep(e.replyDelay)
	}
	if e.replyErr != nil {
		return "", e.replyErr
	}
	if e.reply != "" {
		return e.reply, nil
	}
	return "reply to: " + body, nil
}

type fakeAudit struct {
	sheetID   string
	ensureErr error
	appendErr error
	entries   []*sheets.Entry
}

func (a *fakeAudit) EnsureSheet(ctx context.Context, client *http.Client, title, existingID string) (string, error) {
	if a.ensureErr != nil {
		return "", a.ensureErr
	}
	if existingID != "" {
		return existingID, nil
	}
	if a.sheetID == "" {
		a.sheetID = "sheet-" + uuid.New().String()
	}
	return a.sheetID, nil
}

func (a *fakeAudit) AppendEntry(ctx context.Context, client *http.Client, spreadsheetID string, entry *sheets.Entry) error {
	if a.appendErr != nil {
		return a.appendErr
	}
	a.entries = append(a.entries, entry)
	return nil
}

type failedCall struct {
	job       *queue.Job
	retryable bool
	err       error
}

// fakeJobQueue records consumer outcomes and producer traffic.
type fakeJobQueue struct {
	mu       sync.Mutex
	enqueued []json.RawMessage
	acked    []*queue.Job
	failed   []failedCall
}

func (q *fakeJobQueue) Enqueue(ctx context.Context, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	q.enqueued = append(q.enqueued, data)
	q.mu.Unlock()
	return uuid.New().String(), nil
}

func (q *fakeJobQueue) enqueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

func (q *fakeJobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	return nil, nil
}

func (q *fakeJobQueue) Ack(ctx context.Context, job *queue.Job) error {
	q.acked = append(q.acked, job)
	return nil
}

func (q *fakeJobQueue) Fail(ctx context.Context, job *queue.Job, jobErr error, retryable bool) error {
	q.failed = append(q.failed, failedCall{job: job, retryable: retryable, err: jobErr})
	return nil
}

func processJob(t *testing.T, emailID, userID string) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.MessageProcessPayload{EmailID: emailID, UserID: userID})
	require.NoError(t, err)
	return &queue.Job{
		ID:       uuid.New().String(),
		Queue:    queue.MessageProcessQueue,
		Payload:  payload,
		Attempts: 1,
	}
}

func inboxJob(t *testing.T, userID string) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.InboxCheckPayload{UserID: userID})
	require.NoError(t, err)
	return &queue.Job{
		ID:       uuid.New().String(),
		Queue:    queue.InboxCheckQueue,
		Payload:  payload,
		Attempts: 1,
	}
}
