package repository

import (
	"path/filepath"
	"testing"
	"time"

	emaildomain "replypilot-backend/internal/email/domain"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) EmailRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&emaildomain.Email{}))
	return NewEmailRepository(db)
}

func newEmail(userID, messageID string) *emaildomain.Email {
	return &emaildomain.Email{
		UserID:     userID,
		TenantID:   "tenant-1",
		MessageID:  messageID,
		ThreadID:   "thread-1",
		Subject:    "Meeting tomorrow",
		From:       "alice@example.com",
		Body:       "Can we meet tomorrow at 10?",
		Summary:    "Alice asks to meet tomorrow at 10.",
		ReceivedAt: time.Now().Add(-time.Hour),
	}
}

func TestCreateAssignsID(t *testing.T) {
	repo := newTestRepo(t)

	email := newEmail("user-1", "msg-1")
	require.NoError(t, repo.Create(email))
	assert.NotEmpty(t, email.ID)

	found, err := repo.FindByID(email.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "msg-1", found.MessageID)
}

func TestCreateDuplicateReturnsSentinel(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Create(newEmail("user-1", "msg-1")))

	err := repo.Create(newEmail("user-1", "msg-1"))
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	// Same message for a different user is a distinct row.
	require.NoError(t, repo.Create(newEmail("user-2", "msg-1")))
}

func TestFindByIDNotFoundReturnsNil(t *testing.T) {
	repo := newTestRepo(t)

	found, err := repo.FindByID("missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestExistsByUserAndMessageID(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Create(newEmail("user-1", "msg-1")))

	exists, err := repo.ExistsByUserAndMessageID("user-1", "msg-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByUserAndMessageID("user-1", "msg-2")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.ExistsByUserAndMessageID("user-2", "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListByUserNewestFirst(t *testing.T) {
	repo := newTestRepo(t)

	older := newEmail("user-1", "msg-old")
	older.ReceivedAt = time.Now().Add(-2 * time.Hour)
	newer := newEmail("user-1", "msg-new")
	newer.ReceivedAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(older))
	require.NoError(t, repo.Create(newer))
	require.NoError(t, repo.Create(newEmail("user-2", "msg-other")))

	emails, err := repo.ListByUser("user-1")
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "msg-new", emails[0].MessageID)
	assert.Equal(t, "msg-old", emails[1].MessageID)
}

func TestReplyAttemptedLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	email := newEmail("user-1", "msg-1")
	require.NoError(t, repo.Create(email))

	at := time.Now()
	require.NoError(t, repo.SetReplyAttempted(email.ID, at))

	found, err := repo.FindByID(email.ID)
	require.NoError(t, err)
	require.NotNil(t, found.ReplyAttemptedAt)
	assert.Nil(t, found.ProcessedAt)

	require.NoError(t, repo.ClearReplyAttempted(email.ID))

	found, err = repo.FindByID(email.ID)
	require.NoError(t, err)
	assert.Nil(t, found.ReplyAttemptedAt)
}

func TestMarkProcessed(t *testing.T) {
	repo := newTestRepo(t)

	email := newEmail("user-1", "msg-1")
	require.NoError(t, repo.Create(email))

	processedAt := time.Now()
	require.NoError(t, repo.MarkProcessed(email.ID, processedAt, 12.5))

	found, err := repo.FindByID(email.ID)
	require.NoError(t, err)
	require.NotNil(t, found.ProcessedAt)
	assert.InDelta(t, 12.5, found.ResponseTime, 0.001)
}

func TestStats(t *testing.T) {
	repo := newTestRepo(t)

	first := newEmail("user-1", "msg-1")
	second := newEmail("user-1", "msg-2")
	third := newEmail("user-1", "msg-3")
	require.NoError(t, repo.Create(first))
	require.NoError(t, repo.Create(second))
	require.NoError(t, repo.Create(third))
	require.NoError(t, repo.Create(newEmail("user-2", "msg-1")))

	require.NoError(t, repo.MarkProcessed(first.ID, time.Now(), 10))
	require.NoError(t, repo.MarkProcessed(second.ID, time.Now(), 20))

	stats, err := repo.Stats("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEmails)
	assert.Equal(t, int64(2), stats.ProcessedEmails)
	assert.InDelta(t, 15.0, stats.AvgResponseTime, 0.001)
}

func TestStatsEmptyUser(t *testing.T) {
	repo := newTestRepo(t)

	stats, err := repo.Stats("nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalEmails)
	assert.Equal(t, int64(0), stats.ProcessedEmails)
	assert.Equal(t, 0.0, stats.AvgResponseTime)
}
