package automation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"replypilot-backend/internal/queue"
	userdomain "replypilot-backend/internal/user/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickEnqueuesEligibleUsers(t *testing.T) {
	users, _ := newTestDB(t)
	enabled := createTestUser(t, users)
	createTestUser(t, users, func(u *userdomain.User) {
		u.IsAutomationEnabled = false
	})
	createTestUser(t, users, func(u *userdomain.User) {
		u.GoogleRefreshToken = ""
	})

	inboxQueue := &fakeJobQueue{}
	s := NewScheduler(users, inboxQueue, time.Minute)
	s.Tick(context.Background())

	// Only the enabled, connected user gets a job.
	require.Len(t, inboxQueue.enqueued, 1)
	var payload queue.InboxCheckPayload
	require.NoError(t, json.Unmarshal(inboxQueue.enqueued[0], &payload))
	assert.Equal(t, enabled.ID, payload.UserID)
}

func TestTickWithNoEligibleUsers(t *testing.T) {
	users, _ := newTestDB(t)
	createTestUser(t, users, func(u *userdomain.User) {
		u.IsAutomationEnabled = false
	})

	inboxQueue := &fakeJobQueue{}
	s := NewScheduler(users, inboxQueue, time.Minute)
	s.Tick(context.Background())

	assert.Empty(t, inboxQueue.enqueued)
}

func TestSchedulerStartRunsImmediately(t *testing.T) {
	users, _ := newTestDB(t)
	createTestUser(t, users)

	inboxQueue := &fakeJobQueue{}
	s := NewScheduler(users, inboxQueue, time.Hour)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return inboxQueue.enqueuedCount() == 1
	}, time.Second, 10*time.Millisecond)
}
