package automation

import (
	"context"
	"log"
	"sync"
	"time"

	userrepo "replypilot-backend/internal/user/repository"
	"replypilot-backend/internal/queue"
)

// Scheduler periodically discovers automation-enabled users and enqueues
// one inbox-check job per user per tick. It only produces jobs; all mail
// work happens in the workers.
type Scheduler struct {
	users      userrepo.UserRepository
	inboxQueue JobEnqueuer
	interval   time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(users userrepo.UserRepository, inboxQueue JobEnqueuer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	return &Scheduler{
		users:      users,
		inboxQueue: inboxQueue,
		interval:   interval,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the scheduling loop. The first tick runs immediately so a
// restart does not wait a full interval before resuming automation.
func (s *Scheduler) Start() {
	log.Printf("[Scheduler] Starting with interval %s", s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Tick(context.Background())

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(context.Background())
			case <-s.stopChan:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

// Tick enqueues one inbox-check job for every eligible user. A failure for
// one user never blocks the rest of the tick.
func (s *Scheduler) Tick(ctx context.Context) {
	users, err := s.users.FindAutomationEnabled()
	if err != nil {
		log.Printf("[Scheduler] Failed to list automation-enabled users: %v", err)
		return
	}
	if len(users) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(users))
	enqueued := 0
	for _, user := range users {
		if _, ok := seen[user.ID]; ok {
			continue
		}
		seen[user.ID] = struct{}{}

		payload := queue.InboxCheckPayload{UserID: user.ID}
		if _, err := s.inboxQueue.Enqueue(ctx, payload); err != nil {
			log.Printf("[Scheduler] Failed to enqueue inbox check for user %s: %v", user.ID, err)
			continue
		}
		enqueued++
	}
	log.Printf("[Scheduler] Enqueued %d inbox checks", enqueued)
}
