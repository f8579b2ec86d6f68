package automation

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"replypilot-backend/internal/credential"
	"replypilot-backend/internal/queue"
	"replypilot-backend/pkg/gmail"
)

// InboxWorker consumes inbox-check jobs and runs the stage-1 scan for the
// referenced user. Delivery is at-least-once; the scan itself is
// idempotent, so a redelivered job simply finds nothing new.
type InboxWorker struct {
	service *Service
	jobs    JobQueue
	workers int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewInboxWorker(service *Service, jobs JobQueue, workers int) *InboxWorker {
	if workers <= 0 {
		workers = 3
	}
	return &InboxWorker{
		service:  service,
		jobs:     jobs,
		workers:  workers,
		stopChan: make(chan struct{}),
	}
}

func (w *InboxWorker) Start() {
	log.Printf("[InboxWorker] Starting %d workers", w.workers)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
}

func (w *InboxWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	log.Println("[InboxWorker] Stopped")
}

func (w *InboxWorker) run(id int) {
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
			log.Printf("[InboxWorker %d] Dequeue failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *InboxWorker) handle(ctx context.Context, job *queue.Job) {
	var payload queue.InboxCheckPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.fail(ctx, job, err, false)
		return
	}

	saved, err := w.service.RunInboxCheck(ctx, payload.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound),
			errors.Is(err, credential.ErrNotConnected),
			errors.Is(err, credential.ErrRefreshFailed):
			// Retrying cannot fix a missing user or a dead credential.
			w.fail(ctx, job, err, false)
		default:
			w.fail(ctx, job, err, gmail.IsTransient(err))
		}
		return
	}

	if len(saved) > 0 {
		log.Printf("[InboxWorker] User %s: %d new emails queued for processing", payload.UserID, len(saved))
	}
	if err := w.jobs.Ack(ctx, job); err != nil {
		log.Printf("[InboxWorker] Ack failed for job %s: %v", job.ID, err)
	}
}

func (w *InboxWorker) fail(ctx context.Context, job *queue.Job, jobErr error, retryable bool) {
	log.Printf("[InboxWorker] Job %s failed (attempt %d, retryable=%t): %v", job.ID, job.Attempts, retryable, jobErr)
	if err := w.jobs.Fail(ctx, job, jobErr, retryable); err != nil {
		log.Printf("[InboxWorker] Failed to record job failure for %s: %v", job.ID, err)
	}
}
