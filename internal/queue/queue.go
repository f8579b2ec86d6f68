// Package queue implements a durable Redis-backed job queue with
// at-least-once delivery. A dequeued job is invisible to other consumers
// for a lease duration; jobs whose lease expires are requeued by the
// reaper, and jobs that exhaust their attempt budget land in an
// inspectable dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// InboxCheckQueue carries one job per user per scheduler tick.
	InboxCheckQueue = "inbox-check"
	// MessageProcessQueue carries one job per newly discovered message.
	MessageProcessQueue = "message-process"
)

// InboxCheckPayload is the payload for stage-1 jobs.
type InboxCheckPayload struct {
	UserID string `json:"userId"`
}

// MessageProcessPayload is the payload for stage-2 jobs. It references
// entities by identifier only; no mutable state is embedded.
type MessageProcessPayload struct {
	EmailID string `json:"emailId"`
	UserID  string `json:"userId"`
}

// Job is one unit of work. Attempts counts deliveries, including the
// current one.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	LastError  string          `json:"lastError,omitempty"`
}

// Queue is one named queue. Redis layout per queue:
//
//	queue:<name>:ready       list of job IDs awaiting delivery
//	queue:<name>:processing  list of job IDs currently leased
//	queue:<name>:leases      zset of job ID -> lease expiry (unix seconds)
//	queue:<name>:jobs        hash of job ID -> job JSON
//	queue:<name>:dead        list of job JSON for exhausted jobs
type Queue struct {
	rdb         *redis.Client
	name        string
	lease       time.Duration
	maxAttempts int

	stopChan chan struct{}
	stopOnce sync.Once
}

func New(rdb *redis.Client, name string, lease time.Duration, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Queue{
		rdb:         rdb,
		name:        name,
		lease:       lease,
		maxAttempts: maxAttempts,
		stopChan:    make(chan struct{}),
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("queue:%s:%s", q.name, suffix)
}

// Enqueue adds a job with the given payload and returns the queue-assigned
// job ID. Enqueue is fire-and-forget: delivery happens via Dequeue.
func (q *Queue) Enqueue(ctx context.Context, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		ID:         uuid.New().String(),
		Queue:      q.name,
		Payload:    data,
		EnqueuedAt: time.Now(),
	}
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.key("jobs"), job.ID, string(jobJSON))
	pipe.LPush(ctx, q.key("ready"), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis enqueue: %w", err)
	}

	return job.ID, nil
}

// Dequeue hands the oldest ready job to the caller and starts its lease.
// Returns (nil, nil) when no job becomes available within timeout. The
// returned job's attempt count already includes this delivery.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	id, err := q.rdb.BLMove(ctx, q.key("ready"), q.key("processing"), "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis dequeue: %w", err)
	}

	raw, err := q.rdb.HGet(ctx, q.key("jobs"), id).Result()
	if err == redis.Nil {
		// Job record gone (acked or dead-lettered by the reaper between the
		// move and the lookup); drop the stray ID.
		q.rdb.LRem(ctx, q.key("processing"), 0, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}

	job.Attempts++
	updated, err := json.Marshal(&job)
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", id, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.key("jobs"), id, string(updated))
	pipe.ZAdd(ctx, q.key("leases"), redis.Z{
		Score:  float64(time.Now().Add(q.lease).Unix()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis lease: %w", err)
	}

	return &job, nil
}

// Ack permanently removes a completed job.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("processing"), 0, job.ID)
	pipe.ZRem(ctx, q.key("leases"), job.ID)
	pipe.HDel(ctx, q.key("jobs"), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ack: %w", err)
	}
	return nil
}

// Fail records a failed delivery. Retryable failures are requeued until the
// attempt budget is exhausted; everything else moves to the dead list.
func (q *Queue) Fail(ctx context.Context, job *Job, jobErr error, retryable bool) error {
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("processing"), 0, job.ID)
	pipe.ZRem(ctx, q.key("leases"), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}

	if retryable && job.Attempts < q.maxAttempts {
		return q.requeue(ctx, job)
	}
	return q.moveToDead(ctx, job)
}

func (q *Queue) requeue(ctx context.Context, job *Job) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.key("jobs"), job.ID, string(jobJSON))
	pipe.LPush(ctx, q.key("ready"), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	return nil
}

func (q *Queue) moveToDead(ctx context.Context, job *Job) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key("jobs"), job.ID)
	pipe.LPush(ctx, q.key("dead"), string(jobJSON))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis dead-letter: %w", err)
	}
	log.Printf("[Queue:%s] Job %s moved to dead letters after %d attempts: %s",
		q.name, job.ID, job.Attempts, job.LastError)
	return nil
}

// DeadJobs returns the dead-letter list, newest first.
func (q *Queue) DeadJobs(ctx context.Context) ([]*Job, error) {
	raws, err := q.rdb.LRange(ctx, q.key("dead"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis dead range: %w", err)
	}
	jobs := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Printf("[Queue:%s] Skipping malformed dead job: %v", q.name, err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// PendingCount returns the number of jobs waiting for delivery.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key("ready")).Result()
}

// StartReaper runs the lease reaper loop until Stop is called. Expired
// leases are requeued (or dead-lettered once the attempt budget is spent),
// which is what makes delivery at-least-once when a worker crashes or hangs.
func (q *Queue) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = q.lease / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.ReapExpired(context.Background())
			case <-q.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the reaper loop.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopChan)
	})
}

// ReapExpired requeues every job whose lease has expired. It also
// reconciles processing entries that have no lease at all: a consumer
// that dies between the ready->processing move and the lease write
// would otherwise leave the job stranded with no path back to ready.
func (q *Queue) ReapExpired(ctx context.Context) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("leases"), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		log.Printf("[Queue:%s] Reaper failed to scan leases: %v", q.name, err)
		return
	}

	for _, id := range ids {
		q.reap(ctx, id, "lease expired")
	}

	procIDs, err := q.rdb.LRange(ctx, q.key("processing"), 0, -1).Result()
	if err != nil {
		log.Printf("[Queue:%s] Reaper failed to scan processing: %v", q.name, err)
		return
	}
	for _, id := range procIDs {
		err := q.rdb.ZScore(ctx, q.key("leases"), id).Err()
		if err == nil {
			// Lease is present and not yet expired.
			continue
		}
		if err != redis.Nil {
			log.Printf("[Queue:%s] Reaper failed to check lease for job %s: %v", q.name, id, err)
			continue
		}
		q.reap(ctx, id, "lease missing")
	}
}

func (q *Queue) reap(ctx context.Context, id, reason string) {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key("leases"), id)
	pipe.LRem(ctx, q.key("processing"), 0, id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Queue:%s] Reaper failed to release job %s: %v", q.name, id, err)
		return
	}

	raw, err := q.rdb.HGet(ctx, q.key("jobs"), id).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		log.Printf("[Queue:%s] Reaper failed to load job %s: %v", q.name, id, err)
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Printf("[Queue:%s] Reaper skipping malformed job %s: %v", q.name, id, err)
		return
	}

	if job.Attempts >= q.maxAttempts {
		job.LastError = reason + " after final attempt"
		if err := q.moveToDead(ctx, &job); err != nil {
			log.Printf("[Queue:%s] Reaper failed to dead-letter job %s: %v", q.name, id, err)
		}
		return
	}

	log.Printf("[Queue:%s] %s for job %s (attempt %d), requeueing", q.name, reason, id, job.Attempts)
	if err := q.requeue(ctx, &job); err != nil {
		log.Printf("[Queue:%s] Reaper failed to requeue job %s: %v", q.name, id, err)
	}
}
