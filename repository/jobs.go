package repository

import (
	"context"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// claim retries when another worker wins the same queued row
const maxClaimRetries = 5

// JobQueue implements hub.JobQueue using Bun.
type JobQueue struct {
	db  *bun.DB
	now func() time.Time
}

var _ hub.JobQueue = (*JobQueue)(nil)

// NewJobQueue creates a new queue.
func NewJobQueue(db *bun.DB, opts ...Option) *JobQueue {
	o := applyOptions(opts)
	return &JobQueue{db: db, now: o.now}
}

// Create implements hub.JobQueue.
func (q *JobQueue) Create(ctx context.Context, job *hub.Job) (*hub.Job, error) {
	now := q.now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	job.Status = hub.JobQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	if _, err := q.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return nil, internal(err, "failed to create job")
	}
	return job, nil
}

// ClaimNext implements hub.JobQueue. The conditional update on status is
// what decides which caller owns the job.
func (q *JobQueue) ClaimNext(ctx context.Context) (*hub.Job, error) {
	for i := 0; i < maxClaimRetries; i++ {
		job := &hub.Job{}
		err := q.db.NewSelect().
			Model(job).
			Where("status = ?", hub.JobQueued).
			OrderExpr("created_at ASC, rowid ASC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return nil, nil
			}
			return nil, internal(err, "failed to load next job")
		}

		now := q.now().UTC()
		res, err := q.db.NewUpdate().
			Model((*hub.Job)(nil)).
			Set("status = ?", hub.JobProcessing).
			Set("updated_at = ?", now).
			Where("id = ? AND status = ?", job.ID, hub.JobQueued).
			Exec(ctx)
		if err != nil {
			return nil, internal(err, "failed to claim job")
		}

		claimed, err := expectOneRow(res)
		if err != nil {
			return nil, internal(err, "failed to claim job")
		}
		if claimed {
			job.Status = hub.JobProcessing
			job.UpdatedAt = now
			return job, nil
		}
	}
	return nil, nil
}

// Complete implements hub.JobQueue.
func (q *JobQueue) Complete(ctx context.Context, jobID, result string) error {
	res, err := q.db.NewUpdate().
		Model((*hub.Job)(nil)).
		Set("status = ?", hub.JobDone).
		Set("result = ?", result).
		Set("updated_at = ?", q.now().UTC()).
		Where("id = ?", jobID).
		Exec(ctx)
	if err != nil {
		return internal(err, "failed to complete job")
	}
	if ok, err := expectOneRow(res); err != nil || !ok {
		return notFound(err, map[string]any{"job_id": jobID})
	}
	return nil
}

// Get implements hub.JobQueue.
func (q *JobQueue) Get(ctx context.Context, jobID string) (*hub.Job, error) {
	job := &hub.Job{}
	err := q.db.NewSelect().
		Model(job).
		Where("id = ?", jobID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(err, map[string]any{"job_id": jobID})
		}
		return nil, internal(err, "failed to load job")
	}
	return job, nil
}
