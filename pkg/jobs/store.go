package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store owns the canonical job records. Implementations must serialize
// Add, Next, Claim and Update so no update is lost.
type Store interface {
	// Add inserts a new job. It returns ErrDuplicateID if the id is taken.
	Add(ctx context.Context, job *Job) error
	// Next returns the eligible job that should run first, or nil.
	Next(ctx context.Context, now time.Time) (*Job, error)
	// Claim atomically selects the next eligible job and marks it processing.
	Claim(ctx context.Context, now time.Time) (*Job, error)
	// Update replaces the stored record. It returns ErrNotFound if the id is absent.
	Update(ctx context.Context, job *Job) error
	// Get returns a copy of one job.
	Get(ctx context.Context, id string) (*Job, error)
	// List returns jobs filtered by status (all when empty), oldest first.
	List(ctx context.Context, status Status, limit int) ([]*Job, error)
	// Count returns the number of stored jobs with status, or all jobs when status is empty.
	Count(ctx context.Context, status Status) (int, error)
	// ActiveCount returns the number of pending and processing jobs.
	ActiveCount(ctx context.Context) (int, error)
	// ReleaseProcessing returns every processing job to pending and reports the ids.
	ReleaseProcessing(ctx context.Context, reason string, now time.Time) ([]string, error)
}

// MemoryStore is an in-process Store. Next and Claim scan every record, so
// their cost grows linearly with the number of retained jobs.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	active int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*Job{}}
}

// Add inserts a copy of job.
func (s *MemoryStore) Add(_ context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return jobsError(ErrDuplicateID, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	if !job.Status.Terminal() {
		s.active++
	}
	return nil
}

// Next returns a copy of the eligible job with the highest priority, FIFO within a priority.
func (s *MemoryStore) Next(_ context.Context, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJob(s.selectLocked(now)), nil
}

// Claim selects like Next and moves the job to processing before releasing the lock.
func (s *MemoryStore) Claim(_ context.Context, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.selectLocked(now)
	if job == nil {
		return nil, nil
	}
	job.Status = StatusProcessing
	job.StartedAt = now
	return cloneJob(job), nil
}

// Update replaces the stored record for job.ID.
func (s *MemoryStore) Update(_ context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return jobsError(ErrNotFound, job.ID)
	}
	if current.Status.Terminal() && current.Status != job.Status {
		return jobsError(ErrConflict, fmt.Sprintf("job %s is %s", job.ID, current.Status))
	}
	if !current.Status.Terminal() && job.Status.Terminal() {
		s.active--
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get returns a copy of the job with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return nil, jobsError(ErrNotFound, id)
	}
	return cloneJob(job), nil
}

// List returns copies of the stored jobs ordered by creation time.
func (s *MemoryStore) List(_ context.Context, status Status, limit int) ([]*Job, error) {
	s.mu.Lock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, cloneJob(job))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count scans the records matching status. An empty status counts every job.
func (s *MemoryStore) Count(_ context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == "" {
		return len(s.jobs), nil
	}
	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

// ActiveCount returns the number of non-terminal jobs.
func (s *MemoryStore) ActiveCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

// ReleaseProcessing moves processing jobs back to pending so they run again.
// The interrupted run does not count as an attempt.
func (s *MemoryStore) ReleaseProcessing(_ context.Context, reason string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []string
	for id, job := range s.jobs {
		if job.Status != StatusProcessing {
			continue
		}
		job.Status = StatusPending
		job.StartedAt = time.Time{}
		job.NextAttempt = now
		if reason != "" {
			job.LastError = reason
		}
		released = append(released, id)
	}
	sort.Strings(released)
	return released, nil
}

func (s *MemoryStore) selectLocked(now time.Time) *Job {
	var best *Job
	for _, job := range s.jobs {
		if !job.Eligible(now) {
			continue
		}
		if best == nil || job.before(best) {
			best = job
		}
	}
	return best
}
