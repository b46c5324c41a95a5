package importer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = time.Hour
	maxHistory           = 50
)

// JobPatch lists the fields an update may change. Zero values leave the job
// as is; Batch counters are added to the running totals.
type JobPatch struct {
	Status        JobStatus
	TotalRows     *int
	Batch         *BatchResult
	FailureReason string
}

type ListFilter struct {
	OwnerID int64
	All     bool
	Limit   int
}

// Tracker owns every import job record. All changes go through Update, which
// enforces the status machine and publishes the new state.
type Tracker struct {
	// mu keeps store writes and their events in the same order.
	mu        sync.Mutex
	store     JobStore
	notifier  Notifier
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewTracker(store JobStore, notifier Notifier, retention time.Duration, logger *slog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pub, ok := notifier.(*Publisher); ok && pub == nil {
		notifier = nil
	}
	return &Tracker{
		store:     store,
		notifier:  notifier,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

func (t *Tracker) Create(ownerID int64, fileName string, format Format, action DuplicateAction) (Job, error) {
	if action == "" {
		action = DuplicateSkip
	}
	job := Job{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		FileName:        fileName,
		Format:          format,
		DuplicateAction: action,
		Status:          StatusPending,
		Errors:          []RowError{},
		Duplicates:      []RowDuplicate{},
		CreatedAt:       t.now(),
	}
	if err := t.store.Insert(job); err != nil {
		return Job{}, fmt.Errorf("insert import job: %w", err)
	}
	t.publish(job)
	return job.clone(), nil
}

func (t *Tracker) Update(id string, p JobPatch) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, err := t.store.Update(id, func(j *Job) error {
		if j.Status.Terminal() {
			return ErrJobFinalized
		}
		if p.Status != "" && p.Status != j.Status {
			if !j.Status.canMoveTo(p.Status) {
				return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, j.Status, p.Status)
			}
		}
		if p.Batch != nil && j.Status != StatusProcessing {
			return fmt.Errorf("%w: batch result for %s job", ErrInvalidTransition, j.Status)
		}

		if p.TotalRows != nil && *p.TotalRows >= 0 {
			j.TotalRows = *p.TotalRows
		}
		if p.Batch != nil {
			j.fold(*p.Batch)
		}
		if p.FailureReason != "" {
			j.FailureReason = p.FailureReason
		}
		if p.Status != "" && p.Status != j.Status {
			now := t.now()
			j.Status = p.Status
			if p.Status == StatusProcessing {
				j.StartedAt = &now
			}
			if p.Status.Terminal() {
				j.CompletedAt = &now
			}
		}
		j.recomputeProgress()
		return nil
	})
	if err != nil {
		return job, err
	}
	t.publish(job)
	return job, nil
}

func (t *Tracker) Get(id string) (Job, error) {
	return t.store.Get(id)
}

// List returns jobs newest first. Without All only OwnerID's jobs are
// returned. The result never exceeds 50 jobs.
func (t *Tracker) List(f ListFilter) []Job {
	limit := f.Limit
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	all := t.store.List()
	out := make([]Job, 0, min(limit, len(all)))
	for _, j := range all {
		if f.All || j.OwnerID == f.OwnerID {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Sweep deletes finished jobs whose completion is older than the retention
// window and returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	cutoff := now.Add(-t.retention)
	removed := 0
	for _, j := range t.store.List() {
		if !j.Status.Terminal() || j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		if err := t.store.Delete(j.ID); err == nil {
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := t.Sweep(t.now()); n > 0 {
					t.logger.Info("import jobs swept", "removed", n)
				}
			}
		}
	}()
}

func (t *Tracker) CountByStatus() map[string]int {
	out := map[string]int{
		string(StatusPending): 0, string(StatusProcessing): 0,
		string(StatusCompleted): 0, string(StatusFailed): 0,
	}
	for _, j := range t.store.List() {
		out[string(j.Status)]++
	}
	return out
}

func (t *Tracker) publish(j Job) {
	if t.notifier != nil {
		t.notifier.Publish(eventFor(j))
	}
}
