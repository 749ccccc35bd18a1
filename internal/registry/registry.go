// Package registry holds the live Task Records, one per subject key.
//
// The registry is the single source of truth for "is anything running": the
// loading flag is derived from its size on every read and never stored.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/deepfocal/taskwatch/internal/domain"
)

// Registry maps subject keys to live Task Records. Readers always receive
// copies, so a record can only change through Update.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]*domain.TaskRecord
	onLoading func(loading bool)
	logger    *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		records: make(map[string]*domain.TaskRecord),
		logger:  logger.With("component", "task_registry"),
	}
}

// OnLoadingChange registers fn to be called whenever the loading flag flips.
// fn runs outside the registry lock.
func (r *Registry) OnLoadingChange(fn func(loading bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLoading = fn
}

// Insert stores rec under its subject key, replacing any existing record.
// It reports whether a record was replaced.
func (r *Registry) Insert(rec *domain.TaskRecord) bool {
	stored := *rec

	r.mu.Lock()
	before := len(r.records) > 0
	_, replaced := r.records[rec.SubjectKey]
	r.records[rec.SubjectKey] = &stored
	fn := r.onLoading
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("replaced live task record",
			"subject_key", rec.SubjectKey,
			"task_id", rec.TaskID)
	}
	r.notify(fn, before, true)
	return replaced
}

// InsertIfAbsent stores rec only when no live record exists for its subject.
// It returns false and leaves the registry untouched otherwise.
func (r *Registry) InsertIfAbsent(rec *domain.TaskRecord) bool {
	stored := *rec

	r.mu.Lock()
	if _, exists := r.records[rec.SubjectKey]; exists {
		r.mu.Unlock()
		return false
	}
	before := len(r.records) > 0
	r.records[rec.SubjectKey] = &stored
	fn := r.onLoading
	r.mu.Unlock()

	r.notify(fn, before, true)
	return true
}

// Get returns a copy of the record for subjectKey.
func (r *Registry) Get(subjectKey string) (domain.TaskRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[subjectKey]
	if !ok {
		return domain.TaskRecord{}, false
	}
	return *rec, true
}

// Update applies mutate to the stored record. It is a no-op returning false
// when the subject has no live record. The subject key cannot be changed.
func (r *Registry) Update(subjectKey string, mutate func(rec *domain.TaskRecord)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[subjectKey]
	if !ok {
		return false
	}
	mutate(rec)
	rec.SubjectKey = subjectKey
	return true
}

// Remove deletes the record for subjectKey. It is idempotent and reports
// whether a record was present.
func (r *Registry) Remove(subjectKey string) bool {
	r.mu.Lock()
	_, ok := r.records[subjectKey]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.records, subjectKey)
	after := len(r.records) > 0
	fn := r.onLoading
	r.mu.Unlock()

	r.notify(fn, true, after)
	return true
}

// RemoveTask deletes the record for subjectKey only if it still tracks taskID.
// A poller for a superseded task must not remove its replacement.
func (r *Registry) RemoveTask(subjectKey, taskID string) bool {
	r.mu.Lock()
	rec, ok := r.records[subjectKey]
	if !ok || rec.TaskID != taskID {
		r.mu.Unlock()
		return false
	}
	delete(r.records, subjectKey)
	after := len(r.records) > 0
	fn := r.onLoading
	r.mu.Unlock()

	r.notify(fn, true, after)
	return true
}

// Has reports whether subjectKey has a live record.
func (r *Registry) Has(subjectKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[subjectKey]
	return ok
}

// Loading reports whether any task is live.
func (r *Registry) Loading() bool {
	return r.Len() > 0
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns copies of all live records, oldest first.
func (r *Registry) Snapshot() []domain.TaskRecord {
	r.mu.RLock()
	out := make([]domain.TaskRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SubjectKey < out[j].SubjectKey
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) notify(fn func(bool), before, after bool) {
	if before == after {
		return
	}
	r.logger.Debug("loading state changed", "loading", after)
	if fn != nil {
		fn(after)
	}
}
