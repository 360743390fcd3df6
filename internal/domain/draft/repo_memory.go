package draft

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a thread-safe, in-memory Repository.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]Record)}
}

func (r *MemoryRepo) Get(_ context.Context, patientID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec, nil
}

func (r *MemoryRepo) Put(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *rec
	stored.Payload = append([]byte(nil), rec.Payload...)
	r.records[rec.PatientID] = stored
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, patientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, patientID)
	return nil
}

func (r *MemoryRepo) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.SavedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored drafts.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
