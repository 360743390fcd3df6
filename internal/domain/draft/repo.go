package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by a Repository when no draft exists for a patient.
var ErrNotFound = errors.New("draft not found")

// Record is one stored draft. Payload is the JSON-serialised draft body.
type Record struct {
	PatientID string          `json:"patientId"`
	Payload   json.RawMessage `json:"payload"`
	SavedAt   time.Time       `json:"savedAt"`
}

// Repository persists at most one Record per patient.
type Repository interface {
	Get(ctx context.Context, patientID string) (*Record, error)
	// Put inserts or overwrites the record for rec.PatientID.
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, patientID string) error
	// PurgeBefore deletes every record saved before cutoff and returns the count.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
