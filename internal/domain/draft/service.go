package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is how long a draft stays restorable after its last save.
const DefaultTTL = 24 * time.Hour

// Store keeps one in-progress value of type T per patient with a soft expiry.
// Persistence is best-effort: backend failures are logged and never returned
// to callers of Save, Load or Clear.
type Store[T any] struct {
	repo   Repository
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewStore[T any](repo Repository, ttl time.Duration, logger zerolog.Logger) *Store[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[T]{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "draft_store").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Store[T]) SetClock(now func() time.Time) {
	s.now = now
}

// TTL returns the configured expiry.
func (s *Store[T]) TTL() time.Duration {
	return s.ttl
}

// Save overwrites the patient's draft with value, stamped with the current time.
func (s *Store[T]) Save(ctx context.Context, patientID string, value T) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID).Msg("failed to serialise draft")
		return
	}
	rec := &Record{PatientID: patientID, Payload: payload, SavedAt: s.now().UTC()}
	if err := s.repo.Put(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID).Msg("failed to save draft")
	}
}

// Load returns the patient's draft. It reports false when there is none, when
// it cannot be read, or when it is older than the TTL; an expired draft is
// deleted.
func (s *Store[T]) Load(ctx context.Context, patientID string) (T, bool) {
	var zero T
	rec, err := s.repo.Get(ctx, patientID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Str("patient_id", patientID).Msg("failed to load draft")
		}
		return zero, false
	}

	if s.now().Sub(rec.SavedAt) > s.ttl {
		s.logger.Info().
			Str("patient_id", patientID).
			Time("saved_at", rec.SavedAt).
			Msg("discarding expired draft")
		s.Clear(ctx, patientID)
		return zero, false
	}

	var value T
	if err := json.Unmarshal(rec.Payload, &value); err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID).Msg("discarding unreadable draft")
		s.Clear(ctx, patientID)
		return zero, false
	}
	return value, true
}

// Clear removes the patient's draft.
func (s *Store[T]) Clear(ctx context.Context, patientID string) {
	if err := s.repo.Delete(ctx, patientID); err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID).Msg("failed to clear draft")
	}
}

// PurgeExpired deletes every draft older than the TTL. Unlike the other
// methods it reports backend errors, since it is run from the CLI.
func (s *Store[T]) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.PurgeBefore(ctx, s.now().Add(-s.ttl))
}
