package draft

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a Repository backed by the encounter_draft table.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn() querier {
	return r.pool
}

func (r *repoPG) Get(ctx context.Context, patientID string) (*Record, error) {
	rec := &Record{}
	err := r.conn().QueryRow(ctx,
		`SELECT patient_id, payload, saved_at FROM encounter_draft WHERE patient_id = $1`, patientID,
	).Scan(&rec.PatientID, &rec.Payload, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repoPG) Put(ctx context.Context, rec *Record) error {
	_, err := r.conn().Exec(ctx, `
		INSERT INTO encounter_draft (patient_id, payload, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`,
		rec.PatientID, []byte(rec.Payload), rec.SavedAt,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, patientID string) error {
	_, err := r.conn().Exec(ctx, `DELETE FROM encounter_draft WHERE patient_id = $1`, patientID)
	return err
}

func (r *repoPG) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn().Exec(ctx, `DELETE FROM encounter_draft WHERE saved_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
