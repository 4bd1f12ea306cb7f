package archive

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
)

// PostgresConfig mirrors this codebase's config.DatabaseConfig shape,
// narrowed to what the archive sink needs.
type PostgresConfig struct {
	DSN      string
	MaxConns int
}

// PostgresRecorder appends committed posture transitions and finalized
// calibration profiles as rows, for later offline analysis. Grounded on
// storage.PostgresStore's pool lifecycle and QueryRow/Exec idiom; the
// schema is new (posture_transitions, calibration_runs) since this domain
// has no persons/collections/events.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder connects and pings once at startup, same as
// storage.NewPostgresStore.
func NewPostgresRecorder(ctx context.Context, cfg PostgresConfig) (*PostgresRecorder, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresRecorder{pool: pool}, nil
}

// EnsureSchema creates the two archive tables if they don't already exist.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS posture_transitions (
			id SERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS calibration_runs (
			id SERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			phase TEXT NOT NULL,
			review_mean DOUBLE PRECISION NOT NULL,
			focus_mean DOUBLE PRECISION NOT NULL,
			created_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) RecordTransition(ctx context.Context, sessionID uuid.UUID, t posture.Transition) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO posture_transitions (session_id, from_state, to_state, occurred_at) VALUES ($1, $2, $3, $4)`,
		sessionID, string(t.From), string(t.To), t.At,
	)
	if err != nil {
		return fmt.Errorf("record posture transition: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) RecordCalibration(ctx context.Context, sessionID uuid.UUID, phase calibration.Phase, _ []byte, profile calibration.Profile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO calibration_runs (session_id, phase, review_mean, focus_mean, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sessionID, string(phase), profile.ReviewMean, profile.FocusMean, profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record calibration run: %w", err)
	}
	return nil
}

// Ping checks connectivity for the readiness endpoint.
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
