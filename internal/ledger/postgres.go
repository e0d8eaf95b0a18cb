package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-intake/internal/model"
)

// Pool is the subset of pgxpool.Pool the ledger uses, also satisfied by
// pgxmock for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresLedger implements Ledger using pgxpool. Multiple coordinator
// instances may safely share one Postgres ledger: the insert-if-absent
// Create is the cross-instance concurrency guard.
type PostgresLedger struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresLedger{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS intake_ledger (
	external_id     TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'pending',
	correlation_id  TEXT NOT NULL,
	downstream_ids  JSONB,
	error_class     TEXT,
	error_summary   TEXT,
	manual_review   BOOLEAN NOT NULL DEFAULT FALSE,
	degraded        BOOLEAN NOT NULL DEFAULT FALSE,
	tier            TEXT,
	first_seen_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	attempt_count   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS intake_results (
	external_id TEXT PRIMARY KEY REFERENCES intake_ledger(external_id),
	profile     JSONB NOT NULL,
	decision    JSONB,
	saved_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_intake_ledger_status ON intake_ledger(status);
CREATE INDEX IF NOT EXISTS idx_intake_ledger_first_seen ON intake_ledger(first_seen_at);
`

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

func (l *PostgresLedger) Create(ctx context.Context, externalID, correlationID string) (*Record, error) {
	now := time.Now().UTC()
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO intake_ledger (external_id, status, correlation_id, first_seen_at, last_attempt_at, attempt_count)
		 VALUES ($1, $2, $3, $4, $5, 1) ON CONFLICT (external_id) DO NOTHING`,
		externalID, string(StatusPending), correlationID, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert ledger %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicate
	}
	return &Record{
		ExternalID:    externalID,
		Status:        StatusPending,
		CorrelationID: correlationID,
		FirstSeenAt:   now,
		LastAttemptAt: now,
		AttemptCount:  1,
	}, nil
}

const pgSelectRecord = `SELECT external_id, status, correlation_id, downstream_ids, error_class, error_summary,
	manual_review, degraded, tier, first_seen_at, last_attempt_at, attempt_count FROM intake_ledger`

func (l *PostgresLedger) Get(ctx context.Context, externalID string) (*Record, error) {
	row := l.pool.QueryRow(ctx, pgSelectRecord+` WHERE external_id = $1`, externalID)
	return scanRecordPG(row)
}

func (l *PostgresLedger) Touch(ctx context.Context, externalID string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE intake_ledger SET attempt_count = attempt_count + 1, last_attempt_at = $1 WHERE external_id = $2`,
		time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *PostgresLedger) MarkComplete(ctx context.Context, externalID string, ids model.DownstreamIDs, degraded bool, tier string) error {
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal downstream ids")
	}
	tag, err := l.pool.Exec(ctx,
		`UPDATE intake_ledger SET status = $1, downstream_ids = $2, degraded = $3, tier = $4,
		 error_class = NULL, error_summary = NULL, last_attempt_at = $5 WHERE external_id = $6`,
		string(StatusComplete), idsJSON, degraded, tier, time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark complete %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *PostgresLedger) MarkPartialFailed(ctx context.Context, externalID, errorClass, errorSummary string, manualReview bool) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE intake_ledger SET status = $1, error_class = $2, error_summary = $3, manual_review = $4,
		 last_attempt_at = $5 WHERE external_id = $6`,
		string(StatusPartialFailed), errorClass, errorSummary, manualReview, time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark partial_failed %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *PostgresLedger) SaveResult(ctx context.Context, externalID string, profile *model.CandidateProfile, decision *model.TierDecision) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	var decisionJSON []byte
	if decision != nil {
		if decisionJSON, err = json.Marshal(decision); err != nil {
			return eris.Wrap(err, "postgres: marshal decision")
		}
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO intake_results (external_id, profile, decision, saved_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (external_id) DO UPDATE SET profile = EXCLUDED.profile, decision = EXCLUDED.decision, saved_at = EXCLUDED.saved_at`,
		externalID, profileJSON, decisionJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save result %s", externalID)
}

func (l *PostgresLedger) GetResult(ctx context.Context, externalID string) (*model.CandidateProfile, *model.TierDecision, error) {
	var profileJSON, decisionJSON []byte
	err := l.pool.QueryRow(ctx,
		`SELECT profile, decision FROM intake_results WHERE external_id = $1`, externalID,
	).Scan(&profileJSON, &decisionJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, eris.Wrapf(ErrNotFound, "postgres: result %s", externalID)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: get result %s", externalID)
	}
	var profile model.CandidateProfile
	if err := json.Unmarshal(profileJSON, &profile); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: unmarshal profile")
	}
	var decision *model.TierDecision
	if len(decisionJSON) > 0 {
		decision = &model.TierDecision{}
		if err := json.Unmarshal(decisionJSON, decision); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: unmarshal decision")
		}
	}
	return &profile, decision, nil
}

func (l *PostgresLedger) List(ctx context.Context, f Filter) ([]Record, error) {
	query := pgSelectRecord + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if !f.SeenBefore.IsZero() {
		query += ` AND first_seen_at < ` + arg(f.SeenBefore.UTC())
	}
	if !f.SeenAfter.IsZero() {
		query += ` AND first_seen_at >= ` + arg(f.SeenAfter.UTC())
	}
	query += ` ORDER BY first_seen_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ledger")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecordPG(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list ledger iterate")
}

func (l *PostgresLedger) Purge(ctx context.Context, externalID string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM intake_results WHERE external_id = $1`, externalID); err != nil {
		return eris.Wrapf(err, "postgres: purge result %s", externalID)
	}
	tag, err := l.pool.Exec(ctx, `DELETE FROM intake_ledger WHERE external_id = $1`, externalID)
	if err != nil {
		return eris.Wrapf(err, "postgres: purge ledger %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecordPG(row pgx.Row) (*Record, error) {
	var r Record
	var idsJSON []byte
	var errorClass, errorSummary, tier *string

	err := row.Scan(&r.ExternalID, &r.Status, &r.CorrelationID, &idsJSON, &errorClass, &errorSummary,
		&r.ManualReview, &r.Degraded, &tier, &r.FirstSeenAt, &r.LastAttemptAt, &r.AttemptCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}

	if len(idsJSON) > 0 {
		if err := json.Unmarshal(idsJSON, &r.DownstreamIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal downstream ids")
		}
	}
	if errorClass != nil {
		r.ErrorClass = *errorClass
	}
	if errorSummary != nil {
		r.ErrorSummary = *errorSummary
	}
	if tier != nil {
		r.Tier = *tier
	}
	return &r, nil
}
