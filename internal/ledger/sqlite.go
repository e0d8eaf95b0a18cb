package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/recruit-intake/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS intake_ledger (
	external_id     TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'pending',
	correlation_id  TEXT NOT NULL,
	downstream_ids  TEXT,
	error_class     TEXT,
	error_summary   TEXT,
	manual_review   INTEGER NOT NULL DEFAULT 0,
	degraded        INTEGER NOT NULL DEFAULT 0,
	tier            TEXT,
	first_seen_at   DATETIME NOT NULL,
	last_attempt_at DATETIME NOT NULL,
	attempt_count   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS intake_results (
	external_id TEXT PRIMARY KEY REFERENCES intake_ledger(external_id),
	profile     TEXT NOT NULL,
	decision    TEXT,
	saved_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intake_ledger_status ON intake_ledger(status);
CREATE INDEX IF NOT EXISTS idx_intake_ledger_first_seen ON intake_ledger(first_seen_at);
`

func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Create(ctx context.Context, externalID, correlationID string) (*Record, error) {
	now := time.Now().UTC()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO intake_ledger (external_id, status, correlation_id, first_seen_at, last_attempt_at, attempt_count)
		 VALUES (?, ?, ?, ?, ?, 1)`,
		externalID, string(StatusPending), correlationID, now, now,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return nil, ErrDuplicate
		}
		return nil, eris.Wrapf(err, "sqlite: insert ledger %s", externalID)
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

const sqliteSelectRecord = `SELECT external_id, status, correlation_id, downstream_ids, error_class, error_summary,
	manual_review, degraded, tier, first_seen_at, last_attempt_at, attempt_count FROM intake_ledger`

func (l *SQLiteLedger) Get(ctx context.Context, externalID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, sqliteSelectRecord+` WHERE external_id = ?`, externalID)
	return scanRecord(row)
}

func (l *SQLiteLedger) Touch(ctx context.Context, externalID string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE intake_ledger SET attempt_count = attempt_count + 1, last_attempt_at = ? WHERE external_id = ?`,
		time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch %s", externalID)
	}
	return checkFound(res, externalID)
}

func (l *SQLiteLedger) MarkComplete(ctx context.Context, externalID string, ids model.DownstreamIDs, degraded bool, tier string) error {
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal downstream ids")
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE intake_ledger SET status = ?, downstream_ids = ?, degraded = ?, tier = ?,
		 error_class = NULL, error_summary = NULL, last_attempt_at = ? WHERE external_id = ?`,
		string(StatusComplete), string(idsJSON), boolInt(degraded), tier, time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark complete %s", externalID)
	}
	return checkFound(res, externalID)
}

func (l *SQLiteLedger) MarkPartialFailed(ctx context.Context, externalID, errorClass, errorSummary string, manualReview bool) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE intake_ledger SET status = ?, error_class = ?, error_summary = ?, manual_review = ?,
		 last_attempt_at = ? WHERE external_id = ?`,
		string(StatusPartialFailed), errorClass, errorSummary, boolInt(manualReview), time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark partial_failed %s", externalID)
	}
	return checkFound(res, externalID)
}

func (l *SQLiteLedger) SaveResult(ctx context.Context, externalID string, profile *model.CandidateProfile, decision *model.TierDecision) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	var decisionJSON []byte
	if decision != nil {
		if decisionJSON, err = json.Marshal(decision); err != nil {
			return eris.Wrap(err, "sqlite: marshal decision")
		}
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO intake_results (external_id, profile, decision, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET profile = excluded.profile, decision = excluded.decision, saved_at = excluded.saved_at`,
		externalID, string(profileJSON), nullableString(decisionJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save result %s", externalID)
}

func (l *SQLiteLedger) GetResult(ctx context.Context, externalID string) (*model.CandidateProfile, *model.TierDecision, error) {
	var profileJSON string
	var decisionJSON sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT profile, decision FROM intake_results WHERE external_id = ?`, externalID,
	).Scan(&profileJSON, &decisionJSON)
	if err == sql.ErrNoRows {
		return nil, nil, eris.Wrapf(ErrNotFound, "sqlite: result %s", externalID)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: get result %s", externalID)
	}
	var profile model.CandidateProfile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: unmarshal profile")
	}
	var decision *model.TierDecision
	if decisionJSON.Valid && decisionJSON.String != "" {
		decision = &model.TierDecision{}
		if err := json.Unmarshal([]byte(decisionJSON.String), decision); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: unmarshal decision")
		}
	}
	return &profile, decision, nil
}

func (l *SQLiteLedger) List(ctx context.Context, f Filter) ([]Record, error) {
	query := sqliteSelectRecord + ` WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.SeenBefore.IsZero() {
		query += ` AND first_seen_at < ?`
		args = append(args, f.SeenBefore.UTC())
	}
	if !f.SeenAfter.IsZero() {
		query += ` AND first_seen_at >= ?`
		args = append(args, f.SeenAfter.UTC())
	}
	query += ` ORDER BY first_seen_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ledger")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list ledger iterate")
}

func (l *SQLiteLedger) Purge(ctx context.Context, externalID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM intake_results WHERE external_id = ?`, externalID); err != nil {
		return eris.Wrapf(err, "sqlite: purge result %s", externalID)
	}
	res, err := l.db.ExecContext(ctx, `DELETE FROM intake_ledger WHERE external_id = ?`, externalID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: purge ledger %s", externalID)
	}
	return checkFound(res, externalID)
}

// helpers

func isSQLiteConstraint(err error) bool {
	// modernc.org/sqlite surfaces SQLITE_CONSTRAINT_PRIMARYKEY in the message.
	return err != nil && strings.Contains(err.Error(), "constraint")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func checkFound(res sql.Result, externalID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*Record, error) {
	var r Record
	var idsJSON, errorClass, errorSummary, tier sql.NullString
	var manualReview, degraded int

	err := row.Scan(&r.ExternalID, &r.Status, &r.CorrelationID, &idsJSON, &errorClass, &errorSummary,
		&manualReview, &degraded, &tier, &r.FirstSeenAt, &r.LastAttemptAt, &r.AttemptCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "ledger: scan record")
	}

	if idsJSON.Valid && idsJSON.String != "" {
		if err := json.Unmarshal([]byte(idsJSON.String), &r.DownstreamIDs); err != nil {
			return nil, eris.Wrap(err, "ledger: unmarshal downstream ids")
		}
	}
	r.ErrorClass = errorClass.String
	r.ErrorSummary = errorSummary.String
	r.Tier = tier.String
	r.ManualReview = manualReview != 0
	r.Degraded = degraded != 0
	return &r, nil
}
