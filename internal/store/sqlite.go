package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
//
// The pool is capped at one connection so every write is serialized. That
// makes the count-then-insert of CreateRunIfBelow atomic without relying
// on SQLite's lock upgrade semantics.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY,
	city                TEXT NOT NULL,
	state               TEXT NOT NULL,
	radius_miles        INTEGER NOT NULL,
	max_leads           INTEGER NOT NULL,
	industries          TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	progress_total      INTEGER NOT NULL DEFAULT 0,
	progress_message    TEXT NOT NULL DEFAULT '',
	external_run_handle TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	industry          TEXT NOT NULL DEFAULT '',
	business_name     TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	zip               TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	employee_estimate TEXT NOT NULL DEFAULT '',
	customer_estimate TEXT NOT NULL DEFAULT '',
	decision_maker    TEXT NOT NULL DEFAULT '',
	notes             TEXT NOT NULL DEFAULT '',
	contacted_date    DATETIME,
	source_url        TEXT NOT NULL DEFAULT '',
	distance_miles    REAL,
	confidence        REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_run_id ON leads(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteRunColumns = `id, city, state, radius_miles, max_leads, industries, status,
	progress_total, progress_message, external_run_handle, created_at, updated_at`

func (s *SQLiteStore) CreateRunIfBelow(ctx context.Context, params model.RunParams, progress model.Progress, maxActive int) (*model.Run, int, error) {
	industries, err := json.Marshal(params.Industries)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: marshal industries")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: begin admission")
	}
	defer tx.Rollback() //nolint:errcheck

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status IN (?, ?)`,
		string(model.RunStatusQueued), string(model.RunStatusRunning),
	).Scan(&active); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count active runs")
	}
	if active >= maxActive {
		return nil, active, nil
	}

	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.New().String(),
		RunParams: params,
		Status:    model.RunStatusQueued,
		Progress:  progress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (`+sqliteRunColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, params.City, params.State, params.RadiusMiles, params.MaxLeads, string(industries),
		string(run.Status), progress.Total, progress.Message, progress.ExternalRunHandle, now, now,
	)
	if err != nil {
		return nil, active, eris.Wrap(err, "sqlite: insert run")
	}
	if err := tx.Commit(); err != nil {
		return nil, active, eris.Wrap(err, "sqlite: commit admission")
	}
	return run, active + 1, nil
}

func (s *SQLiteStore) CountActiveRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status IN (?, ?)`,
		string(model.RunStatusQueued), string(model.RunStatusRunning),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count active runs")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs scan")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) NextQueuedRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`,
		string(model.RunStatusQueued),
	)
	r, err := scanRun(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: next queued run")
	}
	return r, nil
}

func (s *SQLiteStore) TransitionRun(ctx context.Context, runID string, from []model.RunStatus, to model.RunStatus, progress model.Progress) error {
	if len(from) == 0 {
		return eris.New("sqlite: transition requires at least one source status")
	}
	args := []any{string(to), progress.Total, progress.Message, progress.ExternalRunHandle, time.Now().UTC(), runID}
	for _, st := range statusStrings(from) {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, progress_total = ?, progress_message = ?, external_run_handle = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition run %s to %s", runID, to)
	}
	return s.checkConditional(ctx, res, runID)
}

func (s *SQLiteStore) RecordHandle(ctx context.Context, runID string, expected model.RunStatus, handle, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET external_run_handle = ?,
		   progress_message = CASE WHEN progress_total = 0 THEN ? ELSE progress_message END,
		   updated_at = ?
		 WHERE id = ? AND status = ?`,
		handle, message, time.Now().UTC(), runID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record handle %s", runID)
	}
	return s.checkConditional(ctx, res, runID)
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete run")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: delete leads of run %s", runID)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete run")
}

func (s *SQLiteStore) AppendLeads(ctx context.Context, runID string, leads []model.Lead) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: begin append leads")
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		status   string
		maxLeads int
		handle   string
		existing int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, max_leads, external_run_handle FROM runs WHERE id = ?`, runID,
	).Scan(&status, &maxLeads, &handle)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return 0, 0, eris.Wrapf(err, "sqlite: load run %s", runID)
	}
	if model.RunStatus(status) != model.RunStatusRunning {
		return 0, 0, eris.Wrapf(ErrStatusMismatch, "sqlite: run %s is %s", runID, status)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE run_id = ?`, runID).Scan(&existing); err != nil {
		return 0, 0, eris.Wrapf(err, "sqlite: count leads of run %s", runID)
	}

	accepted := capLeads(leads, maxLeads-existing)
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: prepare insert lead")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i := range accepted {
		stampLead(&accepted[i], runID, now)
		if _, err := stmt.ExecContext(ctx, leadValues(accepted[i])...); err != nil {
			return 0, 0, eris.Wrapf(err, "sqlite: insert lead for run %s", runID)
		}
	}

	total := existing + len(accepted)
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET progress_total = ?, progress_message = ?, updated_at = ? WHERE id = ?`,
		total, fmt.Sprintf(model.MsgLeadsCollected, total, maxLeads), now, runID,
	)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "sqlite: advance progress %s", runID)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: commit append leads")
	}
	return len(accepted), total, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, runID string, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE run_id = ?`
	args := []any{runID}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, filter.MinConfidence)
	}
	query += ` ORDER BY confidence DESC, created_at ASC, rowid ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list leads of run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list leads scan")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) CountLeads(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE run_id = ?`, runID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count leads of run %s", runID)
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID)
	l, err := scanSQLiteLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", leadID)
	}
	return l, nil
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, leadID string, upd model.LeadUpdate) (*model.Lead, error) {
	sets, args := leadUpdateSets(upd)
	if len(sets) > 0 {
		for i := range sets {
			sets[i] += " = ?"
		}
		args = append(args, leadID)
		res, err := s.db.ExecContext(ctx,
			`UPDATE leads SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update lead %s", leadID)
		}
		if err := checkRowsAffected(res, "lead", leadID); err != nil {
			return nil, err
		}
	}
	return s.GetLead(ctx, leadID)
}

// checkConditional distinguishes a missing run from a status mismatch after
// a conditional update touched no rows.
func (s *SQLiteStore) checkConditional(ctx context.Context, res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: reload run %s", runID)
	}
	return eris.Wrapf(ErrStatusMismatch, "sqlite: run %s is %s", runID, status)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var industries string

	err := row.Scan(&r.ID, &r.City, &r.State, &r.RadiusMiles, &r.MaxLeads, &industries, &r.Status,
		&r.Progress.Total, &r.Progress.Message, &r.Progress.ExternalRunHandle, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	if err := json.Unmarshal([]byte(industries), &r.Industries); err != nil {
		return nil, eris.Wrap(err, "unmarshal industries")
	}
	return &r, nil
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var (
		l         model.Lead
		contacted sql.NullTime
		distance  sql.NullFloat64
	)
	err := row.Scan(&l.ID, &l.RunID, &l.Industry, &l.BusinessName, &l.Address, &l.City, &l.State, &l.Zip,
		&l.Phone, &l.Website, &l.EmployeeEstimate, &l.CustomerEstimate, &l.DecisionMaker, &l.Notes,
		&contacted, &l.SourceURL, &distance, &l.Confidence, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if contacted.Valid {
		t := contacted.Time
		l.ContactedDate = &t
	}
	if distance.Valid {
		d := distance.Float64
		l.DistanceMiles = &d
	}
	return &l, nil
}
