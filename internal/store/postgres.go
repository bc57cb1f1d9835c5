package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/db"
	"github.com/sells-group/leadgen/internal/model"
)

// admissionLockKey is the pg_advisory_xact_lock key that serializes run
// admission across processes sharing one database.
const admissionLockKey int64 = 0x6c656164 // "lead"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	city                TEXT NOT NULL,
	state               TEXT NOT NULL,
	radius_miles        INTEGER NOT NULL,
	max_leads           INTEGER NOT NULL,
	industries          JSONB NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	progress_total      INTEGER NOT NULL DEFAULT 0,
	progress_message    TEXT NOT NULL DEFAULT '',
	external_run_handle TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	contacted_date    TIMESTAMPTZ,
	source_url        TEXT NOT NULL DEFAULT '',
	distance_miles    DOUBLE PRECISION,
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_status_created ON runs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_run_id ON leads(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgRunColumns = `id, city, state, radius_miles, max_leads, industries, status,
	progress_total, progress_message, external_run_handle, created_at, updated_at`

func (s *PostgresStore) CreateRunIfBelow(ctx context.Context, params model.RunParams, progress model.Progress, maxActive int) (*model.Run, int, error) {
	industries, err := json.Marshal(params.Industries)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: marshal industries")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: begin admission")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, admissionLockKey); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: admission lock")
	}

	var active int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ANY($1)`,
		statusStrings(model.ActiveStatuses),
	).Scan(&active); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count active runs")
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
	_, err = tx.Exec(ctx,
		`INSERT INTO runs (`+pgRunColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, params.City, params.State, params.RadiusMiles, params.MaxLeads, industries,
		string(run.Status), progress.Total, progress.Message, progress.ExternalRunHandle, now, now,
	)
	if err != nil {
		return nil, active, eris.Wrap(err, "postgres: insert run")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, active, eris.Wrap(err, "postgres: commit admission")
	}
	return run, active + 1, nil
}

func (s *PostgresStore) CountActiveRuns(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ANY($1)`,
		statusStrings(model.ActiveStatuses),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count active runs")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) NextQueuedRun(ctx context.Context) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+pgRunColumns+` FROM runs WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT 1`,
		string(model.RunStatusQueued),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: next queued run")
	}
	return r, nil
}

func (s *PostgresStore) TransitionRun(ctx context.Context, runID string, from []model.RunStatus, to model.RunStatus, progress model.Progress) error {
	if len(from) == 0 {
		return eris.New("postgres: transition requires at least one source status")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, progress_total = $2, progress_message = $3, external_run_handle = $4, updated_at = $5
		 WHERE id = $6 AND status = ANY($7)`,
		string(to), progress.Total, progress.Message, progress.ExternalRunHandle, time.Now().UTC(), runID, statusStrings(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition run %s to %s", runID, to)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.explainNoop(ctx, runID)
}

func (s *PostgresStore) RecordHandle(ctx context.Context, runID string, expected model.RunStatus, handle, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET external_run_handle = $1,
		   progress_message = CASE WHEN progress_total = 0 THEN $2 ELSE progress_message END,
		   updated_at = $3
		 WHERE id = $4 AND status = $5`,
		handle, message, time.Now().UTC(), runID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record handle %s", runID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.explainNoop(ctx, runID)
}

// explainNoop reports why a conditional update matched no row.
func (s *PostgresStore) explainNoop(ctx context.Context, runID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: reload run %s", runID)
	}
	return eris.Wrapf(ErrStatusMismatch, "postgres: run %s is %s", runID, status)
}

func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) AppendLeads(ctx context.Context, runID string, leads []model.Lead) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "postgres: begin append leads")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		status   string
		maxLeads int
		existing int
	)
	err = tx.QueryRow(ctx, `SELECT status, max_leads FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&status, &maxLeads)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: lock run %s", runID)
	}
	if model.RunStatus(status) != model.RunStatusRunning {
		return 0, 0, eris.Wrapf(ErrStatusMismatch, "postgres: run %s is %s", runID, status)
	}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE run_id = $1`, runID).Scan(&existing); err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: count leads of run %s", runID)
	}

	accepted := capLeads(leads, maxLeads-existing)
	now := time.Now().UTC()
	rows := make([][]any, len(accepted))
	for i := range accepted {
		stampLead(&accepted[i], runID, now)
		rows[i] = leadValues(accepted[i])
	}
	if _, err := db.CopyFrom(ctx, tx, "leads", leadColumnNames, rows); err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: insert leads for run %s", runID)
	}

	total := existing + len(accepted)
	_, err = tx.Exec(ctx,
		`UPDATE runs SET progress_total = $1, progress_message = $2, updated_at = $3 WHERE id = $4`,
		total, fmt.Sprintf(model.MsgLeadsCollected, total, maxLeads), now, runID,
	)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: advance progress %s", runID)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: commit append leads")
	}
	return len(accepted), total, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, runID string, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE run_id = $1`
	args := []any{runID}
	argIdx := 2
	if filter.MinConfidence > 0 {
		query += fmt.Sprintf(` AND confidence >= $%d`, argIdx)
		args = append(args, filter.MinConfidence)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY confidence DESC, created_at ASC, id ASC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list leads of run %s", runID)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) CountLeads(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE run_id = $1`, runID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count leads of run %s", runID)
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	l, err := scanPgLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadID)
	}
	return l, nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, leadID string, upd model.LeadUpdate) (*model.Lead, error) {
	cols, args := leadUpdateSets(upd)
	if len(cols) > 0 {
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
		}
		args = append(args, leadID)
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE leads SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
			args...,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: update lead %s", leadID)
		}
		if tag.RowsAffected() == 0 {
			return nil, eris.Wrapf(ErrNotFound, "postgres: lead %s", leadID)
		}
	}
	return s.GetLead(ctx, leadID)
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var industries []byte

	err := row.Scan(&r.ID, &r.City, &r.State, &r.RadiusMiles, &r.MaxLeads, &industries, &status,
		&r.Progress.Total, &r.Progress.Message, &r.Progress.ExternalRunHandle, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal(industries, &r.Industries); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal industries")
	}
	return &r, nil
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.RunID, &l.Industry, &l.BusinessName, &l.Address, &l.City, &l.State, &l.Zip,
		&l.Phone, &l.Website, &l.EmployeeEstimate, &l.CustomerEstimate, &l.DecisionMaker, &l.Notes,
		&l.ContactedDate, &l.SourceURL, &l.DistanceMiles, &l.Confidence, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
