package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/banachtech/svi-surface/svi"
)

var ErrRunNotFound = errors.New("calibration run not found")

const schema = `
CREATE TABLE IF NOT EXISTS svi_params (
	run_id     TEXT NOT NULL,
	slice_key  TEXT NOT NULL,
	tau        DOUBLE PRECISION NOT NULL,
	a          DOUBLE PRECISION NOT NULL,
	p          DOUBLE PRECISION NOT NULL,
	b          DOUBLE PRECISION NOT NULL,
	s          DOUBLE PRECISION NOT NULL,
	m          DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, slice_key)
)`

// Store persists calibration runs.
type Store interface {
	SaveRun(ctx context.Context, runID string, params *ParamStore) error
	LoadRun(ctx context.Context, runID string) (*ParamStore, error)
	LatestRun(ctx context.Context) (string, *ParamStore, error)
}

type ParamRow struct {
	RunID     string    `db:"run_id"`
	SliceKey  string    `db:"slice_key"`
	Tau       float64   `db:"tau"`
	A         float64   `db:"a"`
	P         float64   `db:"p"`
	B         float64   `db:"b"`
	S         float64   `db:"s"`
	M         float64   `db:"m"`
	CreatedAt time.Time `db:"created_at"`
}

func (r ParamRow) Record() Record {
	return Record{Key: r.SliceKey, Params: svi.Params{T: r.Tau, A: r.A, P: r.P, B: r.B, S: r.S, M: r.M}}
}

// Queries runs single statements against a database or a transaction.
type Queries struct {
	db sqlx.ExtContext
}

func New(db sqlx.ExtContext) *Queries {
	return &Queries{db: db}
}

func (q *Queries) DeleteRun(ctx context.Context, runID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM svi_params WHERE run_id = $1`, runID)
	return err
}

func (q *Queries) InsertParam(ctx context.Context, runID string, r Record) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO svi_params (run_id, slice_key, tau, a, p, b, s, m) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		runID, r.Key, r.T, r.A, r.P, r.B, r.S, r.M)
	return err
}

func (q *Queries) GetRun(ctx context.Context, runID string) ([]ParamRow, error) {
	var rows []ParamRow
	err := sqlx.SelectContext(ctx, q.db, &rows,
		`SELECT run_id, slice_key, tau, a, p, b, s, m, created_at FROM svi_params WHERE run_id = $1 ORDER BY tau`, runID)
	return rows, err
}

func (q *Queries) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := sqlx.GetContext(ctx, q.db, &id,
		`SELECT run_id FROM svi_params ORDER BY created_at DESC LIMIT 1`)
	return id, err
}

// SQLStore keeps calibration runs in Postgres.
type SQLStore struct {
	*Queries
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, Queries: New(db)}
}

// Connect opens and pings a Postgres database.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

func (store *SQLStore) Migrate(ctx context.Context) error {
	_, err := store.db.ExecContext(ctx, schema)
	return err
}

// execTx executes a function within a database transaction
func (store *SQLStore) execTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := store.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	q := New(tx)
	err = fn(q)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// SaveRun replaces every record of runID in one transaction.
func (store *SQLStore) SaveRun(ctx context.Context, runID string, params *ParamStore) error {
	return store.execTx(ctx, func(q *Queries) error {
		if err := q.DeleteRun(ctx, runID); err != nil {
			return err
		}
		for _, r := range params.Records() {
			if err := q.InsertParam(ctx, runID, r); err != nil {
				return fmt.Errorf("insert t=%g: %w", r.T, err)
			}
		}
		return nil
	})
}

func (store *SQLStore) LoadRun(ctx context.Context, runID string) (*ParamStore, error) {
	rows, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = r.Record()
	}
	return NewParamStore(records...), nil
}

func (store *SQLStore) LatestRun(ctx context.Context) (string, *ParamStore, error) {
	id, err := store.LatestRunID(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrRunNotFound
	}
	if err != nil {
		return "", nil, err
	}
	params, err := store.LoadRun(ctx, id)
	return id, params, err
}
