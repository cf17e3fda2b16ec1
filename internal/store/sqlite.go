package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/factbase/internal/model"
)

// sqliteTimeFormat is fixed width so timestamps sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS field_stores (
	entity_id  TEXT PRIMARY KEY,
	fields     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_graphs (
	entity_id       TEXT PRIMARY KEY,
	document        TEXT NOT NULL,
	sources         TEXT NOT NULL,
	field_count     INTEGER NOT NULL DEFAULT 0,
	materialized_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	raw_result TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_entity_kind ON runs(entity_id, kind, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadFieldStore(ctx context.Context, entityID string) (*model.FieldStore, error) {
	var (
		fields  string
		version int64
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fields, version, updated_at FROM field_stores WHERE entity_id = ?`,
		entityID,
	).Scan(&fields, &version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load field store %s", entityID)
	}

	recs, err := decodeFields(entityID, []byte(fields))
	if err != nil {
		return nil, err
	}
	ts, err := parseSQLiteTime(updated)
	if err != nil {
		return nil, err
	}
	return &model.FieldStore{
		EntityID: entityID,
		Fields:   recs,
		Meta:     model.FieldStoreMeta{LastUpdated: ts, Version: version},
	}, nil
}

func (s *SQLiteStore) SaveFieldStore(ctx context.Context, fs *model.FieldStore) error {
	data, err := encodeFields(fs)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	next := fs.Meta.Version + 1

	var res sql.Result
	if fs.Meta.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO field_stores (entity_id, fields, version, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(entity_id) DO NOTHING`,
			fs.EntityID, string(data), next, now.Format(sqliteTimeFormat),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE field_stores SET fields = ?, version = ?, updated_at = ? WHERE entity_id = ? AND version = ?`,
			string(data), next, now.Format(sqliteTimeFormat), fs.EntityID, fs.Meta.Version,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save field store %s", fs.EntityID)
	}
	if err := checkVersionApplied(res); err != nil {
		return err
	}

	fs.Meta.Version = next
	fs.Meta.LastUpdated = now
	return nil
}

func (s *SQLiteStore) SaveGraph(ctx context.Context, g *model.Graph) error {
	sources, err := encodeSources(g.Sources)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_graphs (entity_id, document, sources, field_count, materialized_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET document = excluded.document, sources = excluded.sources,
		 field_count = excluded.field_count, materialized_at = excluded.materialized_at`,
		g.EntityID, string(g.Document), string(sources), g.FieldCount, g.MaterializedAt.UTC().Format(sqliteTimeFormat),
	)
	return eris.Wrapf(err, "sqlite: save graph %s", g.EntityID)
}

func (s *SQLiteStore) LoadGraph(ctx context.Context, entityID string) (*model.Graph, error) {
	var (
		doc, sources, at string
		count            int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document, sources, field_count, materialized_at FROM entity_graphs WHERE entity_id = ?`,
		entityID,
	).Scan(&doc, &sources, &count, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load graph %s", entityID)
	}

	g := &model.Graph{EntityID: entityID, Document: []byte(doc), FieldCount: count}
	if g.Sources, err = decodeSources([]byte(sources)); err != nil {
		return nil, err
	}
	if g.MaterializedAt, err = parseSQLiteTime(at); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}

	var raw any
	if len(run.RawResult) > 0 {
		raw = string(run.RawResult)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, entity_id, kind, status, raw_result, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.EntityID, run.Kind, string(run.Status), raw, run.CreatedAt.UTC().Format(sqliteTimeFormat),
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, kind, status, raw_result, created_at FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, eris.Wrapf(err, "sqlite: get run %s", runID)
}

func (s *SQLiteStore) GetLatestRun(ctx context.Context, entityID, kind string) (*model.Run, error) {
	return s.latestRun(ctx, entityID, kind, "")
}

func (s *SQLiteStore) GetLatestCompleteRun(ctx context.Context, entityID, kind string) (*model.Run, error) {
	return s.latestRun(ctx, entityID, kind, model.RunStatusComplete)
}

func (s *SQLiteStore) latestRun(ctx context.Context, entityID, kind string, status model.RunStatus) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, kind, status, raw_result, created_at FROM runs
		 WHERE entity_id = ? AND (? = '' OR kind = ?) AND (? = '' OR status = ?)
		 ORDER BY created_at DESC LIMIT 1`,
		entityID, kind, kind, string(status), string(status),
	)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, eris.Wrapf(err, "sqlite: get latest run for %s", entityID)
}

func (s *SQLiteStore) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_id FROM field_stores ORDER BY entity_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate entities")
}

// checkVersionApplied maps a zero-row compare-and-set to ErrVersionConflict.
func checkVersionApplied(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var (
		run     model.Run
		status  string
		raw     sql.NullString
		created string
	)
	if err := row.Scan(&run.ID, &run.EntityID, &run.Kind, &status, &raw, &created); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if raw.Valid {
		run.RawResult = []byte(raw.String)
	}
	ts, err := parseSQLiteTime(created)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = ts
	return &run, nil
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeFormat, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}
