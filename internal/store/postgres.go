package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/factbase/internal/db"
	"github.com/sells-group/factbase/internal/model"
)

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
CREATE TABLE IF NOT EXISTS field_stores (
	entity_id  TEXT PRIMARY KEY,
	fields     JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entity_graphs (
	entity_id       TEXT PRIMARY KEY,
	document        JSONB NOT NULL,
	sources         JSONB NOT NULL DEFAULT '[]',
	field_count     INTEGER NOT NULL DEFAULT 0,
	materialized_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	raw_result JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_entity_kind ON runs(entity_id, kind, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadFieldStore(ctx context.Context, entityID string) (*model.FieldStore, error) {
	var (
		fields  []byte
		version int64
		updated time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT fields, version, updated_at FROM field_stores WHERE entity_id = $1`,
		entityID,
	).Scan(&fields, &version, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load field store %s", entityID)
	}

	recs, err := decodeFields(entityID, fields)
	if err != nil {
		return nil, err
	}
	return &model.FieldStore{
		EntityID: entityID,
		Fields:   recs,
		Meta:     model.FieldStoreMeta{LastUpdated: updated.UTC(), Version: version},
	}, nil
}

func (s *PostgresStore) SaveFieldStore(ctx context.Context, fs *model.FieldStore) error {
	data, err := encodeFields(fs)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	next := fs.Meta.Version + 1

	var sql string
	var args []any
	if fs.Meta.Version == 0 {
		sql = `INSERT INTO field_stores (entity_id, fields, version, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_id) DO NOTHING`
		args = []any{fs.EntityID, string(data), next, now}
	} else {
		sql = `UPDATE field_stores SET fields = $1, version = $2, updated_at = $3 WHERE entity_id = $4 AND version = $5`
		args = []any{string(data), next, now, fs.EntityID, fs.Meta.Version}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: save field store %s", fs.EntityID)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	fs.Meta.Version = next
	fs.Meta.LastUpdated = now
	return nil
}

func (s *PostgresStore) SaveGraph(ctx context.Context, g *model.Graph) error {
	sources, err := encodeSources(g.Sources)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entity_graphs (entity_id, document, sources, field_count, materialized_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (entity_id) DO UPDATE SET document = EXCLUDED.document, sources = EXCLUDED.sources,
		 field_count = EXCLUDED.field_count, materialized_at = EXCLUDED.materialized_at`,
		g.EntityID, string(g.Document), string(sources), g.FieldCount, g.MaterializedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save graph %s", g.EntityID)
}

func (s *PostgresStore) LoadGraph(ctx context.Context, entityID string) (*model.Graph, error) {
	var (
		doc, sources []byte
		count        int
		at           time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT document, sources, field_count, materialized_at FROM entity_graphs WHERE entity_id = $1`,
		entityID,
	).Scan(&doc, &sources, &count, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load graph %s", entityID)
	}

	g := &model.Graph{EntityID: entityID, Document: doc, FieldCount: count, MaterializedAt: at.UTC()}
	if g.Sources, err = decodeSources(sources); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, entity_id, kind, status, raw_result, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.EntityID, run.Kind, string(run.Status), raw, run.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_id, kind, status, raw_result, created_at FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, eris.Wrapf(err, "postgres: get run %s", runID)
}

func (s *PostgresStore) GetLatestRun(ctx context.Context, entityID, kind string) (*model.Run, error) {
	return s.latestRun(ctx, entityID, kind, "")
}

func (s *PostgresStore) GetLatestCompleteRun(ctx context.Context, entityID, kind string) (*model.Run, error) {
	return s.latestRun(ctx, entityID, kind, model.RunStatusComplete)
}

func (s *PostgresStore) latestRun(ctx context.Context, entityID, kind string, status model.RunStatus) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_id, kind, status, raw_result, created_at FROM runs
		 WHERE entity_id = $1 AND ($2 = '' OR kind = $2) AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC LIMIT 1`,
		entityID, kind, string(status),
	)
	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, eris.Wrapf(err, "postgres: get latest run for %s", entityID)
}

func (s *PostgresStore) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT entity_id FROM field_stores ORDER BY entity_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrap(err, "postgres: collect entities")
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var (
		run    model.Run
		status string
		raw    []byte
	)
	if err := row.Scan(&run.ID, &run.EntityID, &run.Kind, &status, &raw, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if len(raw) > 0 {
		run.RawResult = raw
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return &run, nil
}
