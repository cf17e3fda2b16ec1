package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/model"
)

// ErrVersionConflict is returned by SaveFieldStore when the stored version
// no longer matches the version the caller loaded.
var ErrVersionConflict = eris.New("store: field store version conflict")

// FieldStoreRepo loads and saves whole field stores.
type FieldStoreRepo interface {
	// LoadFieldStore returns nil, nil when the entity has no store yet.
	LoadFieldStore(ctx context.Context, entityID string) (*model.FieldStore, error)
	// SaveFieldStore writes fs if its Meta.Version still matches the stored
	// version, then bumps fs.Meta. Otherwise it returns ErrVersionConflict.
	SaveFieldStore(ctx context.Context, fs *model.FieldStore) error
}

// GraphRepo persists the denormalized graph view.
type GraphRepo interface {
	SaveGraph(ctx context.Context, g *model.Graph) error
	// LoadGraph returns nil, nil when nothing has been materialized.
	LoadGraph(ctx context.Context, entityID string) (*model.Graph, error)
}

// RunSource looks up upstream diagnostic runs.
type RunSource interface {
	// GetLatestRun returns the newest run of kind for entityID, or nil, nil.
	// An empty kind matches any kind.
	GetLatestRun(ctx context.Context, entityID, kind string) (*model.Run, error)
	// GetLatestCompleteRun is GetLatestRun restricted to complete runs.
	GetLatestCompleteRun(ctx context.Context, entityID, kind string) (*model.Run, error)
	// GetRun returns the run with id, or nil, nil.
	GetRun(ctx context.Context, runID string) (*model.Run, error)
}

// RunWriter records upstream runs.
type RunWriter interface {
	CreateRun(ctx context.Context, run *model.Run) error
}

// Store is the full persistence surface.
type Store interface {
	FieldStoreRepo
	GraphRepo
	RunSource
	RunWriter

	ListEntities(ctx context.Context) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
