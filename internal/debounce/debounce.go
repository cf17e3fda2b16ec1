// Package debounce provides advisory markers that suppress repeated work
// for the same key within a time window.
package debounce

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factbase/internal/config"
)

// Marker claims a key for ttl. Acquire returns true when the caller holds
// the key and false when it was already claimed inside the window.
type Marker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Key builds the marker key for one baseline trigger.
func Key(entityID, triggeredBy, runID string) string {
	return strings.Join([]string{"baseline", entityID, triggeredBy, runID}, "|")
}

// Open returns the marker selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DebounceConfig) (Marker, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryMarker(cfg.MaxKeys), nil
	case "redis":
		m, err := NewRedisMarker(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, eris.Errorf("debounce: unknown driver %q", cfg.Driver)
	}
}
