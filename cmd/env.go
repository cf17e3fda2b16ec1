package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factbase/internal/baseline"
	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/debounce"
	"github.com/sells-group/factbase/internal/extract"
	"github.com/sells-group/factbase/internal/findings"
	"github.com/sells-group/factbase/internal/health"
	"github.com/sells-group/factbase/internal/materialize"
	"github.com/sells-group/factbase/internal/propose"
	"github.com/sells-group/factbase/internal/registry"
	"github.com/sells-group/factbase/internal/resilience"
	"github.com/sells-group/factbase/internal/review"
	"github.com/sells-group/factbase/internal/server"
	"github.com/sells-group/factbase/internal/store"
)

// appEnv holds the store and every service built over it.
type appEnv struct {
	Store        store.Store
	Marker       debounce.Marker
	Required     *registry.Required
	Extractors   *extract.Registry
	Engine       *propose.Engine
	Scheduler    *baseline.Scheduler
	Materializer *materialize.Materializer
	Health       *health.Evaluator
	Review       *review.Service
	Promoter     *findings.Promoter
}

// Close releases the store and the debounce marker.
func (e *appEnv) Close() {
	if c, ok := e.Marker.(io.Closer); ok {
		_ = c.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// serverDeps exposes the environment to the HTTP server.
func (e *appEnv) serverDeps() server.Deps {
	return server.Deps{
		Store:        e.Store,
		Engine:       e.Engine,
		Extractors:   e.Extractors,
		Scheduler:    e.Scheduler,
		Materializer: e.Materializer,
		Health:       e.Health,
		Review:       e.Review,
		Promoter:     e.Promoter,
	}
}

// initEnv validates c for mode, opens and migrates the store, and wires the
// services. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(ctx, c, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires services over an already-open store.
func buildEnv(ctx context.Context, c *config.Config, st store.Store) (*appEnv, error) {
	required, err := registry.Load(c.Registry.RequiredFieldsPath)
	if err != nil {
		return nil, err
	}
	marker, err := debounce.Open(ctx, c.Debounce)
	if err != nil {
		return nil, eris.Wrap(err, "open debounce marker")
	}

	extractors := extract.DefaultRegistry()
	engine := propose.NewEngine(st, propose.ConfigFrom(c))

	return &appEnv{
		Store:      st,
		Marker:     marker,
		Required:   required,
		Extractors: extractors,
		Engine:     engine,
		Scheduler: baseline.New(baseline.ConfigFrom(c), baseline.Deps{
			Required:   required,
			Extractors: extractors,
			Runs:       st,
			Fields:     st,
			Engine:     engine,
			Marker:     marker,
		}),
		Materializer: materialize.New(st, st),
		Health:       health.NewEvaluator(health.ConfigFrom(c), st, st, extractors),
		Review:       review.NewService(st, resilience.FromConfig(c.Retry)),
		Promoter:     findings.NewPromoter(st, engine, findings.Config{AllowCrossField: c.Findings.AllowCrossField}),
	}, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
