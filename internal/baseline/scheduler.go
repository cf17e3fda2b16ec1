// Package baseline fills missing required fields after upstream runs
// complete. It is best-effort: every call returns a Result and nothing
// propagates to the caller.
package baseline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/debounce"
	"github.com/sells-group/factbase/internal/extract"
	"github.com/sells-group/factbase/internal/metrics"
	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/propose"
	"github.com/sells-group/factbase/internal/registry"
	"github.com/sells-group/factbase/internal/store"
)

// Skip reasons reported in Result.Skipped.
const (
	SkipDisabled        = "disabled"
	SkipInvalidTrigger  = "invalid_trigger"
	SkipDebounced       = "debounced"
	SkipUnknownImporter = "unknown_importer"
	SkipNoMissing       = "no_missing"
	SkipNoRun           = "no_run"
	SkipNoCandidates    = "no_candidates"
)

// Proposer is the slice of the proposal engine the scheduler calls.
type Proposer interface {
	ProposeE(ctx context.Context, req propose.Request) (*model.ProposalOutcome, error)
}

// Config controls the scheduler.
type Config struct {
	Enabled bool
	// Debounce is the window during which repeat triggers are ignored.
	// Zero disables debouncing.
	Debounce        time.Duration
	DefaultImporter string
}

// ConfigFrom builds scheduler settings from the app config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Enabled:         cfg.Baseline.Enabled,
		Debounce:        time.Duration(cfg.Baseline.DebounceSecs) * time.Second,
		DefaultImporter: cfg.Baseline.DefaultImporter,
	}
}

// Trigger identifies the upstream event.
type Trigger struct {
	EntityID    string `json:"entity_id"`
	TriggeredBy string `json:"triggered_by"`
	// RunID selects a specific upstream run; empty means the latest run of
	// the importer's kind.
	RunID string `json:"run_id,omitempty"`
	// ImporterID overrides Config.DefaultImporter.
	ImporterID string `json:"importer_id,omitempty"`
}

// Result summarizes one invocation.
type Result struct {
	Attempted      int      `json:"attempted"`
	Created        int      `json:"created"`
	Failed         int      `json:"failed"`
	Skipped        string   `json:"skipped,omitempty"`
	Missing        []string `json:"missing,omitempty"`
	ExtractionPath string   `json:"extraction_path,omitempty"`
	RunID          string   `json:"run_id,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Required   *registry.Required
	Extractors *extract.Registry
	Runs       store.RunSource
	Fields     store.FieldStoreRepo
	Engine     Proposer
	Marker     debounce.Marker
}

// Scheduler decides whether a trigger warrants a baseline proposal and runs it.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New creates a Scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	if deps.Required == nil {
		deps.Required = registry.Default()
	}
	if deps.Extractors == nil {
		deps.Extractors = extract.DefaultRegistry()
	}
	return &Scheduler{
		cfg:  cfg,
		deps: deps,
		log:  zap.L().With(zap.String("component", "baseline")),
	}
}

// AutoProposeBaselineIfNeeded proposes candidates for required fields that
// are still missing, using the triggering run's raw result.
func (s *Scheduler) AutoProposeBaselineIfNeeded(ctx context.Context, t Trigger) (res Result) {
	log := s.log.With(
		zap.String("entity_id", t.EntityID),
		zap.String("triggered_by", t.TriggeredBy),
		zap.String("run_id", t.RunID),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("baseline panicked", zap.Any("panic", r))
			res.Failed = res.Attempted
			res.Created = 0
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		metrics.BaselineRunsTotal.WithLabelValues(resultLabel(res)).Inc()
	}()

	if !s.cfg.Enabled {
		return Result{Skipped: SkipDisabled}
	}
	if t.EntityID == "" {
		return Result{Skipped: SkipInvalidTrigger, Error: "entity id is required"}
	}

	if s.cfg.Debounce > 0 && s.deps.Marker != nil {
		key := debounce.Key(t.EntityID, t.TriggeredBy, t.RunID)
		ok, err := s.deps.Marker.Acquire(ctx, key, s.cfg.Debounce)
		switch {
		case err != nil:
			log.Warn("debounce marker unavailable, proceeding", zap.Error(err))
		case !ok:
			log.Debug("baseline debounced")
			return Result{Skipped: SkipDebounced}
		}
	}

	importerID := t.ImporterID
	if importerID == "" {
		importerID = s.cfg.DefaultImporter
	}
	ext, ok := s.deps.Extractors.Get(importerID)
	if !ok {
		return Result{Skipped: SkipUnknownImporter, Error: fmt.Sprintf("unknown importer %q", importerID)}
	}

	fs, err := s.deps.Fields.LoadFieldStore(ctx, t.EntityID)
	if err != nil {
		log.Error("baseline: load field store", zap.Error(err))
		return Result{Error: err.Error()}
	}
	missing := s.deps.Required.Missing(fs)
	res.Missing = registry.Paths(missing)
	if len(missing) == 0 {
		res.Skipped = SkipNoMissing
		return res
	}

	run, err := s.findRun(ctx, t, importerID)
	if err != nil {
		log.Error("baseline: find run", zap.Error(err))
		res.Error = err.Error()
		return res
	}
	if run == nil {
		res.Skipped = SkipNoRun
		return res
	}
	res.RunID = run.ID

	extracted := ext.Extract(run.RawResult)
	res.ExtractionPath = extracted.ExtractionPath
	cands := filterCandidates(extracted.Candidates, registry.AcceptKeys(missing))
	if len(cands) == 0 {
		res.Skipped = SkipNoCandidates
		return res
	}

	res.Attempted = len(cands)
	out, err := s.deps.Engine.ProposeE(ctx, propose.Request{
		EntityID:       t.EntityID,
		ImporterID:     importerID,
		Source:         importerID,
		SourceID:       run.ID,
		ExtractionPath: extracted.ExtractionPath,
		Candidates:     cands,
	})
	if err != nil {
		log.Error("baseline: propose failed", zap.Error(err))
		res.Failed = res.Attempted
		res.Error = err.Error()
		return res
	}

	res.Created = out.ProposedCount
	res.Failed = len(out.Errors)
	log.Info("baseline proposed",
		zap.Int("missing", len(missing)),
		zap.Int("attempted", res.Attempted),
		zap.Int("created", res.Created),
		zap.Int("failed", res.Failed),
	)
	return res
}

// findRun returns the trigger's run, or the newest complete run of kind.
func (s *Scheduler) findRun(ctx context.Context, t Trigger, kind string) (*model.Run, error) {
	if t.RunID != "" {
		run, err := s.deps.Runs.GetRun(ctx, t.RunID)
		if err != nil || run == nil || run.EntityID != t.EntityID {
			return nil, err
		}
		return run, nil
	}
	return s.deps.Runs.GetLatestCompleteRun(ctx, t.EntityID, kind)
}

// filterCandidates keeps the first candidate per missing required field,
// preserving input order.
func filterCandidates(cands []model.Candidate, accept map[string]string) []model.Candidate {
	taken := make(map[string]bool, len(accept))
	var out []model.Candidate
	for _, c := range cands {
		spec, ok := accept[c.Key]
		if !ok || taken[spec] {
			continue
		}
		taken[spec] = true
		out = append(out, c)
	}
	return out
}

func resultLabel(r Result) string {
	switch {
	case r.Skipped != "":
		return r.Skipped
	case r.Error != "" || r.Failed > 0:
		return "failed"
	default:
		return "proposed"
	}
}
