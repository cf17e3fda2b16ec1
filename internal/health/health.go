// Package health summarizes an entity's field store and upstream run state
// as a GREEN/YELLOW/RED status. Evaluation never fails: a check that errors
// or panics contributes no reason.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/extract"
	"github.com/sells-group/factbase/internal/metrics"
	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/store"
)

// Status is the reduced health level.
type Status string

const (
	StatusGreen  Status = "GREEN"
	StatusYellow Status = "YELLOW"
	StatusRed    Status = "RED"
)

// Reason names one failed check.
type Reason string

const (
	ReasonFlagDisabled              Reason = "FLAG_DISABLED"
	ReasonNoStore                   Reason = "NO_V4_STORE"
	ReasonNoUpstreamRun             Reason = "NO_UPSTREAM_RUN"
	ReasonRunStale                  Reason = "RUN_STALE"
	ReasonUpstreamRunFailed         Reason = "UPSTREAM_RUN_FAILED"
	ReasonProposeZeroExtractMissing Reason = "PROPOSE_ZERO_EXTRACT_MISSING"
	ReasonProposeZeroNoCandidates   Reason = "PROPOSE_ZERO_NO_CANDIDATES"
	ReasonProposeZeroAllDuplicates  Reason = "PROPOSE_ZERO_ALL_DUPLICATES"
)

var redReasons = map[Reason]bool{
	ReasonFlagDisabled:              true,
	ReasonNoStore:                   true,
	ReasonNoUpstreamRun:             true,
	ReasonProposeZeroExtractMissing: true,
}

var yellowReasons = map[Reason]bool{
	ReasonRunStale:                 true,
	ReasonUpstreamRunFailed:        true,
	ReasonProposeZeroNoCandidates:  true,
	ReasonProposeZeroAllDuplicates: true,
}

// Reduce maps reasons to a status: any RED reason wins, then any YELLOW
// reason, otherwise GREEN. Unknown reasons are ignored.
func Reduce(reasons []Reason) Status {
	status := StatusGreen
	for _, r := range reasons {
		if redReasons[r] {
			return StatusRed
		}
		if yellowReasons[r] {
			status = StatusYellow
		}
	}
	return status
}

// Report is the evaluator output.
type Report struct {
	EntityID        string             `json:"entity_id"`
	Status          Status             `json:"status"`
	Reasons         []Reason           `json:"reasons"`
	StoreExists     bool               `json:"store_exists"`
	FieldCounts     model.StatusCounts `json:"field_counts"`
	LatestRunID     string             `json:"latest_run_id,omitempty"`
	LatestRunStatus model.RunStatus    `json:"latest_run_status,omitempty"`
	LatestRunAge    string             `json:"latest_run_age,omitempty"`
	ExtractionPath  string             `json:"extraction_path,omitempty"`
	CandidateCount  int                `json:"candidate_count"`
	CheckErrors     []string           `json:"check_errors,omitempty"`
	CheckedAt       time.Time          `json:"checked_at"`
}

// Config controls the evaluator.
type Config struct {
	Enabled bool
	// UpstreamKind is the run kind inspected for freshness and extraction.
	UpstreamKind string
	StaleAfter   time.Duration
}

// ConfigFrom builds evaluator settings from the app config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Enabled:      cfg.Health.Enabled,
		UpstreamKind: cfg.Health.UpstreamKind,
		StaleAfter:   time.Duration(cfg.Health.StaleAfterHours) * time.Hour,
	}
}

// Evaluator computes health reports. It only reads.
type Evaluator struct {
	cfg        Config
	fields     store.FieldStoreRepo
	runs       store.RunSource
	extractors *extract.Registry
	now        func() time.Time
	log        *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil registry means the default importers.
func NewEvaluator(cfg Config, fields store.FieldStoreRepo, runs store.RunSource, extractors *extract.Registry) *Evaluator {
	if extractors == nil {
		extractors = extract.DefaultRegistry()
	}
	return &Evaluator{
		cfg:        cfg,
		fields:     fields,
		runs:       runs,
		extractors: extractors,
		now:        time.Now,
		log:        zap.L().With(zap.String("component", "health")),
	}
}

// snapshot is the state every check reads.
type snapshot struct {
	store    *model.FieldStore
	storeErr error
	run      *model.Run
	runErr   error
	now      time.Time
}

type check struct {
	name string
	run  func(e *Evaluator, s *snapshot, r *Report) (Reason, bool)
}

// checks run in this order; each may add at most one reason.
var checks = []check{
	{"flag", checkFlag},
	{"store", checkStore},
	{"upstream_run", checkUpstreamRun},
	{"run_stale", checkRunStale},
	{"run_failed", checkRunFailed},
	{"propose_zero", checkProposeZero},
}

// ComputeHealthStatus evaluates entityID. It always returns a report.
func (e *Evaluator) ComputeHealthStatus(ctx context.Context, entityID string) *Report {
	snap := e.fetch(ctx, entityID)
	rep := &Report{EntityID: entityID, Reasons: []Reason{}, CheckedAt: snap.now}

	for _, c := range checks {
		if reason, ok := e.runCheck(c, snap, rep); ok {
			rep.Reasons = append(rep.Reasons, reason)
		}
	}
	rep.Status = Reduce(rep.Reasons)

	metrics.HealthStatusTotal.WithLabelValues(string(rep.Status)).Inc()
	e.log.Debug("health computed",
		zap.String("entity_id", entityID),
		zap.String("status", string(rep.Status)),
		zap.Any("reasons", rep.Reasons),
	)
	return rep
}

// fetch loads the store and latest run concurrently. Failures are kept on
// the snapshot for the checks to interpret.
func (e *Evaluator) fetch(ctx context.Context, entityID string) *snapshot {
	snap := &snapshot{now: e.now().UTC()}
	var g errgroup.Group
	g.Go(func() error {
		defer recoverInto(&snap.storeErr)
		snap.store, snap.storeErr = e.fields.LoadFieldStore(ctx, entityID)
		return nil
	})
	g.Go(func() error {
		defer recoverInto(&snap.runErr)
		snap.run, snap.runErr = e.runs.GetLatestRun(ctx, entityID, e.cfg.UpstreamKind)
		return nil
	})
	_ = g.Wait()
	return snap
}

func (e *Evaluator) runCheck(c check, s *snapshot, r *Report) (reason Reason, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Warn("health check panicked", zap.String("check", c.name), zap.Any("panic", p))
			r.CheckErrors = append(r.CheckErrors, fmt.Sprintf("%s: %v", c.name, p))
			reason, ok = "", false
		}
	}()
	return c.run(e, s, r)
}

func recoverInto(err *error) {
	if p := recover(); p != nil {
		*err = eris.Errorf("panic: %v", p)
	}
}

func checkFlag(e *Evaluator, _ *snapshot, _ *Report) (Reason, bool) {
	return ReasonFlagDisabled, !e.cfg.Enabled
}

func checkStore(_ *Evaluator, s *snapshot, r *Report) (Reason, bool) {
	if s.storeErr != nil {
		r.CheckErrors = append(r.CheckErrors, "store: "+s.storeErr.Error())
		return ReasonNoStore, true
	}
	if s.store == nil {
		return ReasonNoStore, true
	}
	r.StoreExists = true
	r.FieldCounts = s.store.CountByStatus()
	return "", false
}

func checkUpstreamRun(_ *Evaluator, s *snapshot, r *Report) (Reason, bool) {
	if s.runErr != nil {
		r.CheckErrors = append(r.CheckErrors, "upstream_run: "+s.runErr.Error())
		return ReasonNoUpstreamRun, true
	}
	if s.run == nil {
		return ReasonNoUpstreamRun, true
	}
	r.LatestRunID = s.run.ID
	r.LatestRunStatus = s.run.Status
	r.LatestRunAge = s.now.Sub(s.run.CreatedAt).Round(time.Second).String()
	return "", false
}

func checkRunStale(e *Evaluator, s *snapshot, _ *Report) (Reason, bool) {
	if s.run == nil || e.cfg.StaleAfter <= 0 {
		return "", false
	}
	return ReasonRunStale, s.now.Sub(s.run.CreatedAt) > e.cfg.StaleAfter
}

func checkRunFailed(_ *Evaluator, s *snapshot, _ *Report) (Reason, bool) {
	return ReasonUpstreamRunFailed, s.run != nil && s.run.Status == model.RunStatusFailed
}

// checkProposeZero explains why the latest run would yield no new
// proposals. Only complete runs carry a result to extract. Records already
// carrying this run's evidence were proposed by it and do not count as
// duplicates.
func checkProposeZero(e *Evaluator, s *snapshot, r *Report) (Reason, bool) {
	if s.run == nil || s.run.Status != model.RunStatusComplete {
		return "", false
	}
	kind := s.run.Kind
	if kind == "" {
		kind = e.cfg.UpstreamKind
	}
	ext, ok := e.extractors.Get(kind)
	if !ok {
		r.CheckErrors = append(r.CheckErrors, fmt.Sprintf("propose_zero: no extractor for kind %q", kind))
		return "", false
	}

	res := ext.Extract(s.run.RawResult)
	r.ExtractionPath = res.ExtractionPath
	r.CandidateCount = len(res.Candidates)

	switch {
	case res.ExtractionPath == "":
		return ReasonProposeZeroExtractMissing, true
	case len(res.Candidates) == 0:
		return ReasonProposeZeroNoCandidates, true
	}

	for _, c := range res.Candidates {
		if !s.store.Satisfied(c.Key) {
			return "", false
		}
		if rec := s.store.Get(c.Key); rec.Evidence != nil && rec.Evidence.SourceID == s.run.ID {
			return "", false
		}
	}
	return ReasonProposeZeroAllDuplicates, true
}
