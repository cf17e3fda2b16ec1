// Package propose merges importer candidates into a company's field store.
package propose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/metrics"
	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/resilience"
	"github.com/sells-group/factbase/internal/store"
)

// History reasons written by the engine.
const (
	ReasonReplaced   = "replaced"
	ReasonReproposed = "reproposed"
)

// Request is one batch of candidates from a single importer run.
type Request struct {
	EntityID       string            `json:"entity_id"`
	ImporterID     string            `json:"importer_id"`
	Source         string            `json:"source"`
	SourceID       string            `json:"source_id"`
	ExtractionPath string            `json:"extraction_path"`
	Candidates     []model.Candidate `json:"candidates"`
}

// Config tunes conflict resolution.
type Config struct {
	// ReplaceConfidenceDelta is the margin by which a new confidence must
	// exceed the stored one for an equal value to replace a proposed record.
	ReplaceConfidenceDelta float64
	// MaxConflictRetries bounds reload-and-reapply cycles after a
	// concurrent save.
	MaxConflictRetries int
	Retry              resilience.Policy
}

// ConfigFrom builds engine settings from the app config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ReplaceConfidenceDelta: cfg.Propose.ReplaceConfidenceDelta,
		MaxConflictRetries:     cfg.Propose.MaxConflictRetries,
		Retry:                  resilience.FromConfig(cfg.Retry),
	}
}

// Engine applies candidate batches to field stores.
type Engine struct {
	fields store.FieldStoreRepo
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
}

// NewEngine creates an Engine over fields.
func NewEngine(fields store.FieldStoreRepo, cfg Config) *Engine {
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	return &Engine{
		fields: fields,
		cfg:    cfg,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "propose")),
	}
}

// Propose applies req and always returns an outcome. Failures are
// reported in the outcome's Errors.
func (e *Engine) Propose(ctx context.Context, req Request) *model.ProposalOutcome {
	out, _ := e.ProposeE(ctx, req)
	return out
}

// ProposeE is Propose that also returns the batch-level error, if any.
// Per-candidate problems only appear in the outcome.
func (e *Engine) ProposeE(ctx context.Context, req Request) (*model.ProposalOutcome, error) {
	if req.EntityID == "" {
		err := eris.New("propose: entity id is required")
		out := model.NewProposalOutcome()
		out.Errors = append(out.Errors, err.Error())
		return out, err
	}

	policy := e.cfg.Retry
	policy.MaxAttempts = e.cfg.MaxConflictRetries + 1
	policy.Retryable = resilience.Any(isConflict, resilience.IsTransient)
	policy.OnRetry = resilience.RetryLogger("propose", "save field store")

	var last *model.ProposalOutcome
	err := resilience.Do(ctx, policy, func(ctx context.Context) error {
		out, err := e.attempt(ctx, req)
		last = out
		return err
	})
	if err != nil {
		if last == nil {
			last = model.NewProposalOutcome()
		}
		failed := model.NewProposalOutcome()
		failed.Errors = append(last.Errors, err.Error())
		metrics.RecordProposal(req.ImporterID, 0, 0, 0, len(failed.Errors))
		e.log.Error("proposal batch failed",
			zap.String("entity_id", req.EntityID),
			zap.String("importer_id", req.ImporterID),
			zap.Int("candidates", len(req.Candidates)),
			zap.Error(err),
		)
		return failed, err
	}

	metrics.RecordProposal(req.ImporterID, last.ProposedCount, last.ReplacedCount, last.BlockedCount, len(last.Errors))
	e.log.Info("proposal batch applied",
		zap.String("entity_id", req.EntityID),
		zap.String("importer_id", req.ImporterID),
		zap.String("extraction_path", req.ExtractionPath),
		zap.Int("proposed", last.ProposedCount),
		zap.Int("replaced", last.ReplacedCount),
		zap.Int("blocked", last.BlockedCount),
		zap.Int("errors", len(last.Errors)),
	)
	return last, nil
}

// attempt loads the store, applies the batch and saves once.
func (e *Engine) attempt(ctx context.Context, req Request) (*model.ProposalOutcome, error) {
	fs, err := e.fields.LoadFieldStore(ctx, req.EntityID)
	if err != nil {
		return nil, eris.Wrapf(err, "propose: load field store %s", req.EntityID)
	}
	if fs == nil {
		fs = model.NewFieldStore(req.EntityID)
	}

	out := e.apply(fs, req)
	if out.ProposedCount+out.ReplacedCount == 0 {
		return out, nil
	}
	if err := e.fields.SaveFieldStore(ctx, fs); err != nil {
		return out, eris.Wrapf(err, "propose: save field store %s", req.EntityID)
	}
	return out, nil
}

// apply merges candidates into fs in input order.
func (e *Engine) apply(fs *model.FieldStore, req Request) *model.ProposalOutcome {
	out := model.NewProposalOutcome()
	now := e.now().UTC()

	for i, c := range req.Candidates {
		key, err := candidateKey(c)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("candidate %d: %v", i, err))
			continue
		}
		value, err := normalizeValue(c.Value)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("candidate %d (%s): %v", i, key, err))
			continue
		}
		conf := clamp(c.Confidence)
		ev := e.evidence(req, c)

		existing := fs.Get(key)
		switch {
		case existing == nil:
			fs.Put(&model.FieldRecord{
				Key:        key,
				Value:      value,
				Status:     model.FieldStatusProposed,
				Confidence: conf,
				Evidence:   ev,
				UpdatedAt:  now,
			})
			out.ProposedCount++
			out.ProposedKeys = append(out.ProposedKeys, key)

		case existing.Status == model.FieldStatusConfirmed:
			out.BlockedCount++
			out.BlockedKeys = append(out.BlockedKeys, key)

		case existing.Status == model.FieldStatusProposed:
			if valuesEqual(existing.Value, value) && conf <= existing.Confidence+e.cfg.ReplaceConfidenceDelta {
				out.BlockedCount++
				out.BlockedKeys = append(out.BlockedKeys, key)
				continue
			}
			existing.PushHistory(ReasonReplaced, now)
			existing.Value = value
			existing.Confidence = conf
			existing.Evidence = ev
			existing.UpdatedAt = now
			out.ReplacedCount++
			out.ReplacedKeys = append(out.ReplacedKeys, key)

		case existing.Status == model.FieldStatusRejected:
			existing.PushHistory(ReasonReproposed, now)
			existing.Value = value
			existing.Status = model.FieldStatusProposed
			existing.Confidence = conf
			existing.Evidence = ev
			existing.UpdatedAt = now
			existing.DecidedAt = nil
			existing.DecidedBy = ""
			out.ProposedCount++
			out.ProposedKeys = append(out.ProposedKeys, key)

		default:
			out.Errors = append(out.Errors, fmt.Sprintf("candidate %d (%s): stored status %q is unknown", i, key, existing.Status))
		}
	}
	return out
}

func (e *Engine) evidence(req Request, c model.Candidate) *model.Evidence {
	source := req.Source
	if source == "" {
		source = c.Source
	}
	if source == "" {
		source = req.ImporterID
	}
	return &model.Evidence{
		Source:        source,
		SourceID:      req.SourceID,
		ImporterID:    req.ImporterID,
		Text:          c.EvidenceText,
		Pointer:       req.ExtractionPath,
		CanonicalHash: c.CanonicalHash,
	}
}

func candidateKey(c model.Candidate) (string, error) {
	domain, field, ok := model.SplitKey(c.Key)
	if !ok {
		return "", eris.Errorf("invalid key %q", c.Key)
	}
	return domain + "." + field, nil
}

// normalizeValue round-trips v through JSON so values compare the same
// way before and after persistence.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, eris.New("value is empty")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "value is not JSON-serializable")
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "value is not JSON-serializable")
	}
	return out, nil
}

func valuesEqual(a, b any) bool {
	na, errA := normalizeValue(a)
	nb, errB := normalizeValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return cmp.Equal(na, nb)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrVersionConflict)
}

func clamp(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
