// Package findings handles human-readable observations from diagnostic
// runs: parsing, duplicate detection by canonical hash, and promotion into
// field candidates.
package findings

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/factbase/internal/canon"
	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/propose"
	"github.com/sells-group/factbase/internal/store"
)

// ErrNoTargets is returned when a finding names no field to promote into.
var ErrNoTargets = eris.New("findings: no target fields")

// Parse reads findings from a run's raw result. Both a top-level
// "findings" array and one nested under "result" are accepted. Entries
// without a title or description are dropped.
func Parse(raw []byte) []model.Finding {
	out := []model.Finding{}
	if !gjson.ValidBytes(raw) {
		return out
	}
	root := gjson.ParseBytes(raw)
	list := root.Get("findings")
	if !list.IsArray() {
		list = root.Get("result.findings")
	}
	list.ForEach(func(_, item gjson.Result) bool {
		f := model.Finding{
			FindingID:     firstString(item, "finding_id", "id"),
			CanonicalHash: item.Get("canonical_hash").String(),
			Title:         strings.TrimSpace(item.Get("title").String()),
			Description:   strings.TrimSpace(item.Get("description").String()),
			Impact:        item.Get("impact").String(),
			Category:      item.Get("category").String(),
			Confidence:    confidence(item.Get("confidence")),
		}
		targets := item.Get("recommended_target_fields")
		if !targets.Exists() {
			targets = item.Get("target_fields")
		}
		targets.ForEach(func(_, v gjson.Result) bool {
			if s := strings.TrimSpace(v.String()); s != "" {
				f.RecommendedTargetFields = append(f.RecommendedTargetFields, s)
			}
			return true
		})
		if f.Title == "" && f.Description == "" {
			return true
		}
		if !canon.Valid(f.CanonicalHash) {
			f.CanonicalHash = canon.FindingHash(f)
		}
		if f.FindingID == "" {
			f.FindingID = f.CanonicalHash
		}
		f.PromotionStatus = model.PromotionStatus(item.Get("promotion_status").String())
		if f.PromotionStatus == "" {
			f.PromotionStatus = model.PromotionPending
		}
		out = append(out, f)
		return true
	})
	return out
}

// Dedupe splits findings into first occurrences and repeats of an earlier
// canonical hash. Repeats are marked duplicate.
func Dedupe(in []model.Finding) (unique, duplicates []model.Finding) {
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		if !canon.Valid(f.CanonicalHash) {
			f.CanonicalHash = canon.FindingHash(f)
		}
		if seen[f.CanonicalHash] {
			f.PromotionStatus = model.PromotionDuplicate
			duplicates = append(duplicates, f)
			continue
		}
		seen[f.CanonicalHash] = true
		unique = append(unique, f)
	}
	return unique, duplicates
}

// Candidates fans f out into one candidate per target key. An empty
// targets list falls back to the finding's recommended fields. A positive
// conf overrides the finding's confidence.
func Candidates(f model.Finding, targets []string, source string, conf float64) ([]model.Candidate, error) {
	if len(targets) == 0 {
		targets = f.RecommendedTargetFields
	}
	if len(targets) == 0 {
		return nil, eris.Wrapf(ErrNoTargets, "findings: promote %s", f.FindingID)
	}
	hash := f.CanonicalHash
	if !canon.Valid(hash) {
		hash = canon.FindingHash(f)
	}
	if conf <= 0 {
		conf = f.Confidence
	}
	value := f.Description
	if value == "" {
		value = f.Title
	}

	out := make([]model.Candidate, 0, len(targets))
	for _, key := range targets {
		out = append(out, model.Candidate{
			Key:           strings.TrimSpace(key),
			Value:         value,
			Confidence:    conf,
			Source:        source,
			EvidenceText:  f.Title,
			CanonicalHash: hash,
		})
	}
	return out, nil
}

// AlreadyPromoted returns the sorted keys whose live record carries hash in
// its evidence.
func AlreadyPromoted(fs *model.FieldStore, hash string) []string {
	var keys []string
	for _, k := range fs.Keys() {
		rec := fs.Get(k)
		if rec.Status == model.FieldStatusRejected || rec.Evidence == nil {
			continue
		}
		if rec.Evidence.CanonicalHash == hash {
			keys = append(keys, k)
		}
	}
	return keys
}

// Proposer is the slice of the proposal engine promotion needs.
type Proposer interface {
	ProposeE(ctx context.Context, req propose.Request) (*model.ProposalOutcome, error)
}

// Config controls promotion.
type Config struct {
	// AllowCrossField proposes a finding into new keys even when its hash
	// is already live on other keys. Those keys are still reported.
	AllowCrossField bool
}

// Promoter turns findings into field proposals. A key that already holds
// the finding is skipped. A finding live on other keys is a duplicate
// unless cross-field promotion is allowed.
type Promoter struct {
	fields store.FieldStoreRepo
	engine Proposer
	cfg    Config
}

// NewPromoter creates a Promoter.
func NewPromoter(fields store.FieldStoreRepo, engine Proposer, cfg Config) *Promoter {
	return &Promoter{fields: fields, engine: engine, cfg: cfg}
}

// PromoteResult reports a promotion.
type PromoteResult struct {
	Finding model.Finding `json:"finding"`
	Skipped []string      `json:"skipped"`

	// DuplicateOf lists live keys outside the targets that already carry
	// the finding's canonical hash.
	DuplicateOf []string               `json:"duplicate_of"`
	Outcome     *model.ProposalOutcome `json:"outcome"`
}

// Promote proposes f into targets for entityID on behalf of actor.
func (p *Promoter) Promote(ctx context.Context, entityID string, f model.Finding, targets []string, actor string, conf float64) (*PromoteResult, error) {
	cands, err := Candidates(f, targets, "finding", conf)
	if err != nil {
		return nil, err
	}
	hash := cands[0].CanonicalHash
	f.CanonicalHash = hash

	fs, err := p.fields.LoadFieldStore(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "findings: load field store %s", entityID)
	}
	wanted := make(map[string]bool, len(cands))
	for _, c := range cands {
		wanted[c.Key] = true
	}
	done := make(map[string]bool)
	res := &PromoteResult{Skipped: []string{}, DuplicateOf: []string{}}
	for _, k := range AlreadyPromoted(fs, hash) {
		done[k] = true
		if !wanted[k] {
			res.DuplicateOf = append(res.DuplicateOf, k)
		}
	}

	var todo []model.Candidate
	for _, c := range cands {
		if done[c.Key] {
			res.Skipped = append(res.Skipped, c.Key)
			continue
		}
		todo = append(todo, c)
	}

	if len(todo) == 0 || (len(res.DuplicateOf) > 0 && !p.cfg.AllowCrossField) {
		for _, c := range todo {
			res.Skipped = append(res.Skipped, c.Key)
		}
		f.PromotionStatus = model.PromotionDuplicate
		res.Finding = f
		res.Outcome = model.NewProposalOutcome()
		return res, nil
	}

	out, err := p.engine.ProposeE(ctx, propose.Request{
		EntityID:       entityID,
		ImporterID:     "finding",
		Source:         "finding:" + actor,
		SourceID:       f.FindingID,
		ExtractionPath: "finding",
		Candidates:     todo,
	})
	res.Outcome = out
	if err != nil {
		res.Finding = f
		return res, err
	}
	if out.ProposedCount+out.ReplacedCount > 0 {
		f.PromotionStatus = model.PromotionPromoted
	}
	res.Finding = f
	return res, nil
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := item.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func confidence(v gjson.Result) float64 {
	if v.Type != gjson.Number {
		return 0
	}
	f := v.Float()
	if f > 1 && f <= 100 {
		f /= 100
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
