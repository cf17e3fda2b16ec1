// Package extract turns importer raw results into typed field candidates.
// Extraction is pure: no store or network access, and malformed input
// yields zero candidates rather than an error.
package extract

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sells-group/factbase/internal/canon"
	"github.com/sells-group/factbase/internal/model"
)

// KindValue is the canonical hash kind for candidate text values.
const KindValue = "value"

// Skipped counts raw entries that did not become candidates.
type Skipped struct {
	WrongDomain int `json:"wrong_domain"`
	EmptyValue  int `json:"empty_value"`
	InvalidKey  int `json:"invalid_key"`
	Malformed   int `json:"malformed"`
}

// Total returns the sum of all skip counters.
func (s Skipped) Total() int {
	return s.WrongDomain + s.EmptyValue + s.InvalidKey + s.Malformed
}

// Result is the outcome of one extraction.
type Result struct {
	ImporterID     string            `json:"importer_id"`
	ExtractionPath string            `json:"extraction_path"`
	Candidates     []model.Candidate `json:"candidates"`
	Skipped        Skipped           `json:"skipped"`
}

// Extractor translates one importer's raw result into candidates.
type Extractor interface {
	ImporterID() string
	Domains() []string
	Extract(raw []byte) Result
}

// Importer is a shape-driven Extractor restricted to a domain allow-list.
type Importer struct {
	ID                string
	AllowedDomains    []string
	DefaultConfidence float64
	Shapes            []Shape

	allowed map[string]bool
}

// NewImporter builds an importer over the default shape catalogue.
func NewImporter(id string, domains []string, defaultConfidence float64) *Importer {
	return NewImporterWithShapes(id, domains, defaultConfidence, DefaultShapes())
}

// NewImporterWithShapes builds an importer with a custom shape list.
func NewImporterWithShapes(id string, domains []string, defaultConfidence float64, shapes []Shape) *Importer {
	allowed := make(map[string]bool, len(domains))
	for _, d := range domains {
		allowed[d] = true
	}
	return &Importer{
		ID:                id,
		AllowedDomains:    domains,
		DefaultConfidence: clamp(defaultConfidence),
		Shapes:            shapes,
		allowed:           allowed,
	}
}

// ImporterID implements Extractor.
func (im *Importer) ImporterID() string { return im.ID }

// Domains implements Extractor.
func (im *Importer) Domains() []string {
	out := append([]string(nil), im.AllowedDomains...)
	sort.Strings(out)
	return out
}

// Extract implements Extractor.
func (im *Importer) Extract(raw []byte) Result {
	res := Result{ImporterID: im.ID, Candidates: []model.Candidate{}}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return res
	}
	if !gjson.ValidBytes(raw) {
		res.Skipped.Malformed++
		return res
	}

	root := gjson.ParseBytes(raw)
	for _, shape := range im.Shapes {
		if !shape.Match(root) {
			continue
		}
		res.ExtractionPath = shape.Name
		shape.Walk(root, func(e entry) {
			im.accept(&res, e)
		})
		break
	}
	return res
}

func (im *Importer) accept(res *Result, e entry) {
	key := strings.TrimSpace(e.key)
	domain, _, ok := model.SplitKey(key)
	if !ok {
		res.Skipped.InvalidKey++
		return
	}
	if !im.allowed[domain] {
		res.Skipped.WrongDomain++
		return
	}
	if isEmpty(e.value) {
		res.Skipped.EmptyValue++
		return
	}

	c := model.Candidate{
		Key:          key,
		Value:        e.value.Value(),
		Confidence:   im.confidence(e.confidence),
		Source:       im.ID,
		EvidenceText: e.evidence,
	}
	if e.value.Type == gjson.String {
		c.Value = strings.TrimSpace(e.value.String())
		c.CanonicalHash = canon.Hash(e.value.String(), im.ID, KindValue)
	}
	res.Candidates = append(res.Candidates, c)
}

// confidence reads a 0-1 or 0-100 score, falling back to the importer default.
func (im *Importer) confidence(v gjson.Result) float64 {
	if v.Type != gjson.Number {
		return im.DefaultConfidence
	}
	f := v.Float()
	if f > 1 && f <= 100 {
		f /= 100
	}
	return clamp(f)
}

func isEmpty(v gjson.Result) bool {
	switch {
	case !v.Exists(), v.Type == gjson.Null:
		return true
	case v.Type == gjson.String:
		return strings.TrimSpace(v.String()) == ""
	case v.IsArray():
		return len(v.Array()) == 0
	case v.IsObject():
		return len(v.Map()) == 0
	}
	return false
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
