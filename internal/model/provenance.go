package model

import "time"

// Evidence records where a field value came from.
type Evidence struct {
	Source        string `json:"source"`
	SourceID      string `json:"source_id,omitempty"`
	ImporterID    string `json:"importer_id,omitempty"`
	Text          string `json:"text,omitempty"`
	Pointer       string `json:"pointer,omitempty"`
	CanonicalHash string `json:"canonical_hash,omitempty"`
}

// FieldRevision is a prior state of a field record.
type FieldRevision struct {
	Value      any         `json:"value"`
	Status     FieldStatus `json:"status"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source,omitempty"`
	SourceID   string      `json:"source_id,omitempty"`
	Reason     string      `json:"reason"`
	ReplacedAt time.Time   `json:"replaced_at"`
}

// Candidate is an importer-produced value for one key. It is never
// persisted directly; the proposal engine turns it into a FieldRecord.
type Candidate struct {
	Key           string  `json:"key"`
	Value         any     `json:"value"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"source"`
	EvidenceText  string  `json:"evidence_text,omitempty"`
	CanonicalHash string  `json:"canonical_hash,omitempty"`
}

// ProposalOutcome summarizes one proposal batch.
type ProposalOutcome struct {
	ProposedCount int      `json:"proposed_count"`
	BlockedCount  int      `json:"blocked_count"`
	ReplacedCount int      `json:"replaced_count"`
	Errors        []string `json:"errors"`
	ProposedKeys  []string `json:"proposed_keys"`
	BlockedKeys   []string `json:"blocked_keys"`
	ReplacedKeys  []string `json:"replaced_keys"`
}

// NewProposalOutcome returns an outcome with non-nil slices so it
// serializes as empty arrays.
func NewProposalOutcome() *ProposalOutcome {
	return &ProposalOutcome{
		Errors:       []string{},
		ProposedKeys: []string{},
		BlockedKeys:  []string{},
		ReplacedKeys: []string{},
	}
}

// PromotionStatus tracks whether a finding has been turned into field proposals.
type PromotionStatus string

const (
	PromotionPending   PromotionStatus = "pending"
	PromotionPromoted  PromotionStatus = "promoted"
	PromotionDuplicate PromotionStatus = "duplicate"
	PromotionDismissed PromotionStatus = "dismissed"
)

// Finding is a human-readable observation surfaced by a diagnostic run.
type Finding struct {
	FindingID               string          `json:"finding_id"`
	CanonicalHash           string          `json:"canonical_hash"`
	Title                   string          `json:"title"`
	Description             string          `json:"description"`
	Impact                  string          `json:"impact,omitempty"`
	Category                string          `json:"category"`
	Confidence              float64         `json:"confidence"`
	RecommendedTargetFields []string        `json:"recommended_target_fields,omitempty"`
	PromotionStatus         PromotionStatus `json:"promotion_status"`
}
