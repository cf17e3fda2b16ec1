package model

import (
	"sort"
	"strings"
	"time"
)

// FieldStatus is the review state of a field record.
type FieldStatus string

const (
	FieldStatusProposed  FieldStatus = "proposed"
	FieldStatusConfirmed FieldStatus = "confirmed"
	FieldStatusRejected  FieldStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s FieldStatus) Valid() bool {
	switch s {
	case FieldStatusProposed, FieldStatusConfirmed, FieldStatusRejected:
		return true
	}
	return false
}

// maxHistory bounds the revision trail kept on each record.
const maxHistory = 10

// FieldRecord is one fact about one company, keyed by "<domain>.<field>".
type FieldRecord struct {
	Key        string          `json:"key"`
	Value      any             `json:"value"`
	Status     FieldStatus     `json:"status"`
	Confidence float64         `json:"confidence"`
	Evidence   *Evidence       `json:"evidence,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DecidedAt  *time.Time      `json:"decided_at,omitempty"`
	DecidedBy  string          `json:"decided_by,omitempty"`
	History    []FieldRevision `json:"history,omitempty"`
}

// PushHistory records the record's current state before a mutation.
// Only the most recent revisions are retained.
func (r *FieldRecord) PushHistory(reason string, at time.Time) {
	rev := FieldRevision{
		Value:      r.Value,
		Status:     r.Status,
		Confidence: r.Confidence,
		Reason:     reason,
		ReplacedAt: at,
	}
	if r.Evidence != nil {
		rev.Source = r.Evidence.Source
		rev.SourceID = r.Evidence.SourceID
	}
	r.History = append(r.History, rev)
	if len(r.History) > maxHistory {
		r.History = r.History[len(r.History)-maxHistory:]
	}
}

// Domain returns the leading domain segment of a dotted field key.
func Domain(key string) string {
	domain, _, ok := SplitKey(key)
	if !ok {
		return ""
	}
	return domain
}

// SplitKey splits "brand.positioning" into ("brand", "positioning").
// Keys without a non-empty domain and field part are rejected.
func SplitKey(key string) (domain, field string, ok bool) {
	key = strings.TrimSpace(key)
	i := strings.IndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// StatusCounts tallies records by status.
type StatusCounts struct {
	Proposed  int `json:"proposed"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
	Total     int `json:"total"`
}

// FieldStoreMeta carries store-level bookkeeping.
type FieldStoreMeta struct {
	LastUpdated time.Time `json:"last_updated"`
	// Version is bumped on every successful save and compared on the next
	// one; a mismatch means another writer saved in between.
	Version int64 `json:"version"`
}

// FieldStore is the canonical per-company mapping of field key to record.
// It is loaded and saved as a whole.
type FieldStore struct {
	EntityID string                  `json:"entity_id"`
	Fields   map[string]*FieldRecord `json:"fields"`
	Meta     FieldStoreMeta          `json:"meta"`
}

// NewFieldStore returns an empty store for entityID.
func NewFieldStore(entityID string) *FieldStore {
	return &FieldStore{
		EntityID: entityID,
		Fields:   make(map[string]*FieldRecord),
	}
}

// Get returns the record for key, or nil.
func (fs *FieldStore) Get(key string) *FieldRecord {
	if fs == nil || fs.Fields == nil {
		return nil
	}
	return fs.Fields[key]
}

// Put stores rec under rec.Key.
func (fs *FieldStore) Put(rec *FieldRecord) {
	if fs.Fields == nil {
		fs.Fields = make(map[string]*FieldRecord)
	}
	fs.Fields[rec.Key] = rec
}

// Keys returns all field keys in sorted order.
func (fs *FieldStore) Keys() []string {
	if fs == nil {
		return nil
	}
	keys := make([]string, 0, len(fs.Fields))
	for k := range fs.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithStatus returns sorted keys whose record has the given status.
func (fs *FieldStore) KeysWithStatus(status FieldStatus) []string {
	var keys []string
	for _, k := range fs.Keys() {
		if fs.Fields[k].Status == status {
			keys = append(keys, k)
		}
	}
	return keys
}

// CountByStatus tallies the store's records by status.
func (fs *FieldStore) CountByStatus() StatusCounts {
	var c StatusCounts
	if fs == nil {
		return c
	}
	for _, rec := range fs.Fields {
		switch rec.Status {
		case FieldStatusProposed:
			c.Proposed++
		case FieldStatusConfirmed:
			c.Confirmed++
		case FieldStatusRejected:
			c.Rejected++
		}
		c.Total++
	}
	return c
}

// Satisfied reports whether key holds a proposed or confirmed record.
// Rejected records do not count.
func (fs *FieldStore) Satisfied(key string) bool {
	rec := fs.Get(key)
	if rec == nil {
		return false
	}
	return rec.Status == FieldStatusProposed || rec.Status == FieldStatusConfirmed
}

// Clone returns a deep-enough copy for read-modify-write: the record map
// and records are copied, values are shared.
func (fs *FieldStore) Clone() *FieldStore {
	if fs == nil {
		return nil
	}
	out := &FieldStore{
		EntityID: fs.EntityID,
		Fields:   make(map[string]*FieldRecord, len(fs.Fields)),
		Meta:     fs.Meta,
	}
	for k, rec := range fs.Fields {
		cp := *rec
		if rec.Evidence != nil {
			ev := *rec.Evidence
			cp.Evidence = &ev
		}
		cp.History = append([]FieldRevision(nil), rec.History...)
		out.Fields[k] = &cp
	}
	return out
}

// RequiredFieldSpec declares a field that should eventually be filled.
// A spec is satisfied when Path or any of Alternatives is satisfied.
type RequiredFieldSpec struct {
	Path         string   `json:"path" yaml:"path"`
	Domain       string   `json:"domain" yaml:"domain"`
	Reason       string   `json:"reason" yaml:"reason"`
	Alternatives []string `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
}

// Paths returns Path followed by its alternatives.
func (s RequiredFieldSpec) Paths() []string {
	out := make([]string, 0, 1+len(s.Alternatives))
	out = append(out, s.Path)
	return append(out, s.Alternatives...)
}
