package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the state of an upstream diagnostic run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is an upstream diagnostic run whose raw output feeds an extractor.
// Kind names the producer (usually the importer ID).
type Run struct {
	ID        string          `json:"id"`
	EntityID  string          `json:"entity_id"`
	Kind      string          `json:"kind"`
	Status    RunStatus       `json:"status"`
	RawResult json.RawMessage `json:"raw_result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Graph is the denormalized view of a company's confirmed facts, keyed by
// the same dotted paths as the field store.
type Graph struct {
	EntityID       string          `json:"entity_id"`
	Document       json.RawMessage `json:"document"`
	Sources        []string        `json:"sources"`
	FieldCount     int             `json:"field_count"`
	MaterializedAt time.Time       `json:"materialized_at"`
}
