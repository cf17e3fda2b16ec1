package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/factbase/internal/model"
)

type memoryFieldStore struct {
	fields  []byte
	version int64
	updated time.Time
}

// MemoryStore implements Store in process memory. Records are stored
// serialized so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	stores map[string]memoryFieldStore
	graphs map[string]model.Graph
	runs   map[string]model.Run
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		stores: make(map[string]memoryFieldStore),
		graphs: make(map[string]model.Graph),
		runs:   make(map[string]model.Run),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LoadFieldStore(_ context.Context, entityID string) (*model.FieldStore, error) {
	s.mu.RLock()
	row, ok := s.stores[entityID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	fields, err := decodeFields(entityID, row.fields)
	if err != nil {
		return nil, err
	}
	return &model.FieldStore{
		EntityID: entityID,
		Fields:   fields,
		Meta:     model.FieldStoreMeta{LastUpdated: row.updated, Version: row.version},
	}, nil
}

func (s *MemoryStore) SaveFieldStore(_ context.Context, fs *model.FieldStore) error {
	data, err := encodeFields(fs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.stores[fs.EntityID]
	switch {
	case !exists && fs.Meta.Version != 0:
		return ErrVersionConflict
	case exists && cur.version != fs.Meta.Version:
		return ErrVersionConflict
	}

	now := time.Now().UTC()
	s.stores[fs.EntityID] = memoryFieldStore{fields: data, version: fs.Meta.Version + 1, updated: now}
	fs.Meta.Version++
	fs.Meta.LastUpdated = now
	return nil
}

func (s *MemoryStore) SaveGraph(_ context.Context, g *model.Graph) error {
	cp := *g
	cp.Document = append([]byte(nil), g.Document...)
	cp.Sources = append([]string(nil), g.Sources...)

	s.mu.Lock()
	s.graphs[g.EntityID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadGraph(_ context.Context, entityID string) (*model.Graph, error) {
	s.mu.RLock()
	g, ok := s.graphs[entityID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	g.Document = append([]byte(nil), g.Document...)
	g.Sources = append([]string(nil), g.Sources...)
	return &g, nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	cp := *run
	cp.RawResult = append([]byte(nil), run.RawResult...)

	s.mu.Lock()
	s.runs[run.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	r, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) GetLatestRun(_ context.Context, entityID, kind string) (*model.Run, error) {
	return s.latestRun(entityID, kind, ""), nil
}

func (s *MemoryStore) GetLatestCompleteRun(_ context.Context, entityID, kind string) (*model.Run, error) {
	return s.latestRun(entityID, kind, model.RunStatusComplete), nil
}

// latestRun returns the newest matching run. Empty kind or status match any.
func (s *MemoryStore) latestRun(entityID, kind string, status model.RunStatus) *model.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Run
	for _, r := range s.runs {
		if r.EntityID != entityID || (kind != "" && r.Kind != kind) || (status != "" && r.Status != status) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			r := r
			latest = &r
		}
	}
	return latest
}

func (s *MemoryStore) ListEntities(context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.stores))
	for id := range s.stores {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}
