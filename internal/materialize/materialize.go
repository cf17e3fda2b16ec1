// Package materialize derives the graph view from confirmed field records.
package materialize

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/sells-group/factbase/internal/metrics"
	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/store"
)

// Result reports what a materialization wrote. The graph is rebuilt whole,
// so FieldsUpdated counts every confirmed field written, changed or not.
type Result struct {
	FieldsUpdated int      `json:"fields_updated"`
	SourcesUsed   []string `json:"sources_used"`
}

// Materializer rebuilds an entity's graph from its confirmed fields. It
// reads only the field store and writes only the graph.
type Materializer struct {
	fields store.FieldStoreRepo
	graphs store.GraphRepo
	now    func() time.Time
}

// New creates a Materializer.
func New(fields store.FieldStoreRepo, graphs store.GraphRepo) *Materializer {
	return &Materializer{fields: fields, graphs: graphs, now: time.Now}
}

// MaterializeConfirmedToGraph writes every confirmed record of entityID
// into the graph under its dotted key. Re-running with an unchanged store
// produces the same document.
func (m *Materializer) MaterializeConfirmedToGraph(ctx context.Context, entityID string) (*Result, error) {
	start := time.Now()
	defer func() { metrics.MaterializeSeconds.Observe(time.Since(start).Seconds()) }()

	fs, err := m.fields.LoadFieldStore(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "materialize: load field store %s", entityID)
	}
	res := &Result{SourcesUsed: []string{}}
	if fs == nil {
		return res, nil
	}

	doc, sources, n := Build(fs)

	g := &model.Graph{
		EntityID:       entityID,
		Document:       doc,
		Sources:        sources,
		FieldCount:     n,
		MaterializedAt: m.now().UTC(),
	}
	if err := m.graphs.SaveGraph(ctx, g); err != nil {
		return nil, eris.Wrapf(err, "materialize: save graph %s", entityID)
	}

	res.FieldsUpdated = n
	res.SourcesUsed = sources
	zap.L().Info("graph materialized",
		zap.String("entity_id", entityID),
		zap.Int("fields", n),
		zap.Strings("sources", sources),
	)
	return res, nil
}

// Build renders the confirmed records of fs as a nested JSON document and
// returns the distinct evidence sources and the number of fields written.
// Keys the document cannot hold are skipped.
func Build(fs *model.FieldStore) ([]byte, []string, int) {
	doc := []byte(`{}`)
	seen := make(map[string]bool)
	n := 0

	for _, key := range fs.KeysWithStatus(model.FieldStatusConfirmed) {
		rec := fs.Get(key)
		next, err := sjson.SetBytes(doc, escapePath(key), rec.Value)
		if err != nil {
			zap.L().Warn("materialize: skipping field", zap.String("key", key), zap.Error(err))
			continue
		}
		doc = next
		n++
		if rec.Evidence != nil && rec.Evidence.Source != "" {
			seen[rec.Evidence.Source] = true
		}
	}

	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return doc, sources, n
}

var segmentEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `?`, `\?`, `:`, `\:`,
	`|`, `\|`, `#`, `\#`, `@`, `\@`, `!`, `\!`,
)

// escapePath turns a dotted key into an sjson path whose segments are all
// object keys. The leading colon keeps numeric segments such as "3" or "-1"
// from being read as array indexes.
func escapePath(key string) string {
	parts := strings.Split(key, ".")
	for i, p := range parts {
		parts[i] = ":" + segmentEscaper.Replace(p)
	}
	return strings.Join(parts, ".")
}
