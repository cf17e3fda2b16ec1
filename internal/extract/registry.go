package extract

import "sort"

// Importer IDs shipped with the default registry.
const (
	ImporterWebsiteDiagnostic = "website_diagnostic"
	ImporterBrandDiagnostic   = "brand_diagnostic"
	ImporterSEODiagnostic     = "seo_diagnostic"
	ImporterUserInput         = "user_input"
)

// Registry indexes extractors by importer ID.
type Registry struct {
	byID map[string]Extractor
}

// NewRegistry returns a registry holding exts. Later entries replace
// earlier ones with the same ID.
func NewRegistry(exts ...Extractor) *Registry {
	r := &Registry{byID: make(map[string]Extractor, len(exts))}
	for _, e := range exts {
		r.Register(e)
	}
	return r
}

// DefaultRegistry returns the built-in importers.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewImporter(ImporterWebsiteDiagnostic, []string{"website"}, 0.6),
		NewImporter(ImporterBrandDiagnostic, []string{"brand"}, 0.6),
		NewImporter(ImporterSEODiagnostic, []string{"seo", "website"}, 0.55),
		NewImporter(ImporterUserInput, []string{"company", "brand", "audience", "offer", "website"}, 0.9),
	)
}

// Register adds or replaces e.
func (r *Registry) Register(e Extractor) {
	r.byID[e.ImporterID()] = e
}

// Get returns the extractor for id.
func (r *Registry) Get(id string) (Extractor, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// IDs returns the registered importer IDs, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
