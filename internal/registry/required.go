// Package registry holds the versioned list of fields every company's
// store should eventually fill.
package registry

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/factbase/internal/model"
)

//go:embed required_fields.yaml
var defaultRequired []byte

// Required is an indexed list of required field specs.
type Required struct {
	Version string
	Specs   []model.RequiredFieldSpec
	byPath  map[string]*model.RequiredFieldSpec
}

type requiredFile struct {
	Version        string                    `yaml:"version"`
	RequiredFields []model.RequiredFieldSpec `yaml:"required_fields"`
}

// Default returns the embedded required-field list.
func Default() *Required {
	r, err := Parse(defaultRequired)
	if err != nil {
		panic(eris.Wrap(err, "registry: embedded required fields"))
	}
	return r
}

// Load reads a required-field list from path. An empty path yields the
// embedded default.
func Load(path string) (*Required, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a required-field YAML document.
func Parse(data []byte) (*Required, error) {
	var f requiredFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: parse required fields")
	}
	return New(f.Version, f.RequiredFields)
}

// New indexes specs. Every path and alternative must be a dotted key, and a
// path may only be declared once.
func New(version string, specs []model.RequiredFieldSpec) (*Required, error) {
	r := &Required{
		Version: version,
		Specs:   specs,
		byPath:  make(map[string]*model.RequiredFieldSpec, len(specs)),
	}
	for i := range r.Specs {
		s := &r.Specs[i]
		domain, _, ok := model.SplitKey(s.Path)
		if !ok {
			return nil, eris.Errorf("registry: invalid path %q", s.Path)
		}
		if s.Domain == "" {
			s.Domain = domain
		}
		for _, alt := range s.Alternatives {
			if _, _, ok := model.SplitKey(alt); !ok {
				return nil, eris.Errorf("registry: invalid alternative %q for %s", alt, s.Path)
			}
		}
		if _, dup := r.byPath[s.Path]; dup {
			return nil, eris.Errorf("registry: duplicate path %s", s.Path)
		}
		r.byPath[s.Path] = s
	}
	return r, nil
}

// ByPath returns the spec declared for path, or nil.
func (r *Required) ByPath(path string) *model.RequiredFieldSpec {
	return r.byPath[path]
}

// Missing returns the specs whose path and alternatives are all
// unsatisfied in fs. A nil store is missing everything.
func (r *Required) Missing(fs *model.FieldStore) []model.RequiredFieldSpec {
	var out []model.RequiredFieldSpec
	for _, s := range r.Specs {
		satisfied := false
		for _, p := range s.Paths() {
			if fs.Satisfied(p) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			out = append(out, s)
		}
	}
	return out
}

// AcceptKeys maps every path and alternative of specs to the spec path it
// would satisfy.
func AcceptKeys(specs []model.RequiredFieldSpec) map[string]string {
	out := make(map[string]string)
	for _, s := range specs {
		for _, p := range s.Paths() {
			if _, taken := out[p]; !taken {
				out[p] = s.Path
			}
		}
	}
	return out
}

// Paths returns the sorted spec paths of specs.
func Paths(specs []model.RequiredFieldSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Path)
	}
	sort.Strings(out)
	return out
}
