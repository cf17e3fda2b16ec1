package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factbase/internal/model"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	r := Default()
	assert.NotEmpty(t, r.Version)
	require.NotNil(t, r.ByPath("brand.positioning"))
	assert.Equal(t, []string{"brand.value_proposition"}, r.ByPath("brand.positioning").Alternatives)
	assert.Nil(t, r.ByPath("brand.unknown"))
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "required.yaml")
	doc := `
version: test
required_fields:
  - path: website.score
    reason: tracking
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", r.Version)
	require.Len(t, r.Specs, 1)
	assert.Equal(t, "website", r.Specs[0].Domain, "domain defaults from path")
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	t.Parallel()

	r, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Version, r.Version)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New("v", []model.RequiredFieldSpec{{Path: "nodomain"}})
	assert.ErrorContains(t, err, "invalid path")

	_, err = New("v", []model.RequiredFieldSpec{{Path: "a.b", Alternatives: []string{"bad"}}})
	assert.ErrorContains(t, err, "invalid alternative")

	_, err = New("v", []model.RequiredFieldSpec{{Path: "a.b"}, {Path: "a.b"}})
	assert.ErrorContains(t, err, "duplicate path")
}

func TestMissing(t *testing.T) {
	t.Parallel()

	r, err := New("v", []model.RequiredFieldSpec{
		{Path: "brand.positioning", Alternatives: []string{"brand.value_proposition"}},
		{Path: "brand.voice"},
		{Path: "website.score"},
		{Path: "offer.primary_offer"},
	})
	require.NoError(t, err)

	fs := model.NewFieldStore("acme")
	fs.Put(&model.FieldRecord{Key: "brand.value_proposition", Status: model.FieldStatusConfirmed})
	fs.Put(&model.FieldRecord{Key: "brand.voice", Status: model.FieldStatusRejected})
	fs.Put(&model.FieldRecord{Key: "website.score", Status: model.FieldStatusProposed})

	missing := r.Missing(fs)
	assert.Equal(t, []string{"brand.voice", "offer.primary_offer"}, Paths(missing))

	assert.Len(t, r.Missing(nil), 4, "nil store misses everything")
}

func TestAcceptKeys(t *testing.T) {
	t.Parallel()

	keys := AcceptKeys([]model.RequiredFieldSpec{
		{Path: "brand.positioning", Alternatives: []string{"brand.value_proposition"}},
		{Path: "brand.voice"},
	})
	assert.Equal(t, map[string]string{
		"brand.positioning":       "brand.positioning",
		"brand.value_proposition": "brand.positioning",
		"brand.voice":             "brand.voice",
	}, keys)
}
