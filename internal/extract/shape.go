package extract

import (
	"strings"

	"github.com/tidwall/gjson"
)

// entry is one raw key/value pair found by a shape, before filtering.
type entry struct {
	key        string
	value      gjson.Result
	confidence gjson.Result
	evidence   string
}

// Shape is one known layout of an importer's raw result. Shapes are tried
// in order and the first whose Match succeeds is used.
type Shape struct {
	Name  string
	Match func(root gjson.Result) bool
	Walk  func(root gjson.Result, visit func(entry))
}

// Shape names, recorded as the extraction path.
const (
	PathFieldsMap       = "fields_map"
	PathProposalsList   = "proposals_list"
	PathResultFieldsMap = "result.fields_map"
	PathDomainsNested   = "domains_nested"
)

// DefaultShapes is the shared catalogue, in priority order.
func DefaultShapes() []Shape {
	return []Shape{
		{
			Name:  PathFieldsMap,
			Match: func(root gjson.Result) bool { return root.Get("fields").IsObject() },
			Walk:  func(root gjson.Result, visit func(entry)) { walkFieldMap(root.Get("fields"), visit) },
		},
		{
			Name:  PathProposalsList,
			Match: func(root gjson.Result) bool { return root.Get("proposals").IsArray() },
			Walk:  walkProposals,
		},
		{
			Name:  PathResultFieldsMap,
			Match: func(root gjson.Result) bool { return root.Get("result.fields").IsObject() },
			Walk:  func(root gjson.Result, visit func(entry)) { walkFieldMap(root.Get("result.fields"), visit) },
		},
		{
			Name:  PathDomainsNested,
			Match: matchDomainsNested,
			Walk:  walkDomainsNested,
		},
	}
}

// walkFieldMap handles {"<key>": value} and {"<key>": {"value":..,"confidence":..}}.
func walkFieldMap(fields gjson.Result, visit func(entry)) {
	fields.ForEach(func(k, v gjson.Result) bool {
		visit(fieldEntry(k.String(), v))
		return true
	})
}

func fieldEntry(key string, v gjson.Result) entry {
	if v.IsObject() && v.Get("value").Exists() {
		return entry{
			key:        key,
			value:      v.Get("value"),
			confidence: v.Get("confidence"),
			evidence:   evidenceText(v),
		}
	}
	return entry{key: key, value: v}
}

func walkProposals(root gjson.Result, visit func(entry)) {
	root.Get("proposals").ForEach(func(_, item gjson.Result) bool {
		key := item.Get("key").String()
		if key == "" {
			key = item.Get("field").String()
		}
		visit(entry{
			key:        key,
			value:      item.Get("value"),
			confidence: item.Get("confidence"),
			evidence:   evidenceText(item),
		})
		return true
	})
}

// matchDomainsNested accepts a top-level object whose members are all
// objects, e.g. {"website": {"score": 72}}.
func matchDomainsNested(root gjson.Result) bool {
	if !root.IsObject() {
		return false
	}
	n := 0
	ok := true
	root.ForEach(func(_, v gjson.Result) bool {
		n++
		if !v.IsObject() {
			ok = false
			return false
		}
		return true
	})
	return ok && n > 0
}

func walkDomainsNested(root gjson.Result, visit func(entry)) {
	root.ForEach(func(domain, fields gjson.Result) bool {
		fields.ForEach(func(field, v gjson.Result) bool {
			visit(fieldEntry(domain.String()+"."+field.String(), v))
			return true
		})
		return true
	})
}

func evidenceText(v gjson.Result) string {
	for _, k := range []string{"evidence", "evidence_text", "reason"} {
		if e := v.Get(k); e.Exists() {
			return strings.TrimSpace(e.String())
		}
	}
	return ""
}
