/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package selector implements the Matcher/Sorter external collaborator
// of spec.md §6: "a black-box predicate+comparator" the core treats
// only at its interface. Full minimongo-compatible selector semantics
// are explicitly out of the core's ~4,000-line budget (spec.md §2
// item 1, "interface only"); what ships here is a usable reference
// implementation covering the boundary cases spec.md §8 pins down
// (BSON-ish type ordering, `$near` distance), not a complete query
// engine.
package selector

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// errArraySelector is returned by RewriteSelector for an array
// selector, per spec.md §6: "a selector that is an array throws".
var errArraySelector = errors.New("selector: array selectors are not supported")

// MatchResult is the outcome of DocumentMatches, mirroring spec.md
// §6's `{result, arrayIndices?, distance?}` shape.
type MatchResult struct {
	Result       bool
	ArrayIndices []int
	Distance     *float64 // nil means "undefined": no $near evaluated, or no match.
}

// Matcher evaluates one selector against documents.
type Matcher struct {
	selector map[string]any
}

// NewMatcher builds a Matcher. A nil/empty selector, or one with a
// falsy `_id`, is rewritten by callers (see RewriteSelector) before
// reaching here; NewMatcher itself just compiles whatever it is given.
func NewMatcher(sel map[string]any) *Matcher {
	if sel == nil {
		sel = map[string]any{}
	}
	return &Matcher{selector: sel}
}

// DocumentMatches reports whether doc satisfies the selector.
func (m *Matcher) DocumentMatches(doc map[string]any) MatchResult {
	var dist *float64
	ok := true
	for field, cond := range m.selector {
		fok, fdist := matchField(doc, field, cond)
		if fdist != nil {
			dist = fdist
		}
		if !fok {
			ok = false
		}
	}
	return MatchResult{Result: ok, Distance: dist}
}

// IsSimple reports whether every top-level condition is a plain
// equality test (no operator keys, no regex, no array semantics) —
// the class of selector a merge-box or caching observer can re-apply
// to a changed document without a full reevaluation.
func (m *Matcher) IsSimple() bool {
	for _, cond := range m.selector {
		if isOperatorDoc(cond) {
			return false
		}
	}
	return true
}

// HasGeoQuery reports whether the selector contains a $near clause.
func (m *Matcher) HasGeoQuery() bool {
	for _, cond := range m.selector {
		if condMap, ok := cond.(map[string]any); ok {
			if _, has := condMap["$near"]; has {
				return true
			}
		}
	}
	return false
}

// CanBecomeTrueByModifier conservatively reports whether applying mod
// could flip this selector from false to true: true unless every
// field the selector constrains is untouched by mod.
func (m *Matcher) CanBecomeTrueByModifier(mod map[string]any) bool {
	return m.AffectedByModifier(mod)
}

// AffectedByModifier reports whether mod touches any field the
// selector constrains, directly or via a shared dotted-path prefix.
func (m *Matcher) AffectedByModifier(mod map[string]any) bool {
	touched := modifiedFields(mod)
	for field := range m.selector {
		for t := range touched {
			if sharesPath(field, t) {
				return true
			}
		}
	}
	return false
}

// CombineIntoProjection merges this selector's equality-constrained
// fields into proj, the way minimongo narrows a find's projection
// using its own selector's known field values. Only plain equality
// top-level conditions participate; operator conditions are skipped
// since they don't pin a single value.
func (m *Matcher) CombineIntoProjection(proj map[string]any) map[string]any {
	out := make(map[string]any, len(proj))
	for k, v := range proj {
		out[k] = v
	}
	for field, cond := range m.selector {
		if !isOperatorDoc(cond) {
			out[field] = 1
		}
	}
	return out
}

func modifiedFields(mod map[string]any) map[string]struct{} {
	out := map[string]struct{}{}
	for op, fields := range mod {
		if !strings.HasPrefix(op, "$") {
			out[op] = struct{}{}
			continue
		}
		if fm, ok := fields.(map[string]any); ok {
			for f := range fm {
				out[f] = struct{}{}
			}
		}
	}
	return out
}

func sharesPath(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

func isOperatorDoc(cond any) bool {
	m, ok := cond.(map[string]any)
	if !ok {
		return false
	}
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// matchField evaluates one (field, condition) pair against doc,
// following dotted paths the way minimongo addresses nested fields.
func matchField(doc map[string]any, field string, cond any) (bool, *float64) {
	actual, present := lookupPath(doc, field)
	condMap, isOp := cond.(map[string]any)
	if !isOp || !isOperatorDoc(cond) {
		return valuesEqual(actual, cond), nil
	}

	var dist *float64
	ok := true
	for op, arg := range condMap {
		var opOK bool
		switch op {
		case "$eq":
			opOK = valuesEqual(actual, arg)
		case "$ne":
			opOK = !valuesEqual(actual, arg)
		case "$gt":
			opOK = present && cmp(actual, arg) > 0
		case "$gte":
			opOK = present && cmp(actual, arg) >= 0
		case "$lt":
			opOK = present && cmp(actual, arg) < 0
		case "$lte":
			opOK = present && cmp(actual, arg) <= 0
		case "$in":
			opOK = memberOf(actual, arg)
		case "$nin":
			opOK = !memberOf(actual, arg)
		case "$exists":
			want, _ := arg.(bool)
			opOK = present == want
		case "$regex":
			opOK = matchRegex(actual, arg)
		case "$near":
			d := nearDistance(actual, arg)
			dist = d
			opOK = d != nil
		default:
			opOK = true // unsupported operator: don't fail the match, per reference-impl scope.
		}
		if !opOK {
			ok = false
		}
	}
	return ok, dist
}

func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func valuesEqual(a, b any) bool {
	if isNumeric(a) && isNumeric(b) {
		return asFloat(a) == asFloat(b)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case nil:
		return b == nil
	case bool:
		_, ok := b.(bool)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	default:
		return true
	}
}

func memberOf(actual any, set any) bool {
	list, ok := set.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if valuesEqual(actual, v) {
			return true
		}
	}
	return false
}

func matchRegex(actual any, pattern any) bool {
	s, ok := actual.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// nearDistance computes a $near distance. arg may be the target point
// directly ([x,y] or {x,y}), or a Mongo-style {$geometry: point} spec.
// When actual is a list of points, the smallest distance is returned.
func nearDistance(actual any, arg any) *float64 {
	if list, ok := actual.([]any); ok && len(list) > 0 && !isNumeric(list[0]) {
		var best *float64
		for _, p := range list {
			if d := nearDistance(p, arg); d != nil && (best == nil || *d < *best) {
				best = d
			}
		}
		return best
	}
	point, ok := asPoint(actual)
	if !ok {
		return nil
	}
	target, ok := resolveNearTarget(arg)
	if !ok {
		return nil
	}
	dx := point[0] - target[0]
	dy := point[1] - target[1]
	d := math.Sqrt(dx*dx + dy*dy)
	return &d
}

func resolveNearTarget(arg any) ([2]float64, bool) {
	if spec, ok := arg.(map[string]any); ok {
		if geom, has := spec["$geometry"]; has {
			return asPoint(geom)
		}
	}
	return asPoint(arg)
}

func asPoint(v any) ([2]float64, bool) {
	switch t := v.(type) {
	case []any:
		if len(t) != 2 {
			return [2]float64{}, false
		}
		return [2]float64{asFloat(t[0]), asFloat(t[1])}, true
	case map[string]any:
		x, xok := t["x"]
		y, yok := t["y"]
		if !xok || !yok {
			return [2]float64{}, false
		}
		return [2]float64{asFloat(x), asFloat(y)}, true
	default:
		return [2]float64{}, false
	}
}

// isNumeric reports whether v is one of Go's numeric kinds, the
// surface EJSON decoding produces for a BSON number regardless of
// width (int32/int64/float64 all decode to Go numeric types).
func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	default:
		return math.NaN()
	}
}

// bsonRank orders values by BSON's type-comparison order (a subset:
// the types the reference matcher/sorter actually need to compare
// across). Numeric types compare across widths by value, per spec.md
// §8's "cmp follows BSON ordering across numeric widths".
func bsonRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float32, float64:
		return 1
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case bool:
		return 5
	default:
		return 6
	}
}

// cmp compares two values BSON-style: first by type rank, then by
// value within the same rank.
func cmp(a, b any) int {
	ra, rb := bsonRank(a), bsonRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		fa, fb := asFloat(a), asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 5:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	default:
		return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
	}
}

// SortSpec is an ordered list of (field, ascending) pairs, minimongo's
// sort-spec shape after normalization.
type SortSpec []SortField

type SortField struct {
	Field     string
	Ascending bool
}

// Sorter compiles a SortSpec into a comparator.
type Sorter struct {
	spec SortSpec
}

func NewSorter(spec SortSpec) *Sorter {
	return &Sorter{spec: spec}
}

// GetComparator returns a (a,b)->int comparator suitable for
// sort.Slice, following each field of the spec in order and breaking
// ties with the next.
func (s *Sorter) GetComparator() func(a, b map[string]any) int {
	return func(a, b map[string]any) int {
		for _, f := range s.spec {
			av, _ := lookupPath(a, f.Field)
			bv, _ := lookupPath(b, f.Field)
			c := cmp(av, bv)
			if !f.Ascending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

// Sort applies the comparator to docs in place and returns docs.
func (s *Sorter) Sort(docs []map[string]any) []map[string]any {
	comparator := s.GetComparator()
	sort.SliceStable(docs, func(i, j int) bool { return comparator(docs[i], docs[j]) < 0 })
	return docs
}

// RewriteSelector implements spec.md §6's "selector rewrite at cursor
// construction": an array selector is rejected outright; a nil/empty
// selector, or one whose `_id` is falsy, is replaced with an
// unmatchable `{_id: freshID}` so the resulting cursor observes
// nothing, per spec.md §8's testable property.
func RewriteSelector(sel any, freshID func() string) (map[string]any, error) {
	if _, isArray := sel.([]any); isArray {
		return nil, errArraySelector
	}
	m, _ := sel.(map[string]any)
	if len(m) == 0 {
		return map[string]any{"_id": freshID()}, nil
	}
	if id, has := m["_id"]; has && isFalsy(id) {
		return map[string]any{"_id": freshID()}, nil
	}
	return m, nil
}

func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	default:
		return false
	}
}
