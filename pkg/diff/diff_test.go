/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package diff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

type recorder struct {
	added       []string
	addedBefore []string
	changed     map[string]ddpdoc.Fields
	moved       []string
	removed     []string
}

func newRecorder() *recorder {
	return &recorder{changed: map[string]ddpdoc.Fields{}}
}

func (r *recorder) Added(id ddpdoc.ID, fields ddpdoc.Fields) { r.added = append(r.added, id) }
func (r *recorder) AddedBefore(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID) {
	r.addedBefore = append(r.addedBefore, id)
}
func (r *recorder) Changed(id ddpdoc.ID, fields ddpdoc.Fields) { r.changed[id] = fields }
func (r *recorder) MovedBefore(id ddpdoc.ID, before ddpdoc.ID) { r.moved = append(r.moved, id) }
func (r *recorder) Removed(id ddpdoc.ID)                       { r.removed = append(r.removed, id) }

func TestUnorderedAddedRemovedChanged(t *testing.T) {
	old := map[ddpdoc.ID]ddpdoc.Document{
		"a": {"_id": "a", "q": 3},
		"b": {"_id": "b", "q": 4},
	}
	new := map[ddpdoc.ID]ddpdoc.Document{
		"a": {"_id": "a", "q": 5},
		"c": {"_id": "c", "q": 1},
	}
	r := newRecorder()
	Unordered(old, new, r)
	require.ElementsMatch(t, []string{"c"}, r.added)
	require.ElementsMatch(t, []string{"b"}, r.removed)
	require.Equal(t, ddpdoc.Fields{"q": 5}, r.changed["a"])
}

func TestFieldPatchDeletesMissingField(t *testing.T) {
	p := FieldPatch(ddpdoc.Document{"_id": "a", "q": 1, "r": 2}, ddpdoc.Document{"_id": "a", "q": 1})
	require.True(t, ddpdoc.IsDeleted(p["r"]))
	_, hasQ := p["q"]
	require.False(t, hasQ)
}

func TestOrderedAddAndRemove(t *testing.T) {
	old := []ddpdoc.Document{{"_id": "a"}, {"_id": "b"}}
	new := []ddpdoc.Document{{"_id": "a"}, {"_id": "c"}}
	r := newRecorder()
	Ordered(old, new, r)
	require.Equal(t, []string{"b"}, r.removed)
	require.Equal(t, []string{"c"}, r.addedBefore)
}

func TestOrderedMove(t *testing.T) {
	old := []ddpdoc.Document{{"_id": "a"}, {"_id": "b"}, {"_id": "c"}}
	new := []ddpdoc.Document{{"_id": "c"}, {"_id": "a"}, {"_id": "b"}}
	r := newRecorder()
	Ordered(old, new, r)
	require.Contains(t, r.moved, "c")
	require.Empty(t, r.removed)
	require.Empty(t, r.addedBefore)
}

func TestOrderedNoChangesEmitsNothing(t *testing.T) {
	old := []ddpdoc.Document{{"_id": "a", "q": 1}}
	new := []ddpdoc.Document{{"_id": "a", "q": 1}}
	r := newRecorder()
	Ordered(old, new, r)
	require.Empty(t, r.added)
	require.Empty(t, r.addedBefore)
	require.Empty(t, r.moved)
	require.Empty(t, r.removed)
	require.Empty(t, r.changed)
}
