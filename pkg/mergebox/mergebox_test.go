/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package mergebox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

type recordingEmitter struct {
	added   []ddpdoc.Fields
	changed []ddpdoc.Fields
	removed []ddpdoc.ID
}

func (r *recordingEmitter) Added(id ddpdoc.ID, fields ddpdoc.Fields)   { r.added = append(r.added, fields) }
func (r *recordingEmitter) Changed(id ddpdoc.ID, fields ddpdoc.Fields) { r.changed = append(r.changed, fields) }
func (r *recordingEmitter) Removed(id ddpdoc.ID)                       { r.removed = append(r.removed, id) }

func TestAddedFromOneSubIsAddedEvent(t *testing.T) {
	mb := New()
	var e recordingEmitter
	mb.Added("widgets", "subA", "doc1", ddpdoc.Fields{"x": 1}, &e)
	require.Len(t, e.added, 1)
	require.Equal(t, 1, e.added[0]["x"])
	require.Empty(t, e.changed)
}

func TestSecondSubContributingSameDocIsChangedEvent(t *testing.T) {
	mb := New()
	var e recordingEmitter
	mb.Added("widgets", "subA", "doc1", ddpdoc.Fields{"x": 1}, &e)
	mb.Added("widgets", "subB", "doc1", ddpdoc.Fields{"y": 2}, &e)
	require.Len(t, e.added, 1)
	require.Len(t, e.changed, 1)
	// subA's "x" is already head for that field; subB's "y" is brand new
	// so it appears in the collector even though subA arrived first.
	require.Equal(t, 2, e.changed[0]["y"])
	require.NotContains(t, e.changed[0], "x")
}

func TestHeadPrecedenceOnOverlappingField(t *testing.T) {
	mb := New()
	var e recordingEmitter
	mb.Added("widgets", "subA", "doc1", ddpdoc.Fields{"x": 1}, &e)
	mb.Added("widgets", "subB", "doc1", ddpdoc.Fields{"x": 99}, &e)
	// subA arrived first so it owns the head; subB's "x" is recorded
	// internally but does not override the client-visible value.
	require.NotContains(t, e.changed[len(e.changed)-1], "x")

	mb.Changed("widgets", "subA", "doc1", ddpdoc.Fields{"x": 2}, &e)
	require.Equal(t, 2, e.changed[len(e.changed)-1]["x"])
}

func TestClearFieldPromotesNextContributor(t *testing.T) {
	mb := New()
	var e recordingEmitter
	mb.Added("widgets", "subA", "doc1", ddpdoc.Fields{"x": 1}, &e)
	mb.Added("widgets", "subB", "doc1", ddpdoc.Fields{"x": 99}, &e)

	mb.Changed("widgets", "subA", "doc1", ddpdoc.Fields{"x": ddpdoc.Deleted{}}, &e)
	last := e.changed[len(e.changed)-1]
	require.Equal(t, 99, last["x"])
}

func TestClearFieldDropsWhenLastContributorLeaves(t *testing.T) {
	mb := New()
	var e recordingEmitter
	mb.Added("widgets", "subA", "doc1", ddpdoc.Fields{"x": 1}, &e)
	mb.Changed("widgets", "subA", "doc1", ddpdoc.Fields{"x": ddpdoc.Deleted{}}, &e)
	last := e.changed[len(e.changed)-1]
	require.True(t, ddpdoc.IsDeleted(last["x"]))
}

func TestRemovedDropsDocumentWhenLastSubLeaves(t *testing.T) {
	mb := New()
	var e recordingEmitter
	mb.Added("widgets", "subA", "doc1", ddpdoc.Fields{"x": 1}, &e)
	mb.Removed("widgets", "subA", "doc1", &e)
	require.Equal(t, []ddpdoc.ID{"doc1"}, e.removed)
}

func TestRemovedClearsOwnedFieldsWhenOtherSubsRemain(t *testing.T) {
	mb := New()
	var e recordingEmitter
	mb.Added("widgets", "subA", "doc1", ddpdoc.Fields{"x": 1}, &e)
	mb.Added("widgets", "subB", "doc1", ddpdoc.Fields{"y": 2}, &e)
	mb.Removed("widgets", "subA", "doc1", &e)
	require.Empty(t, e.removed)
	last := e.changed[len(e.changed)-1]
	require.True(t, ddpdoc.IsDeleted(last["x"]))
	require.NotContains(t, last, "y")
}

func TestSnapshotDiffDetectsAddedChangedRemoved(t *testing.T) {
	old := map[string]map[ddpdoc.ID]ddpdoc.Document{
		"widgets": {
			"doc1": {"_id": "doc1", "x": 1},
			"doc2": {"_id": "doc2", "x": 5},
		},
	}
	cur := map[string]map[ddpdoc.ID]ddpdoc.Document{
		"widgets": {
			"doc1": {"_id": "doc1", "x": 2},
			"doc3": {"_id": "doc3", "x": 7},
		},
	}
	var e struct {
		added, changed []string
		removed        []string
	}
	emitter := snapshotRecorder{
		onAdded:   func(c string, id ddpdoc.ID, f ddpdoc.Fields) { e.added = append(e.added, id) },
		onChanged: func(c string, id ddpdoc.ID, f ddpdoc.Fields) { e.changed = append(e.changed, id) },
		onRemoved: func(c string, id ddpdoc.ID) { e.removed = append(e.removed, id) },
	}
	DiffSnapshots(old, cur, emitter)
	require.ElementsMatch(t, []string{"doc3"}, e.added)
	require.ElementsMatch(t, []string{"doc1"}, e.changed)
	require.ElementsMatch(t, []string{"doc2"}, e.removed)
}

type snapshotRecorder struct {
	onAdded   func(string, ddpdoc.ID, ddpdoc.Fields)
	onChanged func(string, ddpdoc.ID, ddpdoc.Fields)
	onRemoved func(string, ddpdoc.ID)
}

func (s snapshotRecorder) Added(c string, id ddpdoc.ID, f ddpdoc.Fields)   { s.onAdded(c, id, f) }
func (s snapshotRecorder) Changed(c string, id ddpdoc.ID, f ddpdoc.Fields) { s.onChanged(c, id, f) }
func (s snapshotRecorder) Removed(c string, id ddpdoc.ID)                  { s.onRemoved(c, id) }
