/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package mergebox implements the session document/collection view of
// spec.md §4.8: the per-session, per-collection materialized view
// that lets many overlapping subscriptions share one client-visible
// document, each field won by the subscription that contributed it
// first (spec.md calls this "merge-box"; SERVER_MERGE publications
// route through it, NO_MERGE/NO_MERGE_NO_HISTORY bypass it entirely).
package mergebox

import (
	"reflect"

	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/diff"
)

// SubHandle identifies the contributing subscription. Subscriptions
// are identified by their wire handle string (pkg/subscription).
type SubHandle = string

// Emitter receives the batched, client-visible events a collection
// view produces per call.
type Emitter interface {
	Added(id ddpdoc.ID, fields ddpdoc.Fields)
	Changed(id ddpdoc.ID, fields ddpdoc.Fields)
	Removed(id ddpdoc.ID)
}

type fieldEntry struct {
	sh    SubHandle
	value any
}

// DocumentView is one document's per-field precedence list: for each
// field, the head of the list (index 0) is the value the client sees.
type DocumentView struct {
	fields map[string][]fieldEntry
}

func newDocumentView() *DocumentView {
	return &DocumentView{fields: map[string][]fieldEntry{}}
}

// changeField records that sh contributes value for key. isAdd is
// accepted for parity with the collection view's "added" call site;
// none of the three cases below condition on it.
func (d *DocumentView) changeField(sh SubHandle, key string, value any, collector ddpdoc.Fields, isAdd bool) {
	if key == "_id" {
		return
	}
	value = ddpdoc.CloneValue(value)
	entries, ok := d.fields[key]
	if !ok {
		d.fields[key] = []fieldEntry{{sh, value}}
		collector[key] = value
		return
	}
	if idx := indexOfSh(entries, sh); idx >= 0 {
		old := entries[idx].value
		entries[idx].value = value
		if idx == 0 && !reflect.DeepEqual(old, value) {
			collector[key] = value
		}
		return
	}
	d.fields[key] = append(entries, fieldEntry{sh, value})
}

// clearField removes sh's contribution to key, if any.
func (d *DocumentView) clearField(sh SubHandle, key string, collector ddpdoc.Fields) {
	if key == "_id" {
		return
	}
	entries, ok := d.fields[key]
	if !ok {
		return
	}
	idx := indexOfSh(entries, sh)
	if idx < 0 {
		return
	}
	wasHead := idx == 0
	removed := entries[idx].value
	entries = append(entries[:idx:idx], entries[idx+1:]...)
	if len(entries) == 0 {
		delete(d.fields, key)
		collector[key] = ddpdoc.Deleted{}
		return
	}
	d.fields[key] = entries
	if wasHead {
		if newHead := entries[0].value; !reflect.DeepEqual(newHead, removed) {
			collector[key] = newHead
		}
	}
}

// snapshot returns the head-value projection of this document, the
// image the client currently sees.
func (d *DocumentView) snapshot(id ddpdoc.ID) ddpdoc.Document {
	doc := ddpdoc.Document{"_id": id}
	for k, entries := range d.fields {
		if len(entries) > 0 {
			doc[k] = ddpdoc.CloneValue(entries[0].value)
		}
	}
	return doc
}

func indexOfSh(entries []fieldEntry, sh SubHandle) int {
	for i, e := range entries {
		if e.sh == sh {
			return i
		}
	}
	return -1
}

type trackedDoc struct {
	view     *DocumentView
	existsIn map[SubHandle]struct{}
}

// CollectionView is the merge-box's per-collection document set.
type CollectionView struct {
	documents map[ddpdoc.ID]*trackedDoc
}

func newCollectionView() *CollectionView {
	return &CollectionView{documents: map[ddpdoc.ID]*trackedDoc{}}
}

func (c *CollectionView) added(sh SubHandle, id ddpdoc.ID, fields ddpdoc.Fields, emit Emitter) {
	td, existed := c.documents[id]
	if !existed {
		td = &trackedDoc{view: newDocumentView(), existsIn: map[SubHandle]struct{}{}}
		c.documents[id] = td
	}
	collector := ddpdoc.Fields{}
	for k, v := range fields {
		td.view.changeField(sh, k, v, collector, true)
	}
	td.existsIn[sh] = struct{}{}
	if !existed {
		emit.Added(id, collector)
	} else {
		emit.Changed(id, collector)
	}
}

func (c *CollectionView) changed(sh SubHandle, id ddpdoc.ID, fields ddpdoc.Fields, emit Emitter) {
	td, ok := c.documents[id]
	if !ok {
		panic("mergebox: changed into a document not tracked for this subscription")
	}
	collector := ddpdoc.Fields{}
	for k, v := range fields {
		if ddpdoc.IsDeleted(v) {
			td.view.clearField(sh, k, collector)
		} else {
			td.view.changeField(sh, k, v, collector, false)
		}
	}
	emit.Changed(id, collector)
}

func (c *CollectionView) removed(sh SubHandle, id ddpdoc.ID, emit Emitter) {
	td, ok := c.documents[id]
	if !ok {
		return
	}
	delete(td.existsIn, sh)
	if len(td.existsIn) == 0 {
		delete(c.documents, id)
		emit.Removed(id)
		return
	}
	var owned []string
	for key, entries := range td.view.fields {
		if indexOfSh(entries, sh) >= 0 {
			owned = append(owned, key)
		}
	}
	collector := ddpdoc.Fields{}
	for _, key := range owned {
		td.view.clearField(sh, key, collector)
	}
	emit.Changed(id, collector)
}

func (c *CollectionView) snapshot() map[ddpdoc.ID]ddpdoc.Document {
	out := make(map[ddpdoc.ID]ddpdoc.Document, len(c.documents))
	for id, td := range c.documents {
		out[id] = td.view.snapshot(id)
	}
	return out
}

// MergeBox is the per-session set of collection views.
type MergeBox struct {
	collections map[string]*CollectionView
}

func New() *MergeBox {
	return &MergeBox{collections: map[string]*CollectionView{}}
}

func (m *MergeBox) collection(name string) *CollectionView {
	c, ok := m.collections[name]
	if !ok {
		c = newCollectionView()
		m.collections[name] = c
	}
	return c
}

func (m *MergeBox) Added(collection string, sh SubHandle, id ddpdoc.ID, fields ddpdoc.Fields, emit Emitter) {
	m.collection(collection).added(sh, id, fields, emit)
}

func (m *MergeBox) Changed(collection string, sh SubHandle, id ddpdoc.ID, fields ddpdoc.Fields, emit Emitter) {
	m.collection(collection).changed(sh, id, fields, emit)
}

func (m *MergeBox) Removed(collection string, sh SubHandle, id ddpdoc.ID, emit Emitter) {
	m.collection(collection).removed(sh, id, emit)
}

// Snapshot captures the client-visible image of every collection,
// for use as the "old" side of a setUserId diff (spec.md §4.8/§4.10).
func (m *MergeBox) Snapshot() map[string]map[ddpdoc.ID]ddpdoc.Document {
	out := make(map[string]map[ddpdoc.ID]ddpdoc.Document, len(m.collections))
	for name, c := range m.collections {
		out[name] = c.snapshot()
	}
	return out
}

// SnapshotEmitter receives the collection-scoped events DiffSnapshots produces.
type SnapshotEmitter interface {
	Added(collection string, id ddpdoc.ID, fields ddpdoc.Fields)
	Changed(collection string, id ddpdoc.ID, fields ddpdoc.Fields)
	Removed(collection string, id ddpdoc.ID)
}

// DiffSnapshots implements the setUserId snapshot diff of spec.md
// §4.8: for each (collection, id) present on one side only, emit
// added/removed with the field image from the present side; for each
// on both, emit per-field changed where values differ.
func DiffSnapshots(old, new map[string]map[ddpdoc.ID]ddpdoc.Document, emit SnapshotEmitter) {
	collections := map[string]struct{}{}
	for c := range old {
		collections[c] = struct{}{}
	}
	for c := range new {
		collections[c] = struct{}{}
	}
	for c := range collections {
		oldDocs, newDocs := old[c], new[c]
		for id, oldDoc := range oldDocs {
			newDoc, stillThere := newDocs[id]
			if !stillThere {
				emit.Removed(c, id)
				continue
			}
			if patch := diff.FieldPatch(oldDoc, newDoc); len(patch) > 0 {
				emit.Changed(c, id, patch)
			}
		}
		for id, newDoc := range newDocs {
			if _, existed := oldDocs[id]; !existed {
				emit.Added(c, id, ddpdoc.FieldsOf(newDoc))
			}
		}
	}
}
