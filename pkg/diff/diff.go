/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package diff implements the two-sequence, id-based diff contract of
// spec.md §4.11, used by the polling driver (§4.6) for result diffs and
// by the merge-box (§4.8) for FieldPatch.
package diff

import (
	"reflect"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

// Sink receives the events produced by a diff. All methods are
// optional to call; Unordered never calls the *Before variants,
// Ordered never calls Added (it uses AddedBefore) and reports removals
// through Removed.
type Sink interface {
	Added(id ddpdoc.ID, fields ddpdoc.Fields)
	AddedBefore(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID)
	Changed(id ddpdoc.ID, fields ddpdoc.Fields)
	MovedBefore(id ddpdoc.ID, before ddpdoc.ID)
	Removed(id ddpdoc.ID)
}

// FieldPatch computes the minimal per-field patch from oldDoc to
// newDoc: absent-in-new => Deleted, absent-in-old or changed => new
// value, unchanged => omitted. "_id" is never included.
func FieldPatch(oldDoc, newDoc ddpdoc.Document) ddpdoc.Fields {
	patch := ddpdoc.Fields{}
	for k, nv := range newDoc {
		if k == "_id" {
			continue
		}
		ov, present := oldDoc[k]
		if !present || !reflect.DeepEqual(ov, nv) {
			patch[k] = ddpdoc.CloneValue(nv)
		}
	}
	for k := range oldDoc {
		if k == "_id" {
			continue
		}
		if _, present := newDoc[k]; !present {
			patch[k] = ddpdoc.Deleted{}
		}
	}
	return patch
}

// Unordered diffs two id-keyed maps, emitting Added/Removed for
// id-differences and Changed for value-differences.
func Unordered(old, new map[ddpdoc.ID]ddpdoc.Document, sink Sink) {
	for id, oldDoc := range old {
		if _, stillThere := new[id]; !stillThere {
			sink.Removed(id)
			_ = oldDoc
		}
	}
	for id, newDoc := range new {
		oldDoc, existed := old[id]
		if !existed {
			sink.Added(id, ddpdoc.FieldsOf(newDoc))
			continue
		}
		patch := FieldPatch(oldDoc, newDoc)
		if len(patch) > 0 {
			sink.Changed(id, patch)
		}
	}
}

// Ordered diffs two ordered, unique-id document sequences, emitting
// AddedBefore/MovedBefore/Removed/Changed. The algorithm: drop removed
// ids first, then walk the target order against what remains, moving
// or inserting each id into place; a nil/"" "before" id means "at end".
func Ordered(old, new []ddpdoc.Document, sink Sink) {
	oldByID := make(map[ddpdoc.ID]ddpdoc.Document, len(old))
	for _, d := range old {
		oldByID[ddpdoc.GetID(d)] = d
	}
	newByID := make(map[ddpdoc.ID]ddpdoc.Document, len(new))
	newIDOrder := make([]ddpdoc.ID, len(new))
	for i, d := range new {
		id := ddpdoc.GetID(d)
		newByID[id] = d
		newIDOrder[i] = id
	}

	// Removed ids, and the remaining old order.
	remaining := make([]ddpdoc.ID, 0, len(old))
	for _, d := range old {
		id := ddpdoc.GetID(d)
		if _, stillThere := newByID[id]; !stillThere {
			sink.Removed(id)
			continue
		}
		remaining = append(remaining, id)
	}

	// Walk target order against `remaining`, matching positions in place,
	// moving ids that already existed but are out of order, and inserting
	// ids that are brand new.
	for i, id := range newIDOrder {
		before := ddpdoc.ID("")
		if i+1 < len(newIDOrder) {
			before = newIDOrder[i+1]
		}
		if i < len(remaining) && remaining[i] == id {
			continue
		}
		if j := indexOf(remaining, id, i); j >= 0 {
			sink.MovedBefore(id, before)
			remaining = move(remaining, j, i)
			continue
		}
		sink.AddedBefore(id, ddpdoc.FieldsOf(newByID[id]), before)
		remaining = insert(remaining, i, id)
	}

	// Field-level changes for ids present in both.
	for id, newDoc := range newByID {
		if oldDoc, existed := oldByID[id]; existed {
			patch := FieldPatch(oldDoc, newDoc)
			if len(patch) > 0 {
				sink.Changed(id, patch)
			}
		}
	}
}

func indexOf(s []ddpdoc.ID, id ddpdoc.ID, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == id {
			return i
		}
	}
	return -1
}

func move(s []ddpdoc.ID, from, to int) []ddpdoc.ID {
	id := s[from]
	s = append(s[:from], s[from+1:]...)
	out := make([]ddpdoc.ID, 0, len(s)+1)
	out = append(out, s[:to]...)
	out = append(out, id)
	out = append(out, s[to:]...)
	return out
}

func insert(s []ddpdoc.ID, at int, id ddpdoc.ID) []ddpdoc.ID {
	out := make([]ddpdoc.ID, 0, len(s)+1)
	out = append(out, s[:at]...)
	out = append(out, id)
	out = append(out, s[at:]...)
	return out
}
