/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package occache implements the caching change observer of spec.md
// §4.4: an authoritative current-snapshot of a query's documents kept
// up to date by applying added/changed/removed events, in either
// unordered (map) or ordered (linked list) form. Grounded on the
// teacher's container/list-backed caches (pkg/objcache, pkg/istoragecache).
package occache

import (
	"container/list"
	"fmt"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

// Unordered is a map-backed cache: document order is not meaningful.
type Unordered struct {
	docs map[ddpdoc.ID]ddpdoc.Document
}

func NewUnordered() *Unordered {
	return &Unordered{docs: map[ddpdoc.ID]ddpdoc.Document{}}
}

func (c *Unordered) InitialAdds(docs []ddpdoc.Document) {
	c.docs = make(map[ddpdoc.ID]ddpdoc.Document, len(docs))
	for _, d := range docs {
		c.docs[ddpdoc.GetID(d)] = ddpdoc.CloneDocument(d)
	}
}

func (c *Unordered) Added(id ddpdoc.ID, fields ddpdoc.Fields) {
	doc := ddpdoc.Document{"_id": id}
	for k, v := range fields {
		doc[k] = ddpdoc.CloneValue(v)
	}
	c.docs[id] = doc
}

func (c *Unordered) AddedBefore(ddpdoc.ID, ddpdoc.Fields, ddpdoc.ID) {
	panic("occache: AddedBefore is not valid on an unordered cache")
}

func (c *Unordered) Changed(id ddpdoc.ID, fields ddpdoc.Fields) {
	doc, ok := c.docs[id]
	if !ok {
		panic(fmt.Sprintf("occache: changed into missing id %q", id))
	}
	applyPatch(doc, fields)
}

func (c *Unordered) MovedBefore(ddpdoc.ID, ddpdoc.ID) {
	panic("occache: MovedBefore is not valid on an unordered cache")
}

func (c *Unordered) Removed(id ddpdoc.ID) {
	if _, ok := c.docs[id]; !ok {
		panic(fmt.Sprintf("occache: removed missing id %q", id))
	}
	delete(c.docs, id)
}

// Snapshot returns a defensive copy of the current cache contents.
func (c *Unordered) Snapshot() map[ddpdoc.ID]ddpdoc.Document {
	out := make(map[ddpdoc.ID]ddpdoc.Document, len(c.docs))
	for id, d := range c.docs {
		out[id] = ddpdoc.CloneDocument(d)
	}
	return out
}

func (c *Unordered) Len() int { return len(c.docs) }

// Ordered is a doubly-linked-list-backed cache preserving
// insertion/move order, with O(1) move-before given the target node
// (found via an id index map).
type Ordered struct {
	l     *list.List
	index map[ddpdoc.ID]*list.Element
}

func NewOrdered() *Ordered {
	return &Ordered{l: list.New(), index: map[ddpdoc.ID]*list.Element{}}
}

func (c *Ordered) InitialAdds(docs []ddpdoc.Document) {
	c.l = list.New()
	c.index = make(map[ddpdoc.ID]*list.Element, len(docs))
	for _, d := range docs {
		id := ddpdoc.GetID(d)
		el := c.l.PushBack(ddpdoc.CloneDocument(d))
		c.index[id] = el
	}
}

func (c *Ordered) Added(ddpdoc.ID, ddpdoc.Fields) {
	panic("occache: Added is not valid on an ordered cache, use AddedBefore")
}

func (c *Ordered) AddedBefore(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID) {
	doc := ddpdoc.Document{"_id": id}
	for k, v := range fields {
		doc[k] = ddpdoc.CloneValue(v)
	}
	var el *list.Element
	if before == "" {
		el = c.l.PushBack(doc)
	} else {
		beforeEl, ok := c.index[before]
		if !ok {
			panic(fmt.Sprintf("occache: addedBefore references missing id %q", before))
		}
		el = c.l.InsertBefore(doc, beforeEl)
	}
	c.index[id] = el
}

func (c *Ordered) Changed(id ddpdoc.ID, fields ddpdoc.Fields) {
	el, ok := c.index[id]
	if !ok {
		panic(fmt.Sprintf("occache: changed into missing id %q", id))
	}
	applyPatch(el.Value.(ddpdoc.Document), fields)
}

func (c *Ordered) MovedBefore(id ddpdoc.ID, before ddpdoc.ID) {
	el, ok := c.index[id]
	if !ok {
		panic(fmt.Sprintf("occache: movedBefore references missing id %q", id))
	}
	c.l.Remove(el)
	var moved *list.Element
	if before == "" {
		moved = c.l.PushBack(el.Value)
	} else {
		beforeEl, ok := c.index[before]
		if !ok {
			panic(fmt.Sprintf("occache: movedBefore references missing before-id %q", before))
		}
		moved = c.l.InsertBefore(el.Value, beforeEl)
	}
	c.index[id] = moved
}

func (c *Ordered) Removed(id ddpdoc.ID) {
	el, ok := c.index[id]
	if !ok {
		panic(fmt.Sprintf("occache: removed missing id %q", id))
	}
	c.l.Remove(el)
	delete(c.index, id)
}

// Snapshot returns a defensive, order-preserving copy of the cache.
func (c *Ordered) Snapshot() []ddpdoc.Document {
	out := make([]ddpdoc.Document, 0, c.l.Len())
	for el := c.l.Front(); el != nil; el = el.Next() {
		out = append(out, ddpdoc.CloneDocument(el.Value.(ddpdoc.Document)))
	}
	return out
}

func (c *Ordered) Len() int { return c.l.Len() }

func applyPatch(doc ddpdoc.Document, fields ddpdoc.Fields) {
	for k, v := range fields {
		if ddpdoc.IsDeleted(v) {
			delete(doc, k)
			continue
		}
		doc[k] = ddpdoc.CloneValue(v)
	}
}
