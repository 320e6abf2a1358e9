/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package docstore implements spec.md §6's document-store external
// collaborator interface: find/findOne/insertOne/updateOne/deleteOne
// against a MongoDB-compatible store. The core treats the store as a
// black box (spec.md §1); this package supplies that box, wiring
// writes into the invalidation crossbar (spec.md §4.3) so every
// registered observe driver is told to re-poll, and threading the
// method handler's current write fence (spec.md §4.2) through the
// crossbar notification so the fence doesn't fire before this
// driver's resulting poll cycle completes — the same "fence" key
// convention pkg/polldriver already reads off crossbar.Notification.
package docstore

import (
	"context"
	"errors"

	"github.com/voedger/reactord/pkg/crossbar"
	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/livereg"
	"github.com/voedger/reactord/pkg/selector"
	"github.com/voedger/reactord/pkg/writefence"
)

// ErrNoSuchDocument is returned by UpdateOne against a missing id.
var ErrNoSuchDocument = errors.New("docstore: no such document")

// FindOptions mirrors the subset of spec.md §3's Cursor Description
// options a store's Find must honor.
type FindOptions struct {
	Sort       selector.SortSpec
	Projection map[string]any
	Limit      int
	Skip       int
}

// Driver is the raw per-collection storage a concrete backend
// supplies (pkg/docstore/memstore, pkg/docstore/bboltstore). Store
// layers selector matching, sorting, and crossbar notification on top
// of this minimal capability so a driver only has to implement
// straightforward CRUD over its own encoding.
type Driver interface {
	AllDocuments(ctx context.Context, collection string) ([]ddpdoc.Document, error)
	Get(ctx context.Context, collection string, id ddpdoc.ID) (ddpdoc.Document, bool, error)
	Put(ctx context.Context, collection string, doc ddpdoc.Document) error
	Delete(ctx context.Context, collection string, id ddpdoc.ID) error
}

// Store is the document store spec.md §6 calls out as an external
// collaborator. It also implements livereg.Store (Query), so a Store
// can be handed straight to livereg.New.
type Store struct {
	driver Driver
	bar    *crossbar.Bar
}

// New builds a Store over driver, firing crossbar notifications on
// bar for every write.
func New(driver Driver, bar *crossbar.Bar) *Store {
	return &Store{driver: driver, bar: bar}
}

// Query implements livereg.Store: runs desc's selector/sort/limit/skip
// against driver's current documents. Errors with a numeric code (via
// ddperr.New) are treated by pkg/polldriver as a permanent query
// error on the first poll, per spec.md §7.
func (s *Store) Query(ctx context.Context, desc livereg.CursorDescription) ([]ddpdoc.Document, error) {
	docs, err := s.driver.AllDocuments(ctx, desc.Collection)
	if err != nil {
		return nil, err
	}
	m := selector.NewMatcher(desc.Selector)
	matched := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if m.DocumentMatches(d).Result {
			matched = append(matched, d)
		}
	}
	opts := optionsOf(desc.Options)
	if len(opts.Sort) > 0 {
		selector.NewSorter(opts.Sort).Sort(matched)
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	out := make([]ddpdoc.Document, len(matched))
	for i, d := range matched {
		out[i] = ddpdoc.Document(d)
	}
	return out, nil
}

func optionsOf(m map[string]any) FindOptions {
	var opts FindOptions
	if v, ok := m["limit"].(int); ok {
		opts.Limit = v
	}
	if v, ok := m["skip"].(int); ok {
		opts.Skip = v
	}
	if v, ok := m["sort"].(selector.SortSpec); ok {
		opts.Sort = v
	}
	return opts
}

// FindOne fetches one document by id.
func (s *Store) FindOne(ctx context.Context, collection string, id ddpdoc.ID) (ddpdoc.Document, bool, error) {
	return s.driver.Get(ctx, collection, id)
}

// InsertOne stores doc and fires a crossbar insert notification.
func (s *Store) InsertOne(ctx context.Context, collection string, doc ddpdoc.Document) error {
	if err := s.driver.Put(ctx, collection, doc); err != nil {
		return err
	}
	s.fire(ctx, collection, ddpdoc.GetID(doc), "insert")
	return nil
}

// UpdateOne applies patch over the existing document (last-write-wins
// per field; a patch value of ddpdoc.Deleted{} removes the field) and
// fires a crossbar update notification.
func (s *Store) UpdateOne(ctx context.Context, collection string, id ddpdoc.ID, patch ddpdoc.Fields) error {
	existing, ok, err := s.driver.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSuchDocument
	}
	merged := ddpdoc.CloneDocument(existing)
	for k, v := range patch {
		if ddpdoc.IsDeleted(v) {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if err := s.driver.Put(ctx, collection, merged); err != nil {
		return err
	}
	s.fire(ctx, collection, id, "update")
	return nil
}

// DeleteOne removes a document and fires a crossbar remove notification.
func (s *Store) DeleteOne(ctx context.Context, collection string, id ddpdoc.ID) error {
	if err := s.driver.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.fire(ctx, collection, id, "remove")
	return nil
}

func (s *Store) fire(ctx context.Context, collection string, id ddpdoc.ID, op string) {
	n := crossbar.Notification{"collection": collection, "id": id, "op": op}
	if fence := writefence.Current(ctx); fence != nil {
		n["fence"] = fence
	}
	s.bar.Fire(n)
}
