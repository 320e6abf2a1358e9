/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package memstore is an in-process, map-backed pkg/docstore.Driver:
// every document lives in a plain Go map behind a mutex, with no
// persistence. Intended for tests and single-process deployments where
// pkg/docstore/bboltstore's durability isn't needed.
package memstore

import (
	"context"
	"sync"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

// Store is a memstore.Driver: collections keyed by name, documents
// within a collection keyed by _id.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[ddpdoc.ID]ddpdoc.Document
}

// New returns an empty Store.
func New() *Store {
	return &Store{collections: map[string]map[ddpdoc.ID]ddpdoc.Document{}}
}

// AllDocuments returns a defensive deep copy of every document in collection.
func (s *Store) AllDocuments(ctx context.Context, collection string) ([]ddpdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.collections[collection]
	out := make([]ddpdoc.Document, 0, len(bucket))
	for _, d := range bucket {
		out = append(out, ddpdoc.CloneDocument(d))
	}
	return out, nil
}

// Get fetches one document by id, or ok=false if it doesn't exist.
func (s *Store) Get(ctx context.Context, collection string, id ddpdoc.ID) (ddpdoc.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.collections[collection][id]
	if !ok {
		return nil, false, nil
	}
	return ddpdoc.CloneDocument(d), true, nil
}

// Put inserts or overwrites doc, keyed by its "_id" field.
func (s *Store) Put(ctx context.Context, collection string, doc ddpdoc.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.collections[collection]
	if !ok {
		bucket = map[ddpdoc.ID]ddpdoc.Document{}
		s.collections[collection] = bucket
	}
	bucket[ddpdoc.GetID(doc)] = ddpdoc.CloneDocument(doc)
	return nil
}

// Delete removes a document by id. Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, collection string, id ddpdoc.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}
