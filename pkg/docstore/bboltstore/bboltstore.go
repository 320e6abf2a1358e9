/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package bboltstore is a durable pkg/docstore.Driver backed by a
// single go.etcd.io/bbolt file: one top-level bucket per collection,
// documents JSON-encoded and keyed by their "_id" inside it. Grounded
// on the teacher's pkg/istorage/bbolt appStorageType (bolt.Open once,
// db.Update/db.View per operation, a bucket-per-namespace layout).
package bboltstore

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

const filePerm = 0o600

// Store is a bboltstore.Driver wrapping a single open *bolt.DB.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, filePerm, bolt.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("bboltstore: opening %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.db.Close() }

func bucket(tx *bolt.Tx, collection string, create bool) (*bolt.Bucket, error) {
	if create {
		return tx.CreateBucketIfNotExists([]byte(collection))
	}
	return tx.Bucket([]byte(collection)), nil
}

// AllDocuments decodes every document stored in collection's bucket.
// A collection with no bucket yet (nothing ever written to it) yields
// an empty slice, not an error.
func (s *Store) AllDocuments(ctx context.Context, collection string) ([]ddpdoc.Document, error) {
	var out []ddpdoc.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, collection, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var doc ddpdoc.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("bboltstore: decoding document in %s: %w", collection, err)
			}
			out = append(out, doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get decodes one document by id.
func (s *Store) Get(ctx context.Context, collection string, id ddpdoc.ID) (ddpdoc.Document, bool, error) {
	var doc ddpdoc.Document
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, collection, false)
		if err != nil || b == nil {
			return err
		}
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &doc)
	})
	if err != nil {
		return nil, false, err
	}
	return doc, found, nil
}

// Put JSON-encodes doc and stores it under its "_id" in collection's bucket.
func (s *Store) Put(ctx context.Context, collection string, doc ddpdoc.Document) error {
	v, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("bboltstore: encoding document: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, collection, true)
		if err != nil {
			return err
		}
		return b.Put([]byte(ddpdoc.GetID(doc)), v)
	})
}

// Delete removes a document by id. Deleting a missing id, or a
// collection with no bucket yet, is a no-op.
func (s *Store) Delete(ctx context.Context, collection string, id ddpdoc.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, collection, false)
		if err != nil || b == nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}
