/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package bboltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "widgets", ddpdoc.Document{"_id": "w1", "color": "red"}))

	doc, ok, err := s.Get(ctx, "widgets", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "red", doc["color"])

	require.NoError(t, s.Delete(ctx, "widgets", "w1"))
	_, ok, err = s.Get(ctx, "widgets", "w1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllDocumentsOnUntouchedCollectionIsEmptyNotError(t *testing.T) {
	s := openTestStore(t)
	docs, err := s.AllDocuments(context.Background(), "nope")
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestGetOnUntouchedCollectionIsNotFoundNotError(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "nope", "x")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "widgets", ddpdoc.Document{"_id": "w1", "color": "red"}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	doc, ok, err := s2.Get(ctx, "widgets", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "red", doc["color"])
}

func TestAllDocumentsReturnsEveryDocumentInCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "widgets", ddpdoc.Document{"_id": "w1"}))
	require.NoError(t, s.Put(ctx, "widgets", ddpdoc.Document{"_id": "w2"}))

	docs, err := s.AllDocuments(ctx, "widgets")
	require.NoError(t, err)
	require.Len(t, docs, 2)
}
