/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

func TestPutGetDeleteRoundTrip(t *testing.T) {
	s := New()
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

func TestGetOnMissingCollectionReturnsNotFound(t *testing.T) {
	s := New()
	_, ok, err := s.Get(context.Background(), "nope", "x")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllDocumentsReturnsIndependentCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "widgets", ddpdoc.Document{"_id": "w1", "tags": []any{"a"}}))

	docs, err := s.AllDocuments(ctx, "widgets")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs[0]["tags"].([]any)[0] = "mutated"

	again, err := s.AllDocuments(ctx, "widgets")
	require.NoError(t, err)
	require.Equal(t, "a", again[0]["tags"].([]any)[0])
}
