/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package docstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/crossbar"
	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/livereg"
	"github.com/voedger/reactord/pkg/selector"
	"github.com/voedger/reactord/pkg/writefence"
)

// fakeDriver is a minimal in-memory Driver test double, independent of
// pkg/docstore/memstore so this test exercises only Store's own logic.
type fakeDriver struct {
	mu   sync.Mutex
	docs map[string]map[ddpdoc.ID]ddpdoc.Document
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{docs: map[string]map[ddpdoc.ID]ddpdoc.Document{}}
}

func (f *fakeDriver) AllDocuments(ctx context.Context, collection string) ([]ddpdoc.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ddpdoc.Document, 0, len(f.docs[collection]))
	for _, d := range f.docs[collection] {
		out = append(out, ddpdoc.CloneDocument(d))
	}
	return out, nil
}

func (f *fakeDriver) Get(ctx context.Context, collection string, id ddpdoc.ID) (ddpdoc.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[collection][id]
	if !ok {
		return nil, false, nil
	}
	return ddpdoc.CloneDocument(d), true, nil
}

func (f *fakeDriver) Put(ctx context.Context, collection string, doc ddpdoc.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[collection] == nil {
		f.docs[collection] = map[ddpdoc.ID]ddpdoc.Document{}
	}
	f.docs[collection][ddpdoc.GetID(doc)] = ddpdoc.CloneDocument(doc)
	return nil
}

func (f *fakeDriver) Delete(ctx context.Context, collection string, id ddpdoc.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs[collection], id)
	return nil
}

func TestInsertFindAndQueryRoundTrip(t *testing.T) {
	s := New(newFakeDriver(), crossbar.New())
	ctx := context.Background()

	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w1", "color": "red"}))
	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w2", "color": "blue"}))

	doc, ok, err := s.FindOne(ctx, "widgets", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "red", doc["color"])

	docs, err := s.Query(ctx, livereg.CursorDescription{
		Collection: "widgets",
		Selector:   map[string]any{"color": "blue"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "w2", ddpdoc.GetID(docs[0]))
}

func TestUpdateOneMergesAndDeletesFields(t *testing.T) {
	s := New(newFakeDriver(), crossbar.New())
	ctx := context.Background()
	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w1", "color": "red", "size": "L"}))

	require.NoError(t, s.UpdateOne(ctx, "widgets", "w1", ddpdoc.Fields{"color": "green", "size": ddpdoc.Deleted{}}))

	doc, ok, err := s.FindOne(ctx, "widgets", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "green", doc["color"])
	_, hasSize := doc["size"]
	require.False(t, hasSize)
}

func TestUpdateOneOnMissingDocumentErrors(t *testing.T) {
	s := New(newFakeDriver(), crossbar.New())
	err := s.UpdateOne(context.Background(), "widgets", "nope", ddpdoc.Fields{"x": 1})
	require.ErrorIs(t, err, ErrNoSuchDocument)
}

func TestDeleteOneRemovesDocument(t *testing.T) {
	s := New(newFakeDriver(), crossbar.New())
	ctx := context.Background()
	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w1"}))
	require.NoError(t, s.DeleteOne(ctx, "widgets", "w1"))

	_, ok, err := s.FindOne(ctx, "widgets", "w1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWritesFireCrossbarNotificationWithCollection(t *testing.T) {
	bar := crossbar.New()
	s := New(newFakeDriver(), bar)

	var got crossbar.Notification
	stop := bar.Listen(crossbar.Trigger{"collection": "widgets"}, func(n crossbar.Notification) {
		got = n
	})
	defer stop()

	require.NoError(t, s.InsertOne(context.Background(), "widgets", ddpdoc.Document{"_id": "w1"}))
	require.Equal(t, "insert", got["op"])
	require.Equal(t, "w1", got["id"])
	_, hasFence := got["fence"]
	require.False(t, hasFence)
}

func TestWritesAttachCurrentWriteFenceToNotification(t *testing.T) {
	bar := crossbar.New()
	s := New(newFakeDriver(), bar)

	var got crossbar.Notification
	stop := bar.Listen(crossbar.Trigger{"collection": "widgets"}, func(n crossbar.Notification) {
		got = n
	})
	defer stop()

	fence := writefence.New()
	ctx := writefence.WithCurrent(context.Background(), fence)

	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w1"}))
	require.Equal(t, fence, got["fence"])
}

func TestQueryAppliesSortSkipAndLimit(t *testing.T) {
	s := New(newFakeDriver(), crossbar.New())
	ctx := context.Background()
	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w1", "n": 3}))
	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w2", "n": 1}))
	require.NoError(t, s.InsertOne(ctx, "widgets", ddpdoc.Document{"_id": "w3", "n": 2}))

	docs, err := s.Query(ctx, livereg.CursorDescription{
		Collection: "widgets",
		Selector:   map[string]any{},
		Options: map[string]any{
			"sort":  selector.SortSpec{{Field: "n", Ascending: true}},
			"skip":  1,
			"limit": 1,
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "w3", ddpdoc.GetID(docs[0]))
}
