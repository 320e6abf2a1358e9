/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package occache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

func TestUnorderedLifecycle(t *testing.T) {
	c := NewUnordered()
	c.InitialAdds([]ddpdoc.Document{{"_id": "a", "q": 1}})
	c.Added("b", ddpdoc.Fields{"q": 2})
	c.Changed("a", ddpdoc.Fields{"q": 3})
	snap := c.Snapshot()
	require.Equal(t, 3, snap["a"]["q"])
	require.Equal(t, 2, snap["b"]["q"])
	c.Changed("a", ddpdoc.Fields{"q": ddpdoc.Deleted{}})
	_, hasQ := c.Snapshot()["a"]["q"]
	require.False(t, hasQ)
	c.Removed("b")
	require.Equal(t, 1, c.Len())
}

func TestUnorderedChangedMissingPanics(t *testing.T) {
	c := NewUnordered()
	require.Panics(t, func() { c.Changed("x", ddpdoc.Fields{}) })
}

func TestUnorderedRemovedMissingPanics(t *testing.T) {
	c := NewUnordered()
	require.Panics(t, func() { c.Removed("x") })
}

func TestOrderedInsertOrder(t *testing.T) {
	c := NewOrdered()
	c.AddedBefore("a", ddpdoc.Fields{}, "")
	c.AddedBefore("c", ddpdoc.Fields{}, "")
	c.AddedBefore("b", ddpdoc.Fields{}, "c")
	snap := c.Snapshot()
	ids := []string{}
	for _, d := range snap {
		ids = append(ids, ddpdoc.GetID(d))
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestOrderedMove(t *testing.T) {
	c := NewOrdered()
	c.AddedBefore("a", ddpdoc.Fields{}, "")
	c.AddedBefore("b", ddpdoc.Fields{}, "")
	c.AddedBefore("c", ddpdoc.Fields{}, "")
	c.MovedBefore("c", "a")
	ids := idsOf(c.Snapshot())
	require.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestOrderedCrossModeOpsPanic(t *testing.T) {
	c := NewOrdered()
	require.Panics(t, func() { c.Added("a", ddpdoc.Fields{}) })
	u := NewUnordered()
	require.Panics(t, func() { u.AddedBefore("a", ddpdoc.Fields{}, "") })
	require.Panics(t, func() { u.MovedBefore("a", "") })
}

func idsOf(docs []ddpdoc.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = ddpdoc.GetID(d)
	}
	return out
}
