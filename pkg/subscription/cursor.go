/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package subscription

import (
	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/livereg"
	"github.com/voedger/reactord/pkg/multiplex"
)

// Cursor is the PublishableCursor a publish handler returns to have
// its query observed for the subscription's lifetime. It is the
// bridge between pkg/subscription and pkg/livereg named in spec.md
// §4.9: "_publishCursor(sub) calls observeChanges on the cursor,
// wiring the multiplexer's per-handle callbacks to sub.added/changed/removed".
type Cursor struct {
	Registry    *livereg.Registry
	Desc        livereg.CursorDescription
	Ordered     bool
	NonMutating bool
}

func (c Cursor) Collection() string { return c.Desc.Collection }

// PublishCursor registers the cursor against the live registry and
// wires its multiplexer callbacks to sub. AddHandleAndSendInitialAdds
// only returns once every initial add has already reached sub, so
// Ready can be called unconditionally right after.
func (c Cursor) PublishCursor(sub *Subscription) error {
	cbs := multiplex.Callbacks{
		InitialAdds: func(docs []ddpdoc.Document) {
			sub.InitialAdds(c.Desc.Collection, docs)
		},
		Added:   func(id ddpdoc.ID, fields ddpdoc.Fields) { sub.Added(c.Desc.Collection, id, fields) },
		Changed: func(id ddpdoc.ID, fields ddpdoc.Fields) { sub.Changed(c.Desc.Collection, id, fields) },
		Removed: func(id ddpdoc.ID) { sub.Removed(c.Desc.Collection, id) },
	}
	if c.Ordered {
		// The wire protocol has no "moved" message (spec.md §6); an
		// ordered cursor published to a client still only surfaces
		// added/changed/removed, position is not observable.
		cbs.AddedBefore = func(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID) {
			sub.Added(c.Desc.Collection, id, fields)
		}
		cbs.MovedBefore = func(ddpdoc.ID, ddpdoc.ID) {}
	}

	handle, err := c.Registry.ObserveChanges(c.Desc, c.Ordered, cbs, c.NonMutating)
	if err != nil {
		return err
	}
	sub.OnStop(func() { handle.Stop() })
	sub.Ready()
	return nil
}
