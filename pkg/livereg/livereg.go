/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package livereg implements the live connection / observe registry
// of spec.md §4.7: the dedup point that maps a canonicalized cursor
// description onto a single shared multiplexer and its driver,
// regardless of how many subscriptions observe the same query.
package livereg

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/voedger/reactord/pkg/crossbar"
	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/goutils/timeu"
	"github.com/voedger/reactord/pkg/multiplex"
	"github.com/voedger/reactord/pkg/oplog"
	"github.com/voedger/reactord/pkg/polldriver"
)

// CursorDescription identifies one observed query. Selector and
// Options are the Mongo-ish shapes pkg/selector and pkg/docstore
// exchange; livereg only needs them to be JSON-stable for
// canonicalization and to hand to Store.Query.
type CursorDescription struct {
	Collection string
	Selector   map[string]any
	Options    map[string]any
}

// Store is the document-store query surface a driver needs. It is
// the minimal slice of spec.md §6's "find(collection, selector,
// options)" collaborator interface that pkg/livereg/pkg/polldriver
// depend on; pkg/docstore implements it.
type Store interface {
	Query(ctx context.Context, desc CursorDescription) ([]ddpdoc.Document, error)
}

type entry struct {
	mux    *multiplex.Multiplexer
	driver *polldriver.Driver
}

// Registry is the process-wide (or per-VVM, in the teacher's
// terminology) set of live multiplexers.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	store           Store
	bar             *crossbar.Bar
	clock           timeu.ITime
	pollingThrottle time.Duration
	pollingInterval time.Duration
}

func New(store Store, bar *crossbar.Bar, clock timeu.ITime, pollingThrottle, pollingInterval time.Duration) *Registry {
	return &Registry{
		entries:         map[string]*entry{},
		store:           store,
		bar:             bar,
		clock:           clock,
		pollingThrottle: pollingThrottle,
		pollingInterval: pollingInterval,
	}
}

// ObserveChanges implements spec.md §4.7: find-or-create the
// multiplexer for desc, register a new handle against it, and return
// once its initial adds have been delivered. The caller owns the
// returned handle and must call Stop on it.
func (r *Registry) ObserveChanges(desc CursorDescription, ordered bool, cbs multiplex.Callbacks, nonMutatingCallbacks bool) (*multiplex.Handle, error) {
	key := canonicalize(desc, ordered)

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = r.newEntry(key, desc, ordered)
		r.entries[key] = e
	}
	r.mu.Unlock()

	return e.mux.AddHandleAndSendInitialAdds(cbs, nonMutatingCallbacks)
}

// newEntry must be called with r.mu held. It builds the multiplexer
// and its driver and starts the driver; the multiplexer's onStop
// removes the entry from the registry, per spec.md §4.7 step 2.
func (r *Registry) newEntry(key string, desc CursorDescription, ordered bool) *entry {
	mux := multiplex.New(ordered, nil)
	d := r.newDriver(mux, desc, ordered)
	mux.OnStop = func() {
		r.mu.Lock()
		delete(r.entries, key)
		r.mu.Unlock()
		d.Stop()
	}
	d.Start()
	return &entry{mux: mux, driver: d}
}

// newDriver picks the observe driver for desc, per spec.md §4.7 step
// 3. No oplog tailer ships in this distribution (pkg/oplog.Supports
// is always false), so this always returns a polling driver; the
// branch is kept so a future oplog tailer only needs to satisfy
// oplog.Supports and a driver constructor here.
func (r *Registry) newDriver(mux *multiplex.Multiplexer, desc CursorDescription, ordered bool) *polldriver.Driver {
	query := func(ctx context.Context) ([]ddpdoc.Document, error) {
		return r.store.Query(ctx, desc)
	}
	trigger := crossbar.Trigger{"collection": desc.Collection}
	if oplog.Supports(desc.Collection, ordered) {
		// No oplog-backed driver is wired; fall through to polling.
		_ = trigger
	}
	return polldriver.New(mux, ordered, query, r.bar, trigger, r.clock, r.pollingThrottle, r.pollingInterval)
}

// canonicalize builds a stable key from desc and ordered.
// encoding/json.Marshal sorts map[string]any keys alphabetically, so
// two descriptions with the same content in different field
// insertion orders collapse to the same key.
func canonicalize(desc CursorDescription, ordered bool) string {
	shape := struct {
		Ordered    bool
		Collection string
		Selector   map[string]any
		Options    map[string]any
	}{ordered, desc.Collection, desc.Selector, desc.Options}
	b, err := json.Marshal(shape)
	if err != nil {
		panic("livereg: cursor description is not JSON-marshalable: " + err.Error())
	}
	return string(b)
}

// NumLiveMultiplexers reports the current registry size (metrics/test helper).
func (r *Registry) NumLiveMultiplexers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
