/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package multiplex implements the observe multiplexer of spec.md
// §4.5: the dedup point between one polling driver and N subscriber
// handles. All cache mutation and fan-out happens on the
// multiplexer's own taskqueue.Queue, so callbacks from the driver are
// strictly serialized and handles see a consistent view.
package multiplex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/occache"
	"github.com/voedger/reactord/pkg/taskqueue"
)

var (
	ErrAlreadyReady         = errors.New("multiplex: ready() called twice")
	ErrQueryErrorAfterReady = errors.New("multiplex: queryError called after ready: programming error")
	ErrStopped              = errors.New("multiplex: stopped")
)

// Callbacks is the per-handle callback set named in spec.md §3. Any of
// them may be nil if the subscriber doesn't care about that event.
type Callbacks struct {
	InitialAdds func(docs []ddpdoc.Document)
	Added       func(id ddpdoc.ID, fields ddpdoc.Fields)
	AddedBefore func(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID)
	Changed     func(id ddpdoc.ID, fields ddpdoc.Fields)
	MovedBefore func(id ddpdoc.ID, before ddpdoc.ID)
	Removed     func(id ddpdoc.ID)
}

type handleEntry struct {
	id          uint64
	cbs         Callbacks
	nonMutating bool
	readyErrCh  chan error
}

// Handle is the capability returned to one subscriber of a multiplexer.
type Handle struct {
	id  uint64
	mux *Multiplexer
}

func (h *Handle) ID() uint64 { return h.id }

// Stop synchronously detaches this handle. No further events will be
// delivered to it.
func (h *Handle) Stop() { h.mux.removeHandle(h.id) }

// cache is the subset of occache.Unordered/occache.Ordered the
// multiplexer drives generically.
type cache interface {
	Added(id ddpdoc.ID, fields ddpdoc.Fields)
	AddedBefore(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID)
	Changed(id ddpdoc.ID, fields ddpdoc.Fields)
	MovedBefore(id ddpdoc.ID, before ddpdoc.ID)
	Removed(id ddpdoc.ID)
}

type orderedCache interface {
	cache
	Snapshot() []ddpdoc.Document
}

type unorderedCache struct{ *occache.Unordered }

func (u unorderedCache) Snapshot() []ddpdoc.Document {
	m := u.Unordered.Snapshot()
	out := make([]ddpdoc.Document, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

// Multiplexer is the fan-out point described by spec.md §4.5.
type Multiplexer struct {
	Ordered bool

	queue *taskqueue.Queue
	cache orderedCache

	mu             sync.Mutex
	handles        map[uint64]*handleEntry
	nextID         uint64
	ready          bool
	awaitingReady  []*handleEntry
	pendingInitial int
	stopped        bool
	queryErr       error
	onStopCalled   bool

	OnStop func()
}

// New creates a multiplexer. onStop is invoked exactly once, the
// first time the handle set becomes empty with no pending initial-add
// tasks outstanding (spec.md §3 invariant iv).
func New(ordered bool, onStop func()) *Multiplexer {
	var c orderedCache
	if ordered {
		c = occache.NewOrdered()
	} else {
		c = unorderedCache{occache.NewUnordered()}
	}
	return &Multiplexer{
		Ordered: ordered,
		queue:   taskqueue.New(),
		cache:   c,
		handles: map[uint64]*handleEntry{},
		OnStop:  onStop,
	}
}

// AddHandleAndSendInitialAdds registers a new handle and resolves once
// its InitialAdds callback has been delivered with the current cache
// contents (blocking until readiness if the multiplexer isn't ready yet).
func (m *Multiplexer) AddHandleAndSendInitialAdds(cbs Callbacks, nonMutatingCallbacks bool) (*Handle, error) {
	entry := &handleEntry{cbs: cbs, nonMutating: nonMutatingCallbacks, readyErrCh: make(chan error, 1)}
	m.queue.QueueTask(func() {
		if m.stopped {
			entry.readyErrCh <- orDefault(m.queryErr, ErrStopped)
			return
		}
		m.nextID++
		entry.id = m.nextID
		m.mu.Lock()
		m.handles[entry.id] = entry
		ready := m.ready
		if !ready {
			m.pendingInitial++
			m.awaitingReady = append(m.awaitingReady, entry)
		}
		m.mu.Unlock()
		if ready {
			m.deliverInitialAdds(entry, m.cache.Snapshot())
			entry.readyErrCh <- nil
		}
	})
	if err := <-entry.readyErrCh; err != nil {
		return nil, err
	}
	return &Handle{id: entry.id, mux: m}, nil
}

func (m *Multiplexer) deliverInitialAdds(entry *handleEntry, snapshot []ddpdoc.Document) {
	if entry.cbs.InitialAdds == nil {
		return
	}
	if entry.nonMutating {
		entry.cbs.InitialAdds(snapshot)
	} else {
		entry.cbs.InitialAdds(ddpdoc.CloneDocuments(snapshot))
	}
}

// Ready marks the multiplexer ready, delivering InitialAdds to every
// handle added before readiness. Calling Ready twice is an error.
func (m *Multiplexer) Ready() error {
	_, err := m.queue.RunTask(func() (any, error) {
		return nil, m.doReady()
	})
	return err
}

func (m *Multiplexer) doReady() error {
	if m.ready {
		return ErrAlreadyReady
	}
	m.ready = true
	snapshot := m.cache.Snapshot()
	m.mu.Lock()
	awaiting := m.awaitingReady
	m.awaitingReady = nil
	m.mu.Unlock()
	for _, e := range awaiting {
		m.deliverInitialAdds(e, snapshot)
		e.readyErrCh <- nil
		m.mu.Lock()
		m.pendingInitial--
		shouldStop := len(m.handles) == 0 && m.pendingInitial == 0 && !m.onStopCalled
		if shouldStop {
			m.onStopCalled = true
		}
		m.mu.Unlock()
		if shouldStop {
			m.callOnStop()
		}
	}
	return nil
}

// QueryError stops the multiplexer and rejects every pending
// AddHandleAndSendInitialAdds call with err. Illegal once the
// multiplexer is ready (an oplog/poll error reaching here post-ready
// indicates a programming error, per spec.md §9's open question).
func (m *Multiplexer) QueryError(err error) error {
	_, e := m.queue.RunTask(func() (any, error) {
		return nil, m.doQueryError(err)
	})
	return e
}

func (m *Multiplexer) doQueryError(err error) error {
	if m.ready {
		return ErrQueryErrorAfterReady
	}
	m.stopped = true
	m.queryErr = err
	m.mu.Lock()
	awaiting := m.awaitingReady
	m.awaitingReady = nil
	m.handles = map[uint64]*handleEntry{}
	m.pendingInitial = 0
	shouldStop := !m.onStopCalled
	if shouldStop {
		m.onStopCalled = true
	}
	m.mu.Unlock()
	for _, e2 := range awaiting {
		e2.readyErrCh <- err
	}
	if shouldStop {
		m.callOnStop()
	}
	return nil
}

func (m *Multiplexer) removeHandle(id uint64) {
	m.mu.Lock()
	if _, ok := m.handles[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.handles, id)
	shouldStop := len(m.handles) == 0 && m.pendingInitial == 0 && !m.onStopCalled
	if shouldStop {
		m.onStopCalled = true
	}
	m.mu.Unlock()
	if shouldStop {
		m.callOnStop()
	}
}

func (m *Multiplexer) callOnStop() {
	if m.OnStop != nil {
		m.OnStop()
	}
}

// NumHandles returns the current number of live handles (test/metrics helper).
func (m *Multiplexer) NumHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

func (m *Multiplexer) snapshotHandles() []*handleEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*handleEntry, 0, len(m.handles))
	for _, e := range m.handles {
		out = append(out, e)
	}
	return out
}

// --- driver-facing event ops, queued and serialized ---

func (m *Multiplexer) Added(id ddpdoc.ID, fields ddpdoc.Fields) error {
	_, err := m.queue.RunTask(func() (any, error) { m.doAdded(id, fields); return nil, nil })
	return err
}

func (m *Multiplexer) AddedBefore(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID) error {
	_, err := m.queue.RunTask(func() (any, error) { m.doAddedBefore(id, fields, before); return nil, nil })
	return err
}

func (m *Multiplexer) Changed(id ddpdoc.ID, fields ddpdoc.Fields) error {
	_, err := m.queue.RunTask(func() (any, error) { return nil, m.doChanged(id, fields) })
	return err
}

func (m *Multiplexer) MovedBefore(id ddpdoc.ID, before ddpdoc.ID) error {
	_, err := m.queue.RunTask(func() (any, error) { return nil, m.doMovedBefore(id, before) })
	return err
}

func (m *Multiplexer) Removed(id ddpdoc.ID) error {
	_, err := m.queue.RunTask(func() (any, error) { return nil, m.doRemoved(id) })
	return err
}

// OnFlush enqueues cb, guaranteeing every event already enqueued has
// been delivered to all handles by the time cb runs.
func (m *Multiplexer) OnFlush(cb func()) {
	m.queue.QueueTask(cb)
}

// --- core cache+fanout logic, NOT queue-wrapped: only safe to call
// while already running inside a task on m.queue (the public methods
// above, or a callback passed to RunExclusive). ---

func (m *Multiplexer) doAdded(id ddpdoc.ID, fields ddpdoc.Fields) {
	m.cache.Added(id, fields)
	for _, e := range m.snapshotHandles() {
		if e.cbs.Added != nil {
			e.cbs.Added(id, cloneIfMutating(fields, e.nonMutating))
		}
	}
}

func (m *Multiplexer) doAddedBefore(id ddpdoc.ID, fields ddpdoc.Fields, before ddpdoc.ID) {
	m.cache.AddedBefore(id, fields, before)
	for _, e := range m.snapshotHandles() {
		if e.cbs.AddedBefore != nil {
			e.cbs.AddedBefore(id, cloneIfMutating(fields, e.nonMutating), before)
		}
	}
}

func (m *Multiplexer) doChanged(id ddpdoc.ID, fields ddpdoc.Fields) error {
	if !m.ready {
		return fmt.Errorf("multiplex: changed received before ready: driver bug")
	}
	m.cache.Changed(id, fields)
	for _, e := range m.snapshotHandles() {
		if e.cbs.Changed != nil {
			e.cbs.Changed(id, cloneIfMutating(fields, e.nonMutating))
		}
	}
	return nil
}

func (m *Multiplexer) doMovedBefore(id ddpdoc.ID, before ddpdoc.ID) error {
	if !m.ready {
		return fmt.Errorf("multiplex: movedBefore received before ready: driver bug")
	}
	m.cache.MovedBefore(id, before)
	for _, e := range m.snapshotHandles() {
		if e.cbs.MovedBefore != nil {
			e.cbs.MovedBefore(id, before)
		}
	}
	return nil
}

func (m *Multiplexer) doRemoved(id ddpdoc.ID) error {
	if !m.ready {
		return fmt.Errorf("multiplex: removed received before ready: driver bug")
	}
	m.cache.Removed(id)
	for _, e := range m.snapshotHandles() {
		if e.cbs.Removed != nil {
			e.cbs.Removed(id)
		}
	}
	return nil
}

// DriverOps is the non-reentrant API handed to the function passed to
// RunExclusive: it implements diff.Sink plus Ready/QueryError, all
// operating directly since the caller already holds the queue's
// single execution slot.
type DriverOps struct {
	m *Multiplexer
}

func (o DriverOps) Added(id ddpdoc.ID, fields ddpdoc.Fields)                   { o.m.doAdded(id, fields) }
func (o DriverOps) AddedBefore(id ddpdoc.ID, fields ddpdoc.Fields, b ddpdoc.ID) { o.m.doAddedBefore(id, fields, b) }
func (o DriverOps) Changed(id ddpdoc.ID, fields ddpdoc.Fields) {
	if err := o.m.doChanged(id, fields); err != nil {
		panic(err)
	}
}
func (o DriverOps) MovedBefore(id ddpdoc.ID, before ddpdoc.ID) {
	if err := o.m.doMovedBefore(id, before); err != nil {
		panic(err)
	}
}
func (o DriverOps) Removed(id ddpdoc.ID) {
	if err := o.m.doRemoved(id); err != nil {
		panic(err)
	}
}
func (o DriverOps) Ready() error            { return o.m.doReady() }
func (o DriverOps) QueryError(err error) error { return o.m.doQueryError(err) }

// RunExclusive runs f as a single task on the multiplexer's queue,
// serialized with every other mutation and fan-out. The polling
// driver uses this to run an entire poll cycle (query, diff, emit,
// maybe ready()) atomically, per spec.md §4.6.
func (m *Multiplexer) RunExclusive(f func(ops DriverOps) error) error {
	_, err := m.queue.RunTask(func() (any, error) {
		return nil, f(DriverOps{m: m})
	})
	return err
}

// QueueExclusive enqueues f fire-and-forget on the multiplexer's
// queue; it runs with the same serialization guarantee as
// RunExclusive but never blocks the caller. Used by the polling
// driver so that scheduling a poll cycle from an invalidation
// callback or timer tick can't stall the crossbar or the timer loop.
func (m *Multiplexer) QueueExclusive(f func(ops DriverOps)) {
	m.queue.QueueTask(func() { f(DriverOps{m: m}) })
}

// Drain blocks until every task enqueued on the multiplexer so far
// (fan-outs, poll cycles, onFlush callbacks) has run. Test helper.
func (m *Multiplexer) Drain() {
	m.queue.Drain()
}

func cloneIfMutating(f ddpdoc.Fields, nonMutating bool) ddpdoc.Fields {
	if nonMutating {
		return f
	}
	return ddpdoc.CloneFields(f)
}

func orDefault(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
