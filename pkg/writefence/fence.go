/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package writefence implements the write fence of spec.md §3/§4.2: a
// barrier that blocks a method's ack until every observer cycle caused
// by the method's writes has fanned out its resulting deltas.
package writefence

import (
	"context"
	"sync"

	"github.com/voedger/reactord/pkg/ddperr"
	"github.com/voedger/reactord/pkg/goutils/logger"
)

// Write is the one-shot commit capability returned by BeginWrite.
type Write struct {
	mu        sync.Mutex
	committed bool
	fence     *Fence
}

// Committed marks this write committed. Calling it twice returns
// ddperr.ErrAlreadyCommitted; the fence's outstanding count is
// decremented exactly once regardless.
func (w *Write) Committed() error {
	w.mu.Lock()
	if w.committed {
		w.mu.Unlock()
		return ddperr.ErrAlreadyCommitted
	}
	w.committed = true
	w.mu.Unlock()
	if w.fence != nil {
		w.fence.commit()
	}
	return nil
}

// Fence is the barrier itself. The zero value is not usable;
// construct with New.
type Fence struct {
	mu                sync.Mutex
	armed             bool
	fired             bool
	retired           bool
	outstanding       int
	beforeFireStarted bool
	beforeFire        []func()
	onAllCommitted    []func()
}

func New() *Fence {
	return &Fence{}
}

// BeginWrite increments the outstanding-writes counter and returns a
// one-shot commit capability. Calling BeginWrite after Fire has run
// is a programming error (panics); after Retire it silently returns
// a shim detached from the fence, whose Committed leaves the fence
// untouched, per spec.md §4.2.
func (f *Fence) BeginWrite() *Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retired {
		return &Write{}
	}
	if f.fired {
		panic("writefence: BeginWrite after Fire")
	}
	f.outstanding++
	return &Write{fence: f}
}

// BeforeFire registers a callback run once, right before the fence's
// completion callbacks, with the outstanding counter held at +1 so the
// callback may itself BeginWrite without causing a spurious fire.
func (f *Fence) BeforeFire(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeFire = append(f.beforeFire, cb)
}

// OnAllCommitted registers cb to run once every write on this fence
// has committed and the before-fire callbacks have run. If the fence
// has already fired, cb runs immediately.
func (f *Fence) OnAllCommitted(cb func()) {
	f.mu.Lock()
	if f.fired {
		f.mu.Unlock()
		safeCall(cb)
		return
	}
	f.onAllCommitted = append(f.onAllCommitted, cb)
	f.mu.Unlock()
}

// Arm marks the fence armed; firing happens immediately if outstanding
// is already zero. Arming a fence currently installed as "the current
// fence" of ctx is illegal per spec.md §4.2; callers pass the context
// they captured a potential current-fence from.
func (f *Fence) Arm(ctx context.Context) {
	if Current(ctx) == f {
		panic("writefence: Arm is illegal on the current fence")
	}
	f.mu.Lock()
	f.armed = true
	f.checkFireLocked()
	f.mu.Unlock()
}

// Retire converts subsequent BeginWrite calls into no-ops. Legal only
// after Fire has run.
func (f *Fence) Retire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fired {
		panic("writefence: Retire before Fire")
	}
	f.retired = true
}

// checkFireLocked must be called with f.mu held; it returns with f.mu
// still held. It implements the before-fire-shim / fire / completion
// sequence of spec.md §4.2.
func (f *Fence) checkFireLocked() {
	if !f.armed || f.fired || f.outstanding != 0 {
		return
	}
	if !f.beforeFireStarted {
		f.beforeFireStarted = true
		f.outstanding++ // +1 shim so before-fire callbacks can BeginWrite
		cbs := f.beforeFire
		f.mu.Unlock()
		for _, cb := range cbs {
			safeCall(cb)
		}
		f.mu.Lock()
		f.outstanding--
		f.checkFireLocked()
		return
	}
	f.fired = true
	cbs := f.onAllCommitted
	f.mu.Unlock()
	for _, cb := range cbs {
		safeCall(cb)
	}
	f.mu.Lock()
}

func (f *Fence) commit() {
	f.mu.Lock()
	f.outstanding--
	f.checkFireLocked()
	f.mu.Unlock()
}

func safeCall(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("writefence: hook callback panic:", r)
		}
	}()
	cb()
}

// --- process-wide "current fence" scope (spec.md §9 design note) ---
//
// Rather than a package-level mutable slot, the current fence is an
// explicit context.Context value set exactly around a method handler's
// synchronous execution. Code that needs it past a suspension point
// must capture it locally first; it is illegal to rely on ctx.Value
// after the handler has returned.

type currentFenceKey struct{}

// WithCurrent returns a context carrying fence as the current fence.
func WithCurrent(ctx context.Context, fence *Fence) context.Context {
	return context.WithValue(ctx, currentFenceKey{}, fence)
}

// Current returns the fence installed by WithCurrent, or nil.
func Current(ctx context.Context) *Fence {
	f, _ := ctx.Value(currentFenceKey{}).(*Fence)
	return f
}
