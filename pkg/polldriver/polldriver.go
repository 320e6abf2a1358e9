/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package polldriver implements the polling observe driver of spec.md
// §4.6: the default way an observe multiplexer is kept up to date when
// no oplog tailer is available (this distribution has none, see
// pkg/oplog). Re-runs the underlying query on invalidation and on a
// forced interval, diffs against the previous results, and feeds the
// delta to its multiplexer.
package polldriver

import (
	"context"
	"sync"
	"time"

	"github.com/voedger/reactord/pkg/crossbar"
	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/ddperr"
	"github.com/voedger/reactord/pkg/diff"
	"github.com/voedger/reactord/pkg/goutils/logger"
	"github.com/voedger/reactord/pkg/goutils/timeu"
	"github.com/voedger/reactord/pkg/multiplex"
	"github.com/voedger/reactord/pkg/writefence"
)

// Query executes the cursor's underlying query against the store.
// Errors satisfying ddperr.IsNumericCode are treated as permanent on
// the first poll; every other error is treated as transient.
type Query func(ctx context.Context) ([]ddpdoc.Document, error)

// Driver is one polling observe driver, owning exactly one multiplexer.
type Driver struct {
	mux     *multiplex.Multiplexer
	ordered bool
	query   Query
	bar     *crossbar.Bar
	trigger crossbar.Trigger
	clock   timeu.ITime

	pollingThrottle time.Duration
	pollingInterval time.Duration

	mu                          sync.Mutex
	pendingWrites               []*writefence.Write
	pollsScheduledButNotStarted int
	stopped                     bool
	firstPollDone               bool
	previousOrdered             []ddpdoc.Document
	previousUnordered           map[ddpdoc.ID]ddpdoc.Document

	throttleMu     sync.Mutex
	lastFireAt     time.Time
	trailerPending bool

	stopListen crossbar.StopHandle
	stopTicker func()
	stopSignal chan struct{}
}

// New builds a driver bound to mux. trigger is the crossbar pattern
// that identifies invalidations relevant to this cursor (typically
// {"collection": name} plus an optional "id" narrowing).
func New(mux *multiplex.Multiplexer, ordered bool, query Query, bar *crossbar.Bar, trigger crossbar.Trigger, clock timeu.ITime, pollingThrottle, pollingInterval time.Duration) *Driver {
	return &Driver{
		mux:               mux,
		ordered:           ordered,
		query:             query,
		bar:               bar,
		trigger:           trigger,
		clock:             clock,
		pollingThrottle:   pollingThrottle,
		pollingInterval:   pollingInterval,
		previousOrdered:   []ddpdoc.Document{},
		previousUnordered: map[ddpdoc.ID]ddpdoc.Document{},
		stopSignal:        make(chan struct{}),
	}
}

// Start registers the crossbar listener and periodic timer, and
// schedules the first poll so the multiplexer can reach readiness.
func (d *Driver) Start() {
	d.stopListen = d.bar.Listen(d.trigger, d.onInvalidate)
	ch, stop := d.clock.NewTicker(d.pollingInterval)
	d.stopTicker = stop
	go d.timerLoop(ch)
	d.schedule()
}

// Stop cancels the timer and crossbar listener, then commits every
// captured pending write immediately so no fence blocks forever, per
// spec.md §4.6/§5.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	writes := d.pendingWrites
	d.pendingWrites = nil
	d.mu.Unlock()

	close(d.stopSignal)
	if d.stopListen != nil {
		d.stopListen()
	}
	if d.stopTicker != nil {
		d.stopTicker()
	}
	for _, w := range writes {
		_ = w.Committed()
	}
}

func (d *Driver) timerLoop(ch <-chan time.Time) {
	for {
		select {
		case <-d.stopSignal:
			return
		case <-ch:
			d.schedule()
		}
	}
}

// onInvalidate is the crossbar callback. If the notification carries
// the write fence active at the triggering write, its beginWrite
// token is captured so the write fence won't fire until this driver's
// next poll has fanned out the resulting delta.
func (d *Driver) onInvalidate(n crossbar.Notification) {
	if fv, ok := n["fence"]; ok {
		if fence, ok := fv.(*writefence.Fence); ok && fence != nil {
			w := fence.BeginWrite()
			d.mu.Lock()
			d.pendingWrites = append(d.pendingWrites, w)
			d.mu.Unlock()
		}
	}
	d.mu.Lock()
	scheduled := d.pollsScheduledButNotStarted
	d.mu.Unlock()
	if scheduled == 0 {
		d.schedule()
	}
}

// schedule implements the leading+trailing throttle of spec.md §4.6: a
// call either fires immediately (last fire was >= pollingThrottle ago)
// or arranges a single trailing fire at the end of the window.
func (d *Driver) schedule() {
	d.throttleMu.Lock()
	now := d.clock.Now()
	if d.lastFireAt.IsZero() || now.Sub(d.lastFireAt) >= d.pollingThrottle {
		d.lastFireAt = now
		d.throttleMu.Unlock()
		d.queuePoll()
		return
	}
	if d.trailerPending {
		d.throttleMu.Unlock()
		return
	}
	d.trailerPending = true
	remaining := d.pollingThrottle - now.Sub(d.lastFireAt)
	d.throttleMu.Unlock()

	timer := d.clock.NewTimerChan(remaining)
	go func() {
		<-timer
		d.throttleMu.Lock()
		d.trailerPending = false
		d.lastFireAt = d.clock.Now()
		d.throttleMu.Unlock()
		d.queuePoll()
	}()
}

// queuePoll marks a poll as scheduled-but-not-started and runs it on
// the multiplexer's queue, asynchronously so the caller (an
// invalidation callback or timer tick) never blocks on a poll cycle.
func (d *Driver) queuePoll() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pollsScheduledButNotStarted++
	d.mu.Unlock()

	d.mux.QueueExclusive(func(ops multiplex.DriverOps) {
		if err := d.pollCycle(ops); err != nil {
			logger.Error("polldriver: poll cycle failed:", err)
		}
	})
}

// pollCycle is the seven-step poll cycle of spec.md §4.6, run as one
// multiplexer QueueExclusive task so the query/diff/emit sequence is
// strictly serialized with every other mutation of the multiplexer.
func (d *Driver) pollCycle(ops multiplex.DriverOps) error {
	d.mu.Lock()
	d.pollsScheduledButNotStarted--
	stopped := d.stopped
	writesForCycle := d.pendingWrites
	d.pendingWrites = nil
	d.mu.Unlock()
	if stopped {
		return nil
	}

	results, err := d.query(context.Background())

	d.mu.Lock()
	abandoned := d.stopped
	d.mu.Unlock()
	if abandoned {
		// Stop() ran while the query was in flight; its own commit pass
		// only saw pendingWrites, so writesForCycle are committed here.
		// The result itself is dropped, per spec.md §5's "abandons any
		// future poll results".
		for _, w := range writesForCycle {
			_ = w.Committed()
		}
		return nil
	}

	if err != nil {
		d.mu.Lock()
		firstPoll := !d.firstPollDone
		d.mu.Unlock()
		if firstPoll && ddperr.IsNumericCode(err) {
			d.mu.Lock()
			d.firstPollDone = true
			d.mu.Unlock()
			return ops.QueryError(err)
		}
		d.mu.Lock()
		d.pendingWrites = append(writesForCycle, d.pendingWrites...)
		d.mu.Unlock()
		return nil
	}

	if d.ordered {
		diff.Ordered(d.previousOrdered, results, ops)
		d.previousOrdered = results
	} else {
		newUnordered := toMap(results)
		diff.Unordered(d.previousUnordered, newUnordered, ops)
		d.previousUnordered = newUnordered
	}

	d.mu.Lock()
	firstPoll := !d.firstPollDone
	d.firstPollDone = true
	d.mu.Unlock()
	if firstPoll {
		if err := ops.Ready(); err != nil {
			return err
		}
	}

	d.mux.OnFlush(func() {
		for _, w := range writesForCycle {
			_ = w.Committed()
		}
	})
	return nil
}

func toMap(docs []ddpdoc.Document) map[ddpdoc.ID]ddpdoc.Document {
	out := make(map[ddpdoc.ID]ddpdoc.Document, len(docs))
	for _, d := range docs {
		out[ddpdoc.GetID(d)] = d
	}
	return out
}
