/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package ddpmetrics holds the process-wide counters a reactord
// deployment exposes: active sessions/subscriptions, poll rate, and
// write-fence latency. Grounded on the teacher's pkg/metrics shape:
// named atomics registered once, read via a snapshot.
package ddpmetrics

import "sync/atomic"

type Metrics struct {
	sessions     atomic.Int64
	subscriptions atomic.Int64
	polls        atomic.Int64
	fenceFires   atomic.Int64
	fenceNanos   atomic.Int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) SessionOpened()      { m.sessions.Add(1) }
func (m *Metrics) SessionClosed()      { m.sessions.Add(-1) }
func (m *Metrics) SubscriptionStarted() { m.subscriptions.Add(1) }
func (m *Metrics) SubscriptionStopped() { m.subscriptions.Add(-1) }
func (m *Metrics) PollExecuted()        { m.polls.Add(1) }

// FenceObserved records one write fence's fire-to-retire latency in nanoseconds.
func (m *Metrics) FenceObserved(nanos int64) {
	m.fenceFires.Add(1)
	m.fenceNanos.Add(nanos)
}

type Snapshot struct {
	Sessions           int64
	Subscriptions      int64
	Polls              int64
	FenceFires         int64
	FenceAvgNanos      int64
}

func (m *Metrics) Snapshot() Snapshot {
	fires := m.fenceFires.Load()
	var avg int64
	if fires > 0 {
		avg = m.fenceNanos.Load() / fires
	}
	return Snapshot{
		Sessions:      m.sessions.Load(),
		Subscriptions: m.subscriptions.Load(),
		Polls:         m.polls.Load(),
		FenceFires:    fires,
		FenceAvgNanos: avg,
	}
}
