/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package ddpsession

import (
	"sync"
	"time"

	"github.com/voedger/reactord/pkg/goutils/timeu"
)

// heartbeat implements spec.md §4.10's liveness machine: a ping is
// sent after interval of client silence, and the session closes if no
// traffic (including the pong that ping invites) arrives within the
// following timeout.
type heartbeat struct {
	session  *Session
	clock    timeu.ITime
	interval time.Duration
	timeout  time.Duration

	resetCh chan struct{}
	stopCh  chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newHeartbeat(session *Session, clock timeu.ITime, interval, timeout time.Duration) *heartbeat {
	return &heartbeat{
		session:  session,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		resetCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

func (h *heartbeat) start() {
	go h.loop()
}

// noteLiveness records that traffic was just seen; any inbound
// message counts, per spec.md §4.10.
func (h *heartbeat) noteLiveness() {
	select {
	case h.resetCh <- struct{}{}:
	default:
	}
}

func (h *heartbeat) stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	close(h.stopCh)
}

func (h *heartbeat) loop() {
	for {
		select {
		case <-h.stopCh:
			return
		case <-h.resetCh:
			continue
		case <-h.clock.NewTimerChan(h.interval):
		}

		h.session.writeFrame(outPingPong{Msg: "ping"})

		select {
		case <-h.stopCh:
			return
		case <-h.resetCh:
			continue
		case <-h.clock.NewTimerChan(h.timeout):
			h.session.Close()
			return
		}
	}
}
