/*
 * Copyright (c) 2025-present unTill Software Development Group B.V.
 * @author Denis Gribanov
 */

// Package testingu holds small test doubles shared across reactord's
// package tests, starting with a controllable clock.
package testingu

import (
	"sync"
	"time"

	"github.com/voedger/reactord/pkg/goutils/timeu"
)

// MockTime must be a global var to avoid case when different tests could observe different clocks.
var MockTime = NewMockTime()

type IMockTime interface {
	timeu.ITime

	// Add triggers each timer/ticker whose expiration has passed.
	Add(d time.Duration)

	FireNextTimerImmediately()
}

func NewMockTime() IMockTime {
	return &mockedTime{
		now:     time.Now(),
		timers:  map[*mockTimer]struct{}{},
		tickers: map[*mockTicker]struct{}{},
	}
}

type mockedTime struct {
	sync.RWMutex
	now                      time.Time
	timers                   map[*mockTimer]struct{}
	tickers                  map[*mockTicker]struct{}
	fireNextTimerImmediately bool
}

type mockTimer struct {
	c          chan time.Time
	expiration time.Time
}

type mockTicker struct {
	c      chan time.Time
	period time.Duration
	next   time.Time
	stopped bool
}

func (t *mockedTime) Now() time.Time {
	t.RLock()
	defer t.RUnlock()
	return t.now
}

func (t *mockedTime) NewTimerChan(d time.Duration) <-chan time.Time {
	t.Lock()
	defer t.Unlock()
	mt := &mockTimer{c: make(chan time.Time, 1), expiration: t.now.Add(d)}
	t.timers[mt] = struct{}{}
	if t.fireNextTimerImmediately {
		mt.c <- t.now
		delete(t.timers, mt)
		t.fireNextTimerImmediately = false
	}
	return mt.c
}

func (t *mockedTime) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	t.Lock()
	defer t.Unlock()
	mt := &mockTicker{c: make(chan time.Time, 1), period: d, next: t.now.Add(d)}
	t.tickers[mt] = struct{}{}
	return mt.c, func() {
		t.Lock()
		defer t.Unlock()
		mt.stopped = true
		delete(t.tickers, mt)
	}
}

func (t *mockedTime) FireNextTimerImmediately() {
	t.Lock()
	t.fireNextTimerImmediately = true
	t.Unlock()
}

func (t *mockedTime) Add(d time.Duration) {
	t.Lock()
	defer t.Unlock()
	t.now = t.now.Add(d)
	for timer := range t.timers {
		if !t.now.Before(timer.expiration) {
			timer.c <- t.now
			delete(t.timers, timer)
		}
	}
	for ticker := range t.tickers {
		for !ticker.stopped && !t.now.Before(ticker.next) {
			select {
			case ticker.c <- t.now:
			default:
			}
			ticker.next = ticker.next.Add(ticker.period)
		}
	}
}

func (t *mockedTime) Sleep(d time.Duration) {
	t.Add(d)
}
