/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package polldriver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/crossbar"
	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/ddperr"
	"github.com/voedger/reactord/pkg/goutils/testingu"
	"github.com/voedger/reactord/pkg/multiplex"
	"github.com/voedger/reactord/pkg/writefence"
)

func newTestDriver(t *testing.T, query Query) (*Driver, *multiplex.Multiplexer, *crossbar.Bar, testingu.IMockTime) {
	t.Helper()
	clock := testingu.NewMockTime()
	bar := crossbar.New()
	mux := multiplex.New(false, nil)
	trigger := crossbar.Trigger{"collection": "widgets"}
	d := New(mux, false, query, bar, trigger, clock, 50*time.Millisecond, 10*time.Second)
	return d, mux, bar, clock
}

func TestFirstPollReachesReady(t *testing.T) {
	calls := make(chan struct{}, 10)
	query := func(ctx context.Context) ([]ddpdoc.Document, error) {
		calls <- struct{}{}
		return []ddpdoc.Document{{"_id": "a", "q": 1}}, nil
	}
	d, mux, _, _ := newTestDriver(t, query)
	d.Start()
	<-calls
	mux.Drain()

	var got []ddpdoc.Document
	h, err := mux.AddHandleAndSendInitialAdds(multiplex.Callbacks{
		InitialAdds: func(docs []ddpdoc.Document) { got = docs },
	}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	h.Stop()
	d.Stop()
}

func TestPermanentErrorOnFirstPollStopsMultiplexer(t *testing.T) {
	calls := make(chan struct{}, 10)
	query := func(ctx context.Context) ([]ddpdoc.Document, error) {
		calls <- struct{}{}
		return nil, ddperr.New(400, "bad selector")
	}
	d, mux, _, _ := newTestDriver(t, query)
	d.Start()
	<-calls
	mux.Drain()

	_, err := mux.AddHandleAndSendInitialAdds(multiplex.Callbacks{}, false)
	require.Error(t, err)
	d.Stop()
}

func TestTransientErrorRetainsPreviousResultsAndRetries(t *testing.T) {
	var callCount int32
	calls := make(chan struct{}, 10)
	query := func(ctx context.Context) ([]ddpdoc.Document, error) {
		n := atomic.AddInt32(&callCount, 1)
		calls <- struct{}{}
		if n == 1 {
			return nil, errNotCoded{}
		}
		return []ddpdoc.Document{{"_id": "a", "q": 1}}, nil
	}
	d, mux, bar, clock := newTestDriver(t, query)
	d.Start()
	<-calls
	mux.Drain()

	// Multiplexer must still not be ready; a blocked AddHandle call
	// proves it.
	done := make(chan struct{})
	go func() {
		_, _ = mux.AddHandleAndSendInitialAdds(multiplex.Callbacks{}, false)
		close(done)
	}()

	clock.Add(60 * time.Millisecond) // past the throttle window
	bar.Fire(crossbar.Notification{"collection": "widgets"})
	<-calls
	mux.Drain()
	<-done
	d.Stop()
}

type errNotCoded struct{}

func (errNotCoded) Error() string { return "transient store hiccup" }

func TestInvalidationCapturesFenceAndCommitsOnFlush(t *testing.T) {
	calls := make(chan struct{}, 10)
	query := func(ctx context.Context) ([]ddpdoc.Document, error) {
		calls <- struct{}{}
		return []ddpdoc.Document{{"_id": "a", "q": 1}}, nil
	}
	d, mux, bar, clock := newTestDriver(t, query)
	d.Start()
	<-calls
	mux.Drain()

	fence := writefence.New()
	var fired int32
	fence.OnAllCommitted(func() { atomic.AddInt32(&fired, 1) })

	clock.Add(60 * time.Millisecond) // past the throttle window
	bar.Fire(crossbar.Notification{"collection": "widgets", "fence": fence})
	<-calls
	mux.Drain()

	fence.Arm(context.Background())
	require.Equal(t, int32(1), fired)
	d.Stop()
}

func TestStopCommitsPendingWritesEvenWithoutAPoll(t *testing.T) {
	blockQuery := make(chan struct{})
	calls := make(chan struct{}, 10)
	query := func(ctx context.Context) ([]ddpdoc.Document, error) {
		calls <- struct{}{}
		<-blockQuery
		return []ddpdoc.Document{}, nil
	}
	d, _, bar, _ := newTestDriver(t, query)
	d.Start()
	<-calls // first poll is now stuck inside the query call

	fence := writefence.New()
	var fired int32
	fence.OnAllCommitted(func() { atomic.AddInt32(&fired, 1) })
	bar.Fire(crossbar.Notification{"collection": "widgets", "fence": fence})

	d.Stop()
	fence.Arm(context.Background())
	require.Equal(t, int32(1), fired)
	close(blockQuery)
}

func TestThrottleSuppressesBurstsOfInvalidations(t *testing.T) {
	var mu sync.Mutex
	var callTimes []time.Time
	calls := make(chan struct{}, 10)
	query := func(ctx context.Context) ([]ddpdoc.Document, error) {
		mu.Lock()
		callTimes = append(callTimes, time.Now())
		mu.Unlock()
		calls <- struct{}{}
		return []ddpdoc.Document{}, nil
	}
	d, mux, bar, clock := newTestDriver(t, query)
	d.Start()
	<-calls
	mux.Drain()

	// Two invalidations in quick succession, inside the throttle
	// window: the second must not cause a second immediate poll.
	bar.Fire(crossbar.Notification{"collection": "widgets"})
	bar.Fire(crossbar.Notification{"collection": "widgets"})
	// Advance to fire the trailing edge.
	clock.Add(60 * time.Millisecond)
	<-calls
	mux.Drain()

	mu.Lock()
	n := len(callTimes)
	mu.Unlock()
	require.Equal(t, 2, n) // initial poll + one trailing fire, not two
	d.Stop()
}
