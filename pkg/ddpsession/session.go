/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package ddpsession implements the Session actor of spec.md §4.10: a
// cooperative single-task actor that drains one inbound message at a
// time, runs the sub/unsub/method/ping protocol state machine, owns
// the session's merge-box, and drives setUserId's deactivate-rerun-diff
// dance.
package ddpsession

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/ddperr"
	"github.com/voedger/reactord/pkg/ddpmetrics"
	"github.com/voedger/reactord/pkg/goutils/logger"
	"github.com/voedger/reactord/pkg/goutils/timeu"
	"github.com/voedger/reactord/pkg/mergebox"
	"github.com/voedger/reactord/pkg/subscription"
	"github.com/voedger/reactord/pkg/taskqueue"
	"github.com/voedger/reactord/pkg/writefence"
)

// Conn is the session's view of its transport: a single outbound
// frame sink and a close capability, matching spec.md §6's "connection
// object" collaborator interface.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Config constructs a Session. ProtocolVersion must already be the
// negotiated version (Negotiate); the connect handshake that produces
// it is a transport/server concern, not the session's.
type Config struct {
	ID                string
	Conn              Conn
	Catalog           Catalog
	Codec             FieldCodec // nil => identity (no EJSON adjustment)
	Clock             timeu.ITime
	Metrics           *ddpmetrics.Metrics
	ProtocolVersion   string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Session is one client's state machine. The zero value is not
// usable; construct with New.
type Session struct {
	id              string
	conn            Conn
	catalog         Catalog
	codec           FieldCodec
	clock           timeu.ITime
	metrics         *ddpmetrics.Metrics
	protocolVersion string

	heartbeatEnabled bool
	hb               *heartbeat

	inbox *taskqueue.Queue

	mu             sync.Mutex
	userID         string
	hasUserID      bool
	namedSubs      map[string]*subscription.Subscription
	universalSubs  []*subscription.Subscription
	mbox           *mergebox.MergeBox
	sendingAllowed bool
	pendingReady   []string
	closed         bool
	closeCBs       []func()
}

// New builds a Session bound to conn, not yet started: call Start once
// the transport has finished the connect handshake.
func New(cfg Config) *Session {
	codec := cfg.Codec
	if codec == nil {
		codec = identityCodec{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeu.NewITime()
	}
	s := &Session{
		id:              cfg.ID,
		conn:            cfg.Conn,
		catalog:         cfg.Catalog,
		codec:           codec,
		clock:           clock,
		metrics:         cfg.Metrics,
		protocolVersion: cfg.ProtocolVersion,
		inbox:           taskqueue.New(),
		namedSubs:       map[string]*subscription.Subscription{},
		mbox:            mergebox.New(),
		sendingAllowed:  true,
	}
	s.heartbeatEnabled = cfg.ProtocolVersion != "pre1" && cfg.HeartbeatInterval > 0
	if s.heartbeatEnabled {
		s.hb = newHeartbeat(s, clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	}
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	return s
}

// ID returns the session's id, the value sent back in "connected".
func (s *Session) ID() string { return s.id }

// Drain blocks until every inbox task queued so far has finished
// running. Test-only synchronization helper.
func (s *Session) Drain() { s.inbox.Drain() }

// UserID returns the session's current user id and whether one has
// ever been set (setUserId may set it to the empty string deliberately).
func (s *Session) UserID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.hasUserID
}

// Start sends "connected", auto-starts every universal publication,
// and starts the heartbeat, per spec.md §4.10.
func (s *Session) Start() {
	s.writeFrame(outConnected{Msg: "connected", Session: s.id})
	s.inbox.QueueTask(func() {
		for _, u := range s.catalog.UniversalPublications() {
			s.startUniversal(u.Handler, u.Strategy)
		}
	})
	if s.heartbeatEnabled {
		s.hb.start()
	}
}

// StartUniversalPublication runs a newly registered universal
// publication against this already-open session, per spec.md §4.10
// ("auto-started on all currently-open sessions when added"). Called
// by pkg/ddpserver's catalog when a universal publish is registered
// after sessions already exist.
func (s *Session) StartUniversalPublication(handler subscription.Handler, strategy subscription.PublicationStrategy) {
	s.inbox.QueueTask(func() {
		s.startUniversal(handler, strategy)
	})
}

func (s *Session) startUniversal(handler subscription.Handler, strategy subscription.PublicationStrategy) {
	sub := subscription.New(s, "", "", nil, handler, strategy)
	s.mu.Lock()
	s.universalSubs = append(s.universalSubs, sub)
	s.mu.Unlock()
	sub.Run()
}

// HandleMessage is the transport's entry point for one inbound frame.
// It counts as liveness immediately (even before the frame is parsed)
// and is processed on the session's inbox queue, never concurrently
// with another message.
func (s *Session) HandleMessage(raw []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if s.hb != nil {
		s.hb.noteLiveness()
	}
	s.inbox.QueueTask(func() { s.dispatch(raw) })
}

func (s *Session) dispatch(raw []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	var m inbound
	if err := json.Unmarshal(raw, &m); err != nil {
		s.writeFrame(outErrorFrame{Msg: "error", Reason: "malformed message"})
		return
	}
	switch m.Msg {
	case "sub":
		s.handleSub(m)
	case "unsub":
		s.handleUnsub(m)
	case "method":
		s.handleMethod(m)
	case "ping":
		s.handlePing(m)
	case "pong":
		// liveness only, already recorded in HandleMessage.
	default:
		s.writeFrame(outErrorFrame{Msg: "error", Reason: "unknown message type", OffendingMessage: m.Msg})
	}
}

func (s *Session) handleSub(m inbound) {
	s.mu.Lock()
	if _, dup := s.namedSubs[m.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	handler, strategy, ok := s.catalog.Publication(m.Name)
	if !ok {
		s.sendNosub(m.ID, ddperr.New(404, "Subscription not found"))
		return
	}
	sub := subscription.New(s, m.ID, m.Name, s.decodeParams(m.Params), handler, strategy)
	s.mu.Lock()
	s.namedSubs[m.ID] = sub
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SubscriptionStarted()
	}
	sub.Run()
}

func (s *Session) handleUnsub(m inbound) {
	s.mu.Lock()
	sub, ok := s.namedSubs[m.ID]
	s.mu.Unlock()
	if !ok {
		s.writeFrame(outNosub{Msg: "nosub", ID: m.ID})
		return
	}
	s.stopSubscription(sub, nil)
}

func (s *Session) handleMethod(m inbound) {
	handler, ok := s.catalog.Method(m.Method)
	if !ok {
		s.writeFrame(outResult{Msg: "result", ID: m.ID, Error: wireErrorOf(ddperr.ErrUnknownMethod)})
		return
	}

	fence := writefence.New()
	outerCtx := context.Background()
	ctx := writefence.WithCurrent(outerCtx, fence)
	inv := &MethodInvocation{Ctx: ctx, session: s}

	result, err := handler(inv, s.decodeParams(m.Params))
	if err != nil {
		s.writeFrame(outResult{Msg: "result", ID: m.ID, Error: wireErrorOf(err)})
	} else {
		s.writeFrame(outResult{Msg: "result", ID: m.ID, Result: s.codec.Encode(result)})
	}

	// outerCtx, not ctx: Arm's current-fence check must see the context
	// from before this fence was installed, not the handler's own ctx.
	fence.Arm(outerCtx)
	fence.OnAllCommitted(func() {
		s.writeFrame(outUpdated{Msg: "updated", Methods: []string{m.ID}})
		fence.Retire()
	})
}

func (s *Session) handlePing(m inbound) {
	if s.protocolVersion == "pre1" {
		return
	}
	s.writeFrame(outPingPong{Msg: "pong", ID: m.ID})
}

func wireErrorOf(err error) *wireError {
	code, reason := ddperr.ForWire(err)
	return &wireError{Error: code, Reason: reason}
}

// --- subscription.SessionNotifier ---

func (s *Session) Added(sub *subscription.Subscription, collection string, id ddpdoc.ID, fields ddpdoc.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.Strategy == subscription.ServerMerge {
		s.mbox.Added(collection, sub.Handle, id, fields, mergeEmitter{s, collection})
		return
	}
	if !s.sendingAllowed {
		return
	}
	s.writeFrame(outAdded{Msg: "added", Collection: collection, ID: id, Fields: s.encodeFields(fields)})
}

// InitialAdds delivers a subscription's whole initial cursor result as
// one call. On a "1a" session it batches the resulting added events
// into a single "init" frame per collection; every other negotiated
// version falls back to one "added" frame per document, per
// SPEC_FULL.md §4. Documents the merge box already shows (contributed
// by another overlapping subscription) still surface as individual
// "changed" frames immediately, same as Session.Changed, since those
// aren't part of this subscription's own added burst.
func (s *Session) InitialAdds(sub *subscription.Subscription, collection string, docs []ddpdoc.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []initDoc
	emit := initBatchEmitter{s: s, collection: collection, batch: &batch}
	for _, d := range docs {
		id, fields := ddpdoc.GetID(d), ddpdoc.FieldsOf(d)
		if sub.Strategy == subscription.ServerMerge {
			s.mbox.Added(collection, sub.Handle, id, fields, emit)
			continue
		}
		emit.Added(id, fields)
	}

	if s.protocolVersion != "1a" || len(batch) == 0 || !s.sendingAllowed {
		return
	}
	s.writeFrame(outInit{Msg: "init", Collection: collection, Docs: batch})
}

func (s *Session) Changed(sub *subscription.Subscription, collection string, id ddpdoc.ID, fields ddpdoc.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.Strategy == subscription.ServerMerge {
		s.mbox.Changed(collection, sub.Handle, id, fields, mergeEmitter{s, collection})
		return
	}
	if !s.sendingAllowed {
		return
	}
	enc, cleared := s.splitFields(fields)
	s.writeFrame(outChanged{Msg: "changed", Collection: collection, ID: id, Fields: enc, Cleared: cleared})
}

func (s *Session) Removed(sub *subscription.Subscription, collection string, id ddpdoc.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.Strategy == subscription.ServerMerge {
		s.mbox.Removed(collection, sub.Handle, id, mergeEmitter{s, collection})
		return
	}
	if !s.sendingAllowed {
		return
	}
	s.writeFrame(outRemoved{Msg: "removed", Collection: collection, ID: id})
}

func (s *Session) Ready(sub *subscription.Subscription) {
	if sub.ID == "" {
		return // universal subs are never client-visible
	}
	s.mu.Lock()
	if !s.sendingAllowed {
		s.pendingReady = append(s.pendingReady, sub.ID)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.writeFrame(outReady{Msg: "ready", Subs: []string{sub.ID}})
}

func (s *Session) Nosub(sub *subscription.Subscription, err error) {
	s.stopSubscription(sub, err)
}

// stopSubscription removes sub from this session's indices, tears it
// down (which itself emits removed for every document it owned, except
// on "1a" sessions, where that burst is suppressed), and
// sends nosub unless sub is universal (never client-visible).
func (s *Session) stopSubscription(sub *subscription.Subscription, err error) {
	s.mu.Lock()
	if sub.ID == "" {
		for i, u := range s.universalSubs {
			if u == sub {
				s.universalSubs = append(s.universalSubs[:i], s.universalSubs[i+1:]...)
				break
			}
		}
	} else {
		delete(s.namedSubs, sub.ID)
	}
	s.mu.Unlock()

	sub.Deactivate(s.protocolVersion == "1a")
	if s.metrics != nil {
		s.metrics.SubscriptionStopped()
	}
	if sub.ID == "" {
		return
	}
	s.sendNosub(sub.ID, err)
}

func (s *Session) sendNosub(id string, err error) {
	s.mu.Lock()
	allowed := s.sendingAllowed
	s.mu.Unlock()
	if !allowed {
		return
	}
	out := outNosub{Msg: "nosub", ID: id}
	if err != nil {
		out.Error = wireErrorOf(err)
	}
	s.writeFrame(out)
}

// mergeEmitter adapts one collection's merge-box output to wire
// frames. Its methods run synchronously underneath the Session.Added/
// Changed/Removed call that invoked the merge box, so s.mu is already
// held for the whole duration: the field read and the frame write
// below are not racing anything.
type mergeEmitter struct {
	s          *Session
	collection string
}

func (e mergeEmitter) Added(id ddpdoc.ID, fields ddpdoc.Fields) {
	if !e.s.sendingAllowed {
		return
	}
	e.s.writeFrame(outAdded{Msg: "added", Collection: e.collection, ID: id, Fields: e.s.encodeFields(fields)})
}

func (e mergeEmitter) Changed(id ddpdoc.ID, fields ddpdoc.Fields) {
	if !e.s.sendingAllowed {
		return
	}
	enc, cleared := e.s.splitFields(fields)
	e.s.writeFrame(outChanged{Msg: "changed", Collection: e.collection, ID: id, Fields: enc, Cleared: cleared})
}

func (e mergeEmitter) Removed(id ddpdoc.ID) {
	if !e.s.sendingAllowed {
		return
	}
	e.s.writeFrame(outRemoved{Msg: "removed", Collection: e.collection, ID: id})
}

// initBatchEmitter adapts one InitialAdds call to mergebox.Emitter:
// Added either appends to the batch ("1a") or writes an individual
// "added" frame immediately (every other version); Changed/Removed
// (a document another subscription already contributed) always write
// immediately, since batching only covers this subscription's own
// added burst.
type initBatchEmitter struct {
	s          *Session
	collection string
	batch      *[]initDoc
}

func (e initBatchEmitter) Added(id ddpdoc.ID, fields ddpdoc.Fields) {
	if e.s.protocolVersion == "1a" {
		*e.batch = append(*e.batch, initDoc{ID: id, Fields: e.s.encodeFields(fields)})
		return
	}
	if !e.s.sendingAllowed {
		return
	}
	e.s.writeFrame(outAdded{Msg: "added", Collection: e.collection, ID: id, Fields: e.s.encodeFields(fields)})
}

func (e initBatchEmitter) Changed(id ddpdoc.ID, fields ddpdoc.Fields) {
	if !e.s.sendingAllowed {
		return
	}
	enc, cleared := e.s.splitFields(fields)
	e.s.writeFrame(outChanged{Msg: "changed", Collection: e.collection, ID: id, Fields: enc, Cleared: cleared})
}

func (e initBatchEmitter) Removed(id ddpdoc.ID) {
	if !e.s.sendingAllowed {
		return
	}
	e.s.writeFrame(outRemoved{Msg: "removed", Collection: e.collection, ID: id})
}

// --- setUserId (spec.md §4.10) ---

type setUserIDEmitter struct{ s *Session }

func (e setUserIDEmitter) Added(collection string, id ddpdoc.ID, fields ddpdoc.Fields) {
	e.s.writeFrame(outAdded{Msg: "added", Collection: collection, ID: id, Fields: e.s.encodeFields(fields)})
}

func (e setUserIDEmitter) Changed(collection string, id ddpdoc.ID, fields ddpdoc.Fields) {
	enc, cleared := e.s.splitFields(fields)
	e.s.writeFrame(outChanged{Msg: "changed", Collection: collection, ID: id, Fields: enc, Cleared: cleared})
}

func (e setUserIDEmitter) Removed(collection string, id ddpdoc.ID) {
	e.s.writeFrame(outRemoved{Msg: "removed", Collection: collection, ID: id})
}

// setUserID implements spec.md §4.10: snapshot the merge-box, rerun
// every subscription silently, then send the one true diff between
// before and after instead of whatever per-event traffic the rerun
// produced internally.
func (s *Session) setUserID(id string) {
	s.mu.Lock()
	before := s.mbox.Snapshot()
	s.sendingAllowed = false

	named := make([]*subscription.Subscription, 0, len(s.namedSubs))
	for _, sub := range s.namedSubs {
		named = append(named, sub)
	}
	universal := append([]*subscription.Subscription(nil), s.universalSubs...)
	s.namedSubs = map[string]*subscription.Subscription{}
	s.universalSubs = nil
	s.userID = id
	s.hasUserID = true
	s.mu.Unlock()

	// Deactivate always emits here, even for "1a" sessions: this is an
	// internal rerun, not a client-visible unsubscribe, and mergebox's
	// per-field precedence bookkeeping for the old handle must be
	// cleared before Recreate hands out a new one.
	for _, sub := range named {
		sub.Deactivate(false)
		fresh := sub.Recreate()
		s.mu.Lock()
		s.namedSubs[fresh.ID] = fresh
		s.mu.Unlock()
		fresh.Run()
	}
	for _, sub := range universal {
		sub.Deactivate(false)
		fresh := sub.Recreate()
		s.mu.Lock()
		s.universalSubs = append(s.universalSubs, fresh)
		s.mu.Unlock()
		fresh.Run()
	}

	s.mu.Lock()
	s.sendingAllowed = true
	after := s.mbox.Snapshot()
	pending := s.pendingReady
	s.pendingReady = nil
	s.mu.Unlock()

	mergebox.DiffSnapshots(before, after, setUserIDEmitter{s})

	if len(pending) > 0 {
		s.writeFrame(outReady{Msg: "ready", Subs: pending})
	}
}

// --- close ---

// OnClose registers cb to run once the session has closed. If it is
// already closed, cb runs immediately.
func (s *Session) OnClose(cb func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cb()
		return
	}
	s.closeCBs = append(s.closeCBs, cb)
	s.mu.Unlock()
}

// Close drops the inbox, stops the heartbeat, closes the socket, and
// schedules deferred deactivation of every subscription plus the
// close callbacks, per spec.md §4.10/§5 ("close callbacks run on a
// deferred tick so the caller is not blocked").
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cbs := s.closeCBs
	s.closeCBs = nil
	s.mu.Unlock()

	if s.hb != nil {
		s.hb.stop()
	}
	if err := s.conn.Close(); err != nil {
		logger.Error("ddpsession: conn close failed:", err)
	}
	if s.metrics != nil {
		s.metrics.SessionClosed()
	}

	go func() {
		s.deactivateAllSubscriptions()
		for _, cb := range cbs {
			cb()
		}
	}()
}

func (s *Session) deactivateAllSubscriptions() {
	s.mu.Lock()
	named := make([]*subscription.Subscription, 0, len(s.namedSubs))
	for _, sub := range s.namedSubs {
		named = append(named, sub)
	}
	universal := append([]*subscription.Subscription(nil), s.universalSubs...)
	s.namedSubs = map[string]*subscription.Subscription{}
	s.universalSubs = nil
	s.mu.Unlock()
	for _, sub := range named {
		sub.Deactivate(false)
	}
	for _, sub := range universal {
		sub.Deactivate(false)
	}
}

func (s *Session) writeFrame(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("ddpsession: marshal failed:", err)
		return
	}
	if err := s.conn.Send(b); err != nil {
		logger.Error("ddpsession: send failed:", err)
	}
}
