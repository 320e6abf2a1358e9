/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package subscription implements the Subscription object of spec.md
// §4.9: the per-publish object a handler runs against, forwarding its
// added/changed/removed/ready calls to the owning session. Handlers
// here are plain Go funcs instead of "this"-bound closures; they
// receive the Subscription explicitly and may call its methods
// synchronously, the same way the teacher's pipeline operators are
// handed their stage's state instead of reaching for a global.
package subscription

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/ddperr"
)

// PublicationStrategy selects how a publish's added/changed/removed
// calls reach the client, per spec.md §6.
type PublicationStrategy int

const (
	// ServerMerge is the default: accounting flows through the
	// session's merge-box, deduplicated across overlapping subs.
	ServerMerge PublicationStrategy = iota
	// NoMergeNoHistory bypasses the merge-box and sends no removed on stop.
	NoMergeNoHistory
	// NoMerge bypasses the merge-box but still tracks owned ids so
	// that removed can be sent when the subscription stops.
	NoMerge
)

// Handler is the user-supplied publish function. It runs with access
// to sub so it can call Added/Changed/Removed/Ready/Stop/Error/OnStop.
// The return value is interpreted by Run: nil leaves the subscription
// as-is (caller manages ready itself), a PublishableCursor or
// []PublishableCursor is auto-published, anything else is an error.
type Handler func(sub *Subscription, params []any) (any, error)

// PublishableCursor is the duck-typed capability spec.md §4.9 calls
// "a Cursor object (identified by the presence of _publishCursor)".
type PublishableCursor interface {
	Collection() string
	PublishCursor(sub *Subscription) error
}

// SessionNotifier is the subscription's view of its owning session:
// whether an event reaches the client through the merge-box or a
// direct send is the session's call, keyed off sub.Strategy, not
// the subscription's.
type SessionNotifier interface {
	Added(sub *Subscription, collection string, id ddpdoc.ID, fields ddpdoc.Fields)
	// InitialAdds delivers a cursor's whole initial result set in one
	// call, letting the session decide whether to fan it out as
	// individual added events or batch it into a single "1a"-only
	// wire frame (SPEC_FULL.md §4's init extension).
	InitialAdds(sub *Subscription, collection string, docs []ddpdoc.Document)
	Changed(sub *Subscription, collection string, id ddpdoc.ID, fields ddpdoc.Fields)
	Removed(sub *Subscription, collection string, id ddpdoc.ID)
	Ready(sub *Subscription)
	Nosub(sub *Subscription, err error)
	// UserID returns the session's current user id, the Go rendering of
	// Meteor's this.userId: a handler reads it dynamically so a
	// setUserId-triggered rerun sees the new value, not a value
	// captured at subscribe time.
	UserID() (id string, ok bool)
}

// NewHandle generates a fresh wire handle for a subscription. Named
// publishes get an "N" prefix, universal (name == "") publishes a
// "U" prefix, so log lines and wire traces can tell the two apart at
// a glance.
func NewHandle(name string) string {
	if name == "" {
		return "U" + uuid.NewString()
	}
	return "N" + uuid.NewString()
}

// Subscription is one running publish. The zero value is not usable;
// construct with New.
type Subscription struct {
	Session SessionNotifier
	ID      string // client-chosen sub id; "" for a universal subscription
	Handle  string
	Name    string // publish name; "" identifies a universal subscription
	Params  []any
	Strategy PublicationStrategy

	handler Handler

	mu          sync.Mutex
	deactivated bool
	readyFired  bool
	stopCBs     []func()
	documents   map[string]map[ddpdoc.ID]struct{} // collection -> owned ids
}

// New builds a Subscription bound to session, with a freshly
// generated wire handle.
func New(session SessionNotifier, id, name string, params []any, handler Handler, strategy PublicationStrategy) *Subscription {
	return &Subscription{
		Session:   session,
		ID:        id,
		Handle:    NewHandle(name),
		Name:      name,
		Params:    params,
		Strategy:  strategy,
		handler:   handler,
		documents: map[string]map[ddpdoc.ID]struct{}{},
	}
}

// Recreate returns a new Subscription with the same session, handler,
// id, params, and name, and fresh state (a fresh handle and an empty
// owned-document set). Used to reactively re-run a subscription after
// setUserId, per spec.md §4.10.
func (s *Subscription) Recreate() *Subscription {
	return New(s.Session, s.ID, s.Name, s.Params, s.handler, s.Strategy)
}

// Run invokes the handler and interprets its return value, per
// spec.md §4.9.
func (s *Subscription) Run() {
	result, err := s.handler(s, s.Params)
	if err != nil {
		s.Error(err)
		return
	}
	switch v := result.(type) {
	case nil:
		// Caller manages readiness itself.
	case PublishableCursor:
		if perr := v.PublishCursor(s); perr != nil {
			s.Error(perr)
		}
	case []PublishableCursor:
		if perr := s.publishCursors(v); perr != nil {
			s.Error(perr)
		}
	default:
		s.Error(fmt.Errorf("subscription: handler returned unpublishable value of type %T", v))
	}
}

func (s *Subscription) publishCursors(cursors []PublishableCursor) error {
	seen := make(map[string]struct{}, len(cursors))
	for _, c := range cursors {
		if _, dup := seen[c.Collection()]; dup {
			return ddperr.ErrDuplicateCollection
		}
		seen[c.Collection()] = struct{}{}
	}
	for _, c := range cursors {
		if err := c.PublishCursor(s); err != nil {
			return err
		}
	}
	return nil
}

// UserID reads the owning session's current user id.
func (s *Subscription) UserID() (string, bool) {
	return s.Session.UserID()
}

func (s *Subscription) tracksOwnership() bool {
	return s.Strategy != NoMergeNoHistory
}

// Added delivers an added event, no-op if the subscription has been
// deactivated.
func (s *Subscription) Added(collection string, id ddpdoc.ID, fields ddpdoc.Fields) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	if s.tracksOwnership() {
		s.rememberLocked(collection, id)
	}
	s.mu.Unlock()
	s.Session.Added(s, collection, id, fields)
}

// InitialAdds delivers a cursor's whole initial result set as one
// batch, tracking ownership of every document the way a sequence of
// individual Added calls would, no-op if deactivated.
func (s *Subscription) InitialAdds(collection string, docs []ddpdoc.Document) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	if s.tracksOwnership() {
		for _, d := range docs {
			s.rememberLocked(collection, ddpdoc.GetID(d))
		}
	}
	s.mu.Unlock()
	s.Session.InitialAdds(s, collection, docs)
}

// Changed delivers a changed event, no-op if deactivated.
func (s *Subscription) Changed(collection string, id ddpdoc.ID, fields ddpdoc.Fields) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Session.Changed(s, collection, id, fields)
}

// Removed delivers a removed event and drops the id from the owned
// set, no-op if deactivated.
func (s *Subscription) Removed(collection string, id ddpdoc.ID) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	if s.tracksOwnership() {
		s.forgetLocked(collection, id)
	}
	s.mu.Unlock()
	s.Session.Removed(s, collection, id)
}

// Ready signals the subscription's initial documents are all sent.
// Idempotent: only the first call reaches the session.
func (s *Subscription) Ready() {
	s.mu.Lock()
	if s.deactivated || s.readyFired {
		s.mu.Unlock()
		return
	}
	s.readyFired = true
	s.mu.Unlock()
	s.Session.Ready(s)
}

// Stop requests the session tear down this subscription without an error.
func (s *Subscription) Stop() {
	s.Session.Nosub(s, nil)
}

// Error requests the session tear down this subscription, sending
// err's client-safe shape to the client as a nosub error.
func (s *Subscription) Error(err error) {
	s.Session.Nosub(s, err)
}

// OnStop registers cb to run when the subscription is deactivated. If
// it is already deactivated, cb runs immediately.
func (s *Subscription) OnStop(cb func()) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		cb()
		return
	}
	s.stopCBs = append(s.stopCBs, cb)
	s.mu.Unlock()
}

// Deactivate emits removed for every document this subscription still
// owns (added and not since removed), then runs every registered stop callback. Idempotent.
// suppressRemoved skips the removed burst entirely, for sessions whose
// negotiated protocol version opts into client-side cleanup ("1a", per
// spec.md §4.9).
func (s *Subscription) Deactivate(suppressRemoved bool) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	s.deactivated = true
	cbs := s.stopCBs
	s.stopCBs = nil
	s.mu.Unlock()
	if s.tracksOwnership() && !suppressRemoved {
		s.RemoveAllDocuments()
	}
	for _, cb := range cbs {
		cb()
	}
}

// RemoveAllDocuments emits removed for every (collection, id) this
// subscription still owns. Used on unsubscribe unless the
// negotiated protocol version opts into client-side cleanup ("1a").
func (s *Subscription) RemoveAllDocuments() {
	s.mu.Lock()
	owned := s.documents
	s.documents = map[string]map[ddpdoc.ID]struct{}{}
	s.mu.Unlock()
	for collection, ids := range owned {
		for id := range ids {
			s.Session.Removed(s, collection, id)
		}
	}
}

func (s *Subscription) rememberLocked(collection string, id ddpdoc.ID) {
	ids, ok := s.documents[collection]
	if !ok {
		ids = map[ddpdoc.ID]struct{}{}
		s.documents[collection] = ids
	}
	ids[id] = struct{}{}
}

func (s *Subscription) forgetLocked(collection string, id ddpdoc.ID) {
	if ids, ok := s.documents[collection]; ok {
		delete(ids, id)
	}
}
