/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package ddpserver implements the Server object of spec.md §2 item
// 11: the process-wide registry of publish handlers, method handlers,
// and open sessions, plus the connect handshake's version negotiation.
// It is the concrete ddpsession.Catalog every Session looks its
// publish/method entries up against.
package ddpserver

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voedger/reactord/pkg/ddpconfig"
	"github.com/voedger/reactord/pkg/ddpmetrics"
	"github.com/voedger/reactord/pkg/ddpsession"
	"github.com/voedger/reactord/pkg/goutils/logger"
	"github.com/voedger/reactord/pkg/goutils/timeu"
	"github.com/voedger/reactord/pkg/subscription"
)

// errVersionMismatch is returned by Accept when the client's proposed
// version isn't the server's negotiated choice; spec.md §6 requires a
// "failed" frame and a close in this case, not a protocol error frame.
var errVersionMismatch = errors.New("ddpserver: protocol version mismatch")

// DefaultHeartbeatInterval/Timeout match Meteor's DDP defaults; spec.md
// §6 leaves the exact values to the server, only the on/off condition
// (non-pre1, positive interval) is pinned down.
const (
	DefaultHeartbeatInterval = 17500 * time.Millisecond
	DefaultHeartbeatTimeout  = 15000 * time.Millisecond
)

type pubEntry struct {
	handler  subscription.Handler
	strategy subscription.PublicationStrategy
}

// Config constructs a Server.
type Config struct {
	Polling           ddpconfig.Config
	Codec             ddpsession.FieldCodec
	Clock             timeu.ITime
	Metrics           *ddpmetrics.Metrics
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Server is the registry + session accept point. The zero value is
// not usable; construct with New.
type Server struct {
	cfg Config

	mu        sync.RWMutex
	pubs      map[string]pubEntry
	methods   map[string]ddpsession.MethodHandler
	universal []ddpsession.UniversalPub
	sessions  map[string]*ddpsession.Session
}

// New builds a Server with no publications or methods registered yet.
func New(cfg Config) *Server {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeu.NewITime()
	}
	return &Server{
		cfg:      cfg,
		pubs:     map[string]pubEntry{},
		methods:  map[string]ddpsession.MethodHandler{},
		sessions: map[string]*ddpsession.Session{},
	}
}

// Publish registers a named publication. Re-registering an existing
// name replaces it; subscriptions already running against the old
// handler keep it, including across Recreate, which reuses the
// handler a subscription was built with.
func (s *Server) Publish(name string, handler subscription.Handler, strategy subscription.PublicationStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pubs[name] = pubEntry{handler: handler, strategy: strategy}
}

// PublishUniversal registers a publication with no name: spec.md
// §4.10 auto-starts it on every session immediately after connect,
// and — since this may be called after sessions already exist — on
// every currently-open session right now.
func (s *Server) PublishUniversal(handler subscription.Handler, strategy subscription.PublicationStrategy) {
	s.mu.Lock()
	s.universal = append(s.universal, ddpsession.UniversalPub{Handler: handler, Strategy: strategy})
	sessions := make([]*ddpsession.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.StartUniversalPublication(handler, strategy)
	}
}

// Method registers a named RPC method handler.
func (s *Server) Method(name string, handler ddpsession.MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = handler
}

// --- ddpsession.Catalog ---

func (s *Server) Publication(name string) (subscription.Handler, subscription.PublicationStrategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pubs[name]
	return p.handler, p.strategy, ok
}

// MethodLookup is the catalog-side method lookup; named distinctly
// from Method (the registration call) since Server itself isn't the
// ddpsession.Catalog — catalogAdapter is, to avoid a same-name,
// different-signature clash between registration and lookup.
func (s *Server) MethodLookup(name string) (ddpsession.MethodHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.methods[name]
	return h, ok
}

func (s *Server) UniversalPublications() []ddpsession.UniversalPub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ddpsession.UniversalPub(nil), s.universal...)
}

// connectRequest is the connect handshake frame of spec.md §6, parsed
// by the server ahead of constructing a Session (the session's own
// inbox only ever sees post-connect traffic).
type connectRequest struct {
	Msg     string   `json:"msg"`
	Version string   `json:"version"`
	Support []string `json:"support"`
}

type failedFrame struct {
	Msg     string `json:"msg"`
	Version string `json:"version"`
}

// Accept performs the connect handshake on raw (the first frame read
// off conn) and, on success, builds and starts a Session, registering
// it so future PublishUniversal calls reach it too. On a version
// mismatch it writes "failed" and closes conn itself, returning an
// error; the caller must not use conn further either way.
func (s *Server) Accept(conn ddpsession.Conn, raw []byte) (*ddpsession.Session, error) {
	var req connectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.reject(conn, "")
		return nil, err
	}
	version, ok := ddpsession.Negotiate(req.Support)
	if !ok || version != req.Version {
		s.reject(conn, version)
		return nil, errVersionMismatch
	}

	sess := ddpsession.New(ddpsession.Config{
		ID:                uuid.NewString(),
		Conn:              conn,
		Catalog:           catalogAdapter{s},
		Codec:             s.cfg.Codec,
		Clock:             s.cfg.Clock,
		Metrics:           s.cfg.Metrics,
		ProtocolVersion:   version,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		HeartbeatTimeout:  s.cfg.HeartbeatTimeout,
	})

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	sess.OnClose(func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
	})

	sess.Start()
	return sess, nil
}

func (s *Server) reject(conn ddpsession.Conn, version string) {
	b, err := json.Marshal(failedFrame{Msg: "failed", Version: version})
	if err != nil {
		logger.Error("ddpserver: marshal failed frame:", err)
		return
	}
	if err := conn.Send(b); err != nil {
		logger.Error("ddpserver: send failed frame:", err)
	}
	if err := conn.Close(); err != nil {
		logger.Error("ddpserver: close after failed handshake:", err)
	}
}

// SessionCount reports the number of currently-open sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// catalogAdapter exposes Server as a ddpsession.Catalog without
// publicly implementing ddpsession.Catalog's Method signature name
// clash against Server.Method (the registration call).
type catalogAdapter struct{ s *Server }

func (c catalogAdapter) Publication(name string) (subscription.Handler, subscription.PublicationStrategy, bool) {
	return c.s.Publication(name)
}
func (c catalogAdapter) Method(name string) (ddpsession.MethodHandler, bool) {
	return c.s.MethodLookup(name)
}
func (c catalogAdapter) UniversalPublications() []ddpsession.UniversalPub {
	return c.s.UniversalPublications()
}
