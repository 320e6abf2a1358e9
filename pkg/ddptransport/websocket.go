/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package ddptransport implements the WebSocket transport of spec.md
// §6's "out of scope" boundary: an http.Handler that upgrades a
// connection, performs the connect handshake through pkg/ddpserver,
// and pumps frames in both directions. Writes are serialized under a
// per-connection mutex so a *websocket.Conn is written from one place
// at a time, as the teacher's connect/transport.go does.
package ddptransport

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voedger/reactord/pkg/ddpconfig"
	"github.com/voedger/reactord/pkg/ddpserver"
	"github.com/voedger/reactord/pkg/ddpsession"
	"github.com/voedger/reactord/pkg/goutils/logger"
)

// connectReadTimeout bounds how long Handler waits for the first
// ("connect") frame before giving up on a client.
const connectReadTimeout = 10 * time.Second

// wsConn adapts a *websocket.Conn to ddpsession.Conn. Every Send goes
// through writeMu so concurrent callers (the session's own goroutines,
// plus the read pump's close path) never interleave two WriteMessage
// calls on the same connection.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// hands each one to a ddpserver.Server for the connect handshake and
// the lifetime of the session.
type Handler struct {
	Server   *ddpserver.Server
	Config   ddpconfig.Config
	Upgrader websocket.Upgrader
}

// NewHandler builds a Handler whose websocket.Upgrader accepts every
// origin (its CheckOrigin always returns true), matching the teacher's pattern of accepting
// cross-origin connections at the transport boundary and leaving
// authentication to the application layer (spec.md §1 Non-goals:
// authentication is out of scope for the core).
func NewHandler(server *ddpserver.Server, cfg ddpconfig.Config) *Handler {
	return &Handler{
		Server: server,
		Config: cfg,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Config.DisableWebsockets {
		http.Error(w, "websockets disabled", http.StatusNotImplemented)
		return
	}
	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("ddptransport: upgrade failed:", err)
		return
	}
	conn := &wsConn{ws: ws}

	ws.SetReadDeadline(time.Now().Add(connectReadTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})

	sess, err := h.Server.Accept(conn, raw)
	if err != nil {
		// Accept already sent "failed" and closed conn on a version
		// mismatch, or conn is unusable on a malformed first frame.
		return
	}
	h.pump(ws, sess)
}

// pump reads frames off ws and hands each to sess until the socket
// closes, then closes the session. One pump goroutine per connection,
// matching the teacher's one-read-loop-per-transport shape.
func (h *Handler) pump(ws *websocket.Conn, sess *ddpsession.Session) {
	defer sess.Close()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		sess.HandleMessage(raw)
	}
}

// ClientIP derives the client's address from X-Forwarded-For, trusting
// the rightmost Config.ForwardedCount hops, per spec.md §6's
// HTTP_FORWARDED_COUNT contract. When ForwardedCount hops are
// configured but the header carries fewer entries than that, the
// address is untrustworthy and ClientIP yields "" (spec.md §8: "yields
// null client address"), rather than silently falling back to
// r.RemoteAddr.
func ClientIP(r *http.Request, cfg ddpconfig.Config) string {
	if cfg.ForwardedCount == 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := range hops {
		hops[i] = strings.TrimSpace(hops[i])
	}
	idx := len(hops) - cfg.ForwardedCount
	if idx < 0 || idx >= len(hops) || hops[idx] == "" {
		return ""
	}
	return hops[idx]
}
