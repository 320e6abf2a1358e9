/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package ddpsession

import (
	"context"

	"github.com/voedger/reactord/pkg/subscription"
)

// MethodInvocation is the explicit "this" a method handler runs
// against (spec.md §4.10): Ctx carries the current write fence
// (writefence.Current(inv.Ctx)) for the duration of the handler's
// synchronous execution, and SetUserID exposes the setUserId
// capability spec.md restricts to method handlers.
type MethodInvocation struct {
	Ctx     context.Context
	session *Session
}

// SetUserID implements spec.md §4.10's setUserId.
func (m *MethodInvocation) SetUserID(id string) {
	m.session.setUserID(id)
}

// MethodHandler is a registered RPC method body.
type MethodHandler func(inv *MethodInvocation, params []any) (any, error)

// UniversalPub is a publish handler registered under no name: spec.md
// §4.10 auto-starts it on every session immediately after connect, and
// on every already-open session when newly registered.
type UniversalPub struct {
	Handler  subscription.Handler
	Strategy subscription.PublicationStrategy
}

// Catalog is the session's view of the server-wide publish/method
// registry. pkg/ddpserver owns the concrete implementation; a Session
// only ever looks entries up, it never mutates the catalog.
type Catalog interface {
	Publication(name string) (subscription.Handler, subscription.PublicationStrategy, bool)
	Method(name string) (MethodHandler, bool)
	UniversalPublications() []UniversalPub
}
