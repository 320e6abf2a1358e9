/*
* Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package main

import (
	"errors"

	"github.com/google/uuid"

	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/ddpserver"
	"github.com/voedger/reactord/pkg/ddpsession"
	"github.com/voedger/reactord/pkg/docstore"
	"github.com/voedger/reactord/pkg/livereg"
	"github.com/voedger/reactord/pkg/subscription"
)

var errBadDocumentsParams = errors.New("reactord: expected (collection string, ...) params")

// registerDocuments wires the one default publication and the three
// default methods a bare reactord deployment needs to be useful out of
// the box: subscribing to an arbitrary collection (optionally
// filtered by a selector) and writing to it, the way a freshly
// scaffolded Meteor app relies on the autopublish/insecure packages'
// generic collection access before it grows real publish/method
// definitions of its own.
func registerDocuments(server *ddpserver.Server, store *docstore.Store, registry *livereg.Registry) {
	server.Publish("documents", documentsPublish(registry), subscription.ServerMerge)
	server.Method("documents/insert", documentsInsert(store))
	server.Method("documents/update", documentsUpdate(store))
	server.Method("documents/remove", documentsRemove(store))
}

func documentsPublish(registry *livereg.Registry) subscription.Handler {
	return func(sub *subscription.Subscription, params []any) (any, error) {
		collection, ok := firstString(params)
		if !ok {
			return nil, errBadDocumentsParams
		}
		selector := map[string]any{}
		if len(params) > 1 {
			if m, ok := params[1].(map[string]any); ok {
				selector = m
			}
		}
		return subscription.Cursor{
			Registry: registry,
			Desc:     livereg.CursorDescription{Collection: collection, Selector: selector},
		}, nil
	}
}

func documentsInsert(store *docstore.Store) ddpsession.MethodHandler {
	return func(inv *ddpsession.MethodInvocation, params []any) (any, error) {
		collection, ok := firstString(params)
		if !ok || len(params) < 2 {
			return nil, errBadDocumentsParams
		}
		fields, ok := params[1].(map[string]any)
		if !ok {
			return nil, errBadDocumentsParams
		}
		doc := ddpdoc.Document{}
		for k, v := range fields {
			doc[k] = v
		}
		if _, has := doc["_id"]; !has {
			doc["_id"] = uuid.NewString()
		}
		if err := store.InsertOne(inv.Ctx, collection, doc); err != nil {
			return nil, err
		}
		return doc["_id"], nil
	}
}

func documentsUpdate(store *docstore.Store) ddpsession.MethodHandler {
	return func(inv *ddpsession.MethodInvocation, params []any) (any, error) {
		collection, ok := firstString(params)
		if !ok || len(params) < 3 {
			return nil, errBadDocumentsParams
		}
		id, ok := params[1].(string)
		if !ok {
			return nil, errBadDocumentsParams
		}
		patchFields, ok := params[2].(map[string]any)
		if !ok {
			return nil, errBadDocumentsParams
		}
		patch := ddpdoc.Fields{}
		for k, v := range patchFields {
			if v == nil {
				patch[k] = ddpdoc.Deleted{}
				continue
			}
			patch[k] = v
		}
		if err := store.UpdateOne(inv.Ctx, collection, id, patch); err != nil {
			return nil, err
		}
		return true, nil
	}
}

func documentsRemove(store *docstore.Store) ddpsession.MethodHandler {
	return func(inv *ddpsession.MethodInvocation, params []any) (any, error) {
		collection, ok := firstString(params)
		if !ok || len(params) < 2 {
			return nil, errBadDocumentsParams
		}
		id, ok := params[1].(string)
		if !ok {
			return nil, errBadDocumentsParams
		}
		if err := store.DeleteOne(inv.Ctx, collection, id); err != nil {
			return nil, err
		}
		return true, nil
	}
}

func firstString(params []any) (string, bool) {
	if len(params) < 1 {
		return "", false
	}
	s, ok := params[0].(string)
	return s, ok
}
