/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package crossbar implements the invalidation crossbar of spec.md
// §4.3: a pattern-matched notification bus between write sites and
// observe drivers. Shaped after the teacher's pkg/in10nmem N10nBroker
// (many writers "fire"/Update, many readers "listen"/Subscribe,
// snapshot-before-dispatch iteration) generalized from a single
// projection-offset key to an arbitrary key/value trigger subset.
package crossbar

import (
	"reflect"
	"sync"
)

// Notification is a bag of key/value pairs describing one change. The
// "collection" key, when present and a string, is used to index
// listeners; absent or non-string means the bucket for "any collection".
type Notification map[string]any

// Trigger is a pattern: a notification matches iff every key present
// in the trigger exists in the notification with an equal value.
type Trigger map[string]any

// StopHandle deregisters a listener. Idempotent.
type StopHandle func()

type listener struct {
	id      uint64
	trigger Trigger
	cb      func(Notification)
}

// Bar is the crossbar itself, indexed by collection name ("" = any collection).
type Bar struct {
	mu      sync.RWMutex
	byColl  map[string]map[uint64]*listener
	nextID  uint64
}

func New() *Bar {
	return &Bar{byColl: map[string]map[uint64]*listener{}}
}

func triggerCollection(t Trigger) string {
	if v, ok := t["collection"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Listen registers cb to be invoked for every Fire()d notification
// that matches trigger. Returns an idempotent stop handle. Safe to
// call from inside another listener callback on the same bar.
func (b *Bar) Listen(trigger Trigger, cb func(Notification)) StopHandle {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	coll := triggerCollection(trigger)
	bucket, ok := b.byColl[coll]
	if !ok {
		bucket = map[uint64]*listener{}
		b.byColl[coll] = bucket
	}
	bucket[id] = &listener{id: id, trigger: trigger, cb: cb}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if bucket, ok := b.byColl[coll]; ok {
				delete(bucket, id)
			}
			b.mu.Unlock()
		})
	}
}

// Fire dispatches notification to every listener whose trigger matches,
// across the notification's own collection bucket and the "any
// collection" bucket. Dispatch does not wait for listener callbacks;
// listeners that want to block a write fence must call BeginWrite
// themselves before returning.
func (b *Bar) Fire(notification Notification) {
	coll := ""
	if v, ok := notification["collection"]; ok {
		if s, ok := v.(string); ok {
			coll = s
		}
	}

	b.mu.RLock()
	matched := make([]func(Notification), 0, 4)
	for _, key := range uniqueCollBuckets(coll) {
		bucket, ok := b.byColl[key]
		if !ok {
			continue
		}
		for _, l := range bucket {
			if matches(l.trigger, notification) {
				matched = append(matched, l.cb)
			}
		}
	}
	b.mu.RUnlock()

	for _, cb := range matched {
		cb(notification)
	}
}

func uniqueCollBuckets(coll string) []string {
	if coll == "" {
		return []string{""}
	}
	return []string{coll, ""}
}

// matches implements the subset rule, with a fast equality path when
// both sides carry a string "id" key (the common hot path: a write to
// one document notifying observers keyed by id).
func matches(trigger Trigger, n Notification) bool {
	if tid, ok := trigger["id"]; ok {
		if tids, ok := tid.(string); ok {
			if nid, ok := n["id"]; ok {
				if nids, ok := nid.(string); ok && tids != nids {
					return false
				}
			}
		}
	}
	for k, tv := range trigger {
		nv, present := n[k]
		if !present {
			return false
		}
		if !reflect.DeepEqual(tv, nv) {
			return false
		}
	}
	return true
}
