/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package ddpdoc defines the document/fields shapes shared by every
// core package: the store's documents, the cache's patches, and the
// merge-box's per-field precedence lists all speak this vocabulary.
package ddpdoc

// ID is a document's mandatory, immutable identity field.
type ID = string

// Document is a full document: a field-name-to-value mapping that
// always carries "_id".
type Document map[string]any

// Fields is a partial field set: either a burst of added fields, or a
// changed-patch where a Deleted value signals field removal (spec.md
// §4.4/§4.11's "undefined value = delete field").
type Fields map[string]any

// Deleted is the sentinel patch value meaning "this field no longer exists".
type Deleted struct{}

// IsDeleted reports whether v is the Deleted sentinel.
func IsDeleted(v any) bool {
	_, ok := v.(Deleted)
	return ok
}

// GetID returns the _id field of doc as a string, or "" if absent/wrong type.
func GetID(doc Document) ID {
	if v, ok := doc["_id"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FieldsOf returns doc's fields without "_id", suitable for an added event.
func FieldsOf(doc Document) Fields {
	f := make(Fields, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		f[k] = CloneValue(v)
	}
	return f
}

// CloneDocument deep-clones doc so that callers can't alias into a
// cache or view's storage.
func CloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneFields deep-clones a Fields patch.
func CloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneDocuments deep-clones a slice of documents, preserving order.
func CloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = CloneDocument(d)
	}
	return out
}

// CloneValue deep-clones the JSON-like value trees documents are made
// of: maps, slices, and scalars. Used by the merge-box on insertion and
// by the multiplexer's fan-out when nonMutatingCallbacks is unset.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = CloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = CloneValue(vv)
		}
		return out
	default:
		return v
	}
}
