/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package ddpsession

import "github.com/voedger/reactord/pkg/ddpdoc"

// inbound is the envelope every client->server frame is parsed into
// (spec.md §6); unused fields for a given msg are simply left zero.
type inbound struct {
	Msg        string `json:"msg"`
	Version    string `json:"version,omitempty"`
	Support    []string `json:"support,omitempty"`
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Params     []any  `json:"params,omitempty"`
	Method     string `json:"method,omitempty"`
	RandomSeed string `json:"randomSeed,omitempty"`
}

type outConnected struct {
	Msg     string `json:"msg"`
	Session string `json:"session"`
}

type outFailed struct {
	Msg     string `json:"msg"`
	Version string `json:"version"`
}

type outPingPong struct {
	Msg string `json:"msg"`
	ID  string `json:"id,omitempty"`
}

type wireError struct {
	Error   any    `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details any    `json:"details,omitempty"`
}

type outNosub struct {
	Msg   string     `json:"msg"`
	ID    string     `json:"id"`
	Error *wireError `json:"error,omitempty"`
}

type outAdded struct {
	Msg        string         `json:"msg"`
	Collection string         `json:"collection"`
	ID         ddpdoc.ID      `json:"id"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type outChanged struct {
	Msg        string         `json:"msg"`
	Collection string         `json:"collection"`
	ID         ddpdoc.ID      `json:"id"`
	Fields     map[string]any `json:"fields,omitempty"`
	Cleared    []string       `json:"cleared,omitempty"`
}

type outRemoved struct {
	Msg        string    `json:"msg"`
	Collection string    `json:"collection"`
	ID         ddpdoc.ID `json:"id"`
}

// initDoc is one document in an outInit batch.
type initDoc struct {
	ID     ddpdoc.ID      `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// outInit is the "1a"-only batched form of a subscription's initial
// added burst: one frame per collection instead of one "added" frame
// per document, per SPEC_FULL.md §4.
type outInit struct {
	Msg        string    `json:"msg"`
	Collection string    `json:"collection"`
	Docs       []initDoc `json:"docs"`
}

type outReady struct {
	Msg  string   `json:"msg"`
	Subs []string `json:"subs"`
}

type outUpdated struct {
	Msg     string   `json:"msg"`
	Methods []string `json:"methods"`
}

type outResult struct {
	Msg    string     `json:"msg"`
	ID     string     `json:"id"`
	Result any        `json:"result,omitempty"`
	Error  *wireError `json:"error,omitempty"`
}

type outErrorFrame struct {
	Msg              string `json:"msg"`
	Reason           string `json:"reason"`
	OffendingMessage any    `json:"offendingMessage,omitempty"`
}

// FieldCodec adjusts field/param/result values for the wire, the
// EJSON-style round trip spec.md §6 requires for Dates, binary, and
// decimal types. pkg/ejson supplies the real codec; identityCodec
// below is the default until a server wires one in.
type FieldCodec interface {
	Encode(v any) any
	Decode(v any) any
}

type identityCodec struct{}

func (identityCodec) Encode(v any) any { return v }
func (identityCodec) Decode(v any) any { return v }

func (s *Session) encodeFields(fields ddpdoc.Fields) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = s.codec.Encode(v)
	}
	return out
}

// splitFields separates a changed-patch into the fields that still
// have a value and the keys whose value was the Deleted sentinel, the
// "cleared" companion array spec.md §6 puts on the wire in place of an
// explicit undefined.
func (s *Session) splitFields(fields ddpdoc.Fields) (map[string]any, []string) {
	var cleared []string
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if ddpdoc.IsDeleted(v) {
			cleared = append(cleared, k)
			continue
		}
		out[k] = s.codec.Encode(v)
	}
	if len(out) == 0 {
		out = nil
	}
	return out, cleared
}

func (s *Session) decodeParams(params []any) []any {
	if params == nil {
		return nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = s.codec.Decode(p)
	}
	return out
}
