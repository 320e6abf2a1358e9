/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package ddpsession

// SupportedVersions lists the protocol versions this distribution
// implements, in the server's preference order (spec.md §6).
var SupportedVersions = []string{"1a", "1", "pre2", "pre1"}

// Negotiate picks the first version of SupportedVersions that also
// appears in the client's proposed support list. The caller (the
// connect handshake, owned by pkg/ddpserver) replies "failed" when ok
// is false or the chosen version differs from what the client asked for.
func Negotiate(clientSupport []string) (version string, ok bool) {
	offered := make(map[string]struct{}, len(clientSupport))
	for _, v := range clientSupport {
		offered[v] = struct{}{}
	}
	for _, v := range SupportedVersions {
		if _, present := offered[v]; present {
			return v, true
		}
	}
	return "", false
}
