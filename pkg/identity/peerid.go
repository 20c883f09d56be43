package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PeerID string forms recognized out of band. Only the
// 16-hex short form ever appears on the wire.
const (
	PrefixMesh  = "mesh:"
	PrefixName  = "name:"
	PrefixNoise = "noise:"
	PrefixNostr = "nostr:"
	PrefixNostrUnderscore = "nostr_"
)

var knownColonPrefixes = []string{PrefixMesh, PrefixName, PrefixNoise, PrefixNostr}

// ShortIDFromPublicKey derives the 16-hex short routing id: the first
// 8 bytes of SHA-256(publicKey), hex encoded.
func ShortIDFromPublicKey(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// ToShort collapses any recognized PeerID string form to its derived
// 16-hex short id. The derivation is deterministic and stable: a full
// 64-hex static public key hashes to its short id; an already-short
// 16-hex id passes through unchanged; any other out-of-band identifier
// (name:, nostr:, ...) is hashed as an opaque string so two callers
// presented with the same out-of-band string always agree on the same
// short id.
func ToShort(peerID string) string {
	s := peerID
	for _, p := range knownColonPrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimPrefix(s, PrefixNostrUnderscore)

	switch {
	case isHex(s) && len(s) == 16:
		return strings.ToLower(s)
	case isHex(s) && len(s) == 64:
		if raw, err := hex.DecodeString(s); err == nil {
			return ShortIDFromPublicKey(raw)
		}
	}

	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func isHex(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
