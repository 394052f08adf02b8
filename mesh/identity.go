package mesh

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IdentitySize is the fixed length of a peer identity token
const IdentitySize = 16

// IdentityHash derives the short hash used to key sub-interfaces and
// fragmentation state: 16 hex characters of the SHA-256 of the token.
func IdentityHash(identity []byte) string {
	sum := sha256.Sum256(identity)
	return hex.EncodeToString(sum[:8])
}

// shortHash trims an identity hash for log lines
func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func shortAddr(address string) string {
	if len(address) > 8 {
		return address[:8]
	}
	return address
}

// normalizeAddress strips separators and lowercases so addresses compare
// as hex digit strings.
func normalizeAddress(address string) string {
	address = strings.ToLower(address)
	address = strings.ReplaceAll(address, ":", "")
	return strings.ReplaceAll(address, "-", "")
}

// localInitiates implements the deterministic tie-break between two nodes
// that could both initiate: the numerically lower address connects, the
// higher one stays passive. Addresses are compared as left-zero-padded hex
// strings, which matches integer comparison without an integer width cap.
func localInitiates(local, remote string) bool {
	a := normalizeAddress(local)
	b := normalizeAddress(remote)
	for len(a) < len(b) {
		a = "0" + a
	}
	for len(b) < len(a) {
		b = "0" + b
	}
	return a < b
}
