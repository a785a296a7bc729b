// Package sha256 re-exports the standard library sha256 primitives used
// throughout the wire codecs, under this module's own pkg/crypto/sha256
// import path.
package sha256

import "crypto/sha256"

// Size is the length in bytes of a sha256 digest, and of a nostr event id.
const Size = sha256.Size

// Sum256 returns the sha256 digest of data.
func Sum256(data []byte) [Size]byte { return sha256.Sum256(data) }
