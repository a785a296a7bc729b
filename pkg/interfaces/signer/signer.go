// Package signer declares the key-holding contract every signing backend
// (a bare secp256k1 keypair, a NIP-46 remote bunker session, a NIP-07
// browser extension bridge) satisfies, so the rest of the tree can sign and
// encrypt without caring which one is behind it.
package signer

// I is satisfied by worker.orly.dev/pkg/crypto/p256k.Signer and by any
// remote-signing adapter that proxies the same operations over a NIP-46 or
// NIP-07 transport.
type I interface {
	// Generate creates a fresh keypair, replacing whatever this signer
	// currently holds.
	Generate() (err error)
	// InitSec loads an existing private key.
	InitSec(sec []byte) (err error)
	// Sec returns the raw private key bytes.
	Sec() []byte
	// Pub returns the raw 32-byte x-only public key.
	Pub() []byte
	// Sign produces a BIP-340 Schnorr signature over msg (an event id).
	Sign(msg []byte) (sig []byte, err error)
	// Verify checks a signature produced by Sign.
	Verify(msg, sig []byte) (valid bool, err error)
	// ECDH derives a shared secret with pub, the primitive NIP-04/NIP-44
	// encryption builds their conversation keys from.
	ECDH(pub []byte) (secret []byte, err error)
	// Zero wipes the private key material from memory.
	Zero()
}
