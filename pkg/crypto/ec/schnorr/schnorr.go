// Package schnorr wraps github.com/btcsuite/btcd/btcec/v2/schnorr, the
// BIP-340 implementation nostr's event signatures and x-only pubkeys are
// built on.
package schnorr

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// PubKeyBytesLen is the length of a serialized x-only public key, and of a
// nostr pubkey/event-author field.
const PubKeyBytesLen = schnorr.PubKeyBytesLen

// Signature is a BIP-340 schnorr signature.
type Signature = schnorr.Signature

// SerializePubKey returns the 32-byte x-only encoding of pk.
func SerializePubKey(pk *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(pk)
}

// ParsePubKey parses a 32-byte x-only public key.
func ParsePubKey(b []byte) (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(b)
}

// Sign produces a BIP-340 signature of hash using sk.
func Sign(sk *btcec.PrivateKey, hash []byte) (*Signature, error) {
	return schnorr.Sign(sk, hash)
}

// Verify checks a BIP-340 signature of hash against pk.
func Verify(sig *Signature, hash []byte, pk *btcec.PublicKey) bool {
	return sig.Verify(hash, pk)
}

// ParseSignature parses a 64-byte serialized schnorr signature.
func ParseSignature(b []byte) (*Signature, error) {
	return schnorr.ParseSignature(b)
}
