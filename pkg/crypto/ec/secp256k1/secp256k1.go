// Package secp256k1 wraps github.com/btcsuite/btcd/btcec/v2 with the
// SecretKey/PublicKey names and constructors the rest of this module's
// signing code expects.
package secp256k1

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"lol.mleku.dev/errorf"
)

// SecretKey is a secp256k1 private key.
type SecretKey = btcec.PrivateKey

// PublicKey is a secp256k1 public key.
type PublicKey = btcec.PublicKey

// GenerateSecretKey returns a fresh random secret key.
func GenerateSecretKey() (sk *SecretKey, err error) {
	return btcec.NewPrivateKey()
}

// SecKeyFromBytes parses a 32-byte big-endian secret key.
func SecKeyFromBytes(b []byte) (sk *SecretKey) {
	sk, _ = btcec.PrivKeyFromBytes(b)
	return
}

// ParsePubKey parses a compressed or uncompressed secp256k1 public key.
func ParsePubKey(b []byte) (pk *PublicKey, err error) {
	return btcec.ParsePubKey(b)
}

// ECDH derives the NIP-44 shared x coordinate of sk * pub, where pub is a
// 32-byte x-only (even-y) public key.
func ECDH(sk *SecretKey, xOnlyPub []byte) (shared []byte, err error) {
	if len(xOnlyPub) != 32 {
		err = errorf.E("secp256k1: pubkey must be 32 bytes, got %d", len(xOnlyPub))
		return
	}
	full := make([]byte, 0, 33)
	full = append(full, 0x02)
	full = append(full, xOnlyPub...)
	var pk *PublicKey
	if pk, err = btcec.ParsePubKey(full); err != nil {
		return
	}
	var point, result btcec.JacobianPoint
	pk.AsJacobian(&point)
	btcec.ScalarMultNonConst(&sk.Key, &point, &result)
	result.ToAffine()
	x := result.X.Bytes()
	shared = x[:]
	return
}
