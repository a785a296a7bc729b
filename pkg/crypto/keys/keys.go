// Package keys provides free-function helpers over raw secret/public key
// bytes, for call sites that just need a keypair without the overhead of a
// full signer.I.
package keys

import (
	"worker.orly.dev/pkg/crypto/ec/schnorr"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
	"worker.orly.dev/pkg/encoders/hex"
)

// GenerateSecretKey returns a fresh random 32-byte secret key.
func GenerateSecretKey() (sk []byte, err error) {
	var k *secp256k1.SecretKey
	if k, err = secp256k1.GenerateSecretKey(); err != nil {
		return
	}
	sk = k.Serialize()
	return
}

// SecretBytesToPubKeyHex derives the hex-encoded x-only public key for a
// 32-byte secret key.
func SecretBytesToPubKeyHex(sk []byte) (pub string, err error) {
	var pk []byte
	if pk, err = SecretBytesToPubKeyBytes(sk); err != nil {
		return
	}
	pub = hex.Enc(pk)
	return
}

// SecretBytesToPubKeyBytes derives the 32-byte x-only public key for a
// 32-byte secret key.
func SecretBytesToPubKeyBytes(sk []byte) (pub []byte, err error) {
	k := secp256k1.SecKeyFromBytes(sk)
	pub = schnorr.SerializePubKey(k.PubKey())
	return
}
