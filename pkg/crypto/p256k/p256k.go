// Package p256k is the default signer.I implementation: a secp256k1/BIP-340
// keypair held in memory, used directly by C5 when no external NIP-46
// bunker is configured.
package p256k

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/crypto/ec/schnorr"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
)

// Signer holds a secp256k1 keypair and implements signer.I.
type Signer struct {
	sk  *secp256k1.SecretKey
	pub []byte
}

// Generate creates a fresh random keypair.
func (s *Signer) Generate() (err error) {
	var sk *secp256k1.SecretKey
	if sk, err = secp256k1.GenerateSecretKey(); err != nil {
		return
	}
	s.sk = sk
	s.pub = schnorr.SerializePubKey(sk.PubKey())
	return
}

// InitSec adopts an existing 32-byte secret key.
func (s *Signer) InitSec(sec []byte) (err error) {
	if len(sec) != 32 {
		err = errorf.E("p256k: secret key must be 32 bytes, got %d", len(sec))
		return
	}
	s.sk = secp256k1.SecKeyFromBytes(sec)
	s.pub = schnorr.SerializePubKey(s.sk.PubKey())
	return
}

// Sec returns the raw 32-byte secret key.
func (s *Signer) Sec() []byte {
	if s.sk == nil {
		return nil
	}
	b := s.sk.Serialize()
	return b
}

// Pub returns the raw 32-byte x-only public key.
func (s *Signer) Pub() []byte { return s.pub }

// Sign returns a 64-byte BIP-340 signature of msg.
func (s *Signer) Sign(msg []byte) (sig []byte, err error) {
	var sigObj *schnorr.Signature
	if sigObj, err = schnorr.Sign(s.sk, msg); err != nil {
		return
	}
	sig = sigObj.Serialize()
	return
}

// Verify checks a 64-byte BIP-340 signature of msg against pub.
func (s *Signer) Verify(msg, sig []byte) (valid bool, err error) {
	var pk *btcec.PublicKey
	if pk, err = schnorr.ParsePubKey(s.pub); err != nil {
		return
	}
	var sigObj *schnorr.Signature
	if sigObj, err = schnorr.ParseSignature(sig); err != nil {
		return
	}
	valid = schnorr.Verify(sigObj, msg, pk)
	return
}

// ECDH derives the NIP-44 shared secret: the x coordinate of
// sk*pub, where pub is interpreted as an x-only (even-y) point.
func (s *Signer) ECDH(pub []byte) (secret []byte, err error) {
	return secp256k1.ECDH(s.sk, pub)
}

// Zero wipes the secret key material from memory.
func (s *Signer) Zero() {
	if s.sk != nil {
		s.sk.Zero()
	}
	s.sk = nil
	s.pub = nil
}
