// Package encryption implements NIP-44 v2 payload encryption, the
// authenticated-encryption scheme nostr direct messages, NIP-46 bunker
// traffic and the NWC client use to protect their content fields.
package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
	"lol.mleku.dev/errorf"
	"lukechampine.com/frand"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
)

const (
	version    = 2
	minPlain   = 1
	maxPlain   = 0xffff
	nonceLen   = 32
	macLen     = 32
	saltString = "nip44-v2"
)

// ConversationKey derives the shared NIP-44 v2 conversation key between a
// local secret key and a remote x-only public key.
func ConversationKey(sk *secp256k1.SecretKey, pub []byte) (key []byte, err error) {
	var shared []byte
	if shared, err = secp256k1.ECDH(sk, pub); err != nil {
		return
	}
	h := hkdf.Extract(sha256.New, shared, []byte(saltString))
	key = h
	return
}

// Encrypt pads and encrypts plaintext with the given 32-byte conversation
// key, returning the base64-encoded NIP-44 v2 payload.
func Encrypt(plaintext, key []byte) (payload []byte, err error) {
	if len(key) != 32 {
		err = errorf.E("encryption: conversation key must be 32 bytes")
		return
	}
	nonce := make([]byte, nonceLen)
	if _, err = frand.Read(nonce); err != nil {
		return
	}
	return encryptWithNonce(plaintext, key, nonce)
}

func encryptWithNonce(plaintext, key, nonce []byte) (payload []byte, err error) {
	if len(plaintext) < minPlain || len(plaintext) > maxPlain {
		err = errorf.E("encryption: plaintext length %d out of range", len(plaintext))
		return
	}
	expanded := make([]byte, 0, 76)
	r := hkdf.Expand(sha256.New, key, nonce)
	expanded = append(expanded, make([]byte, 76)...)
	if _, err = r.Read(expanded); err != nil {
		return
	}
	chachaKey := expanded[:32]
	chachaNonce := expanded[32:44]
	hmacKey := expanded[44:76]

	padded := pad(plaintext)

	cipher, cErr := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if cErr != nil {
		err = cErr
		return
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)

	mac := computeMAC(hmacKey, nonce, ciphertext)

	raw := make([]byte, 0, 1+nonceLen+len(ciphertext)+macLen)
	raw = append(raw, byte(version))
	raw = append(raw, nonce...)
	raw = append(raw, ciphertext...)
	raw = append(raw, mac...)

	enc := base64.StdEncoding.EncodeToString(raw)
	payload = []byte(enc)
	return
}

// Decrypt verifies and decrypts a base64-encoded NIP-44 v2 payload with the
// given 32-byte conversation key.
func Decrypt(payload, key []byte) (plaintext []byte, err error) {
	if len(key) != 32 {
		err = errorf.E("encryption: conversation key must be 32 bytes")
		return
	}
	var raw []byte
	if raw, err = base64.StdEncoding.DecodeString(string(payload)); err != nil {
		return
	}
	if len(raw) < 1+nonceLen+macLen {
		err = errorf.E("encryption: payload too short")
		return
	}
	if raw[0] != version {
		err = errorf.E("encryption: unsupported version %d", raw[0])
		return
	}
	nonce := raw[1 : 1+nonceLen]
	ciphertext := raw[1+nonceLen : len(raw)-macLen]
	mac := raw[len(raw)-macLen:]

	expanded := make([]byte, 76)
	r := hkdf.Expand(sha256.New, key, nonce)
	if _, err = r.Read(expanded); err != nil {
		return
	}
	chachaKey := expanded[:32]
	chachaNonce := expanded[32:44]
	hmacKey := expanded[44:76]

	expectedMAC := computeMAC(hmacKey, nonce, ciphertext)
	if !hmac.Equal(mac, expectedMAC) {
		err = errorf.E("encryption: mac mismatch")
		return
	}

	cipher, cErr := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if cErr != nil {
		err = cErr
		return
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)

	plaintext, err = unpad(padded)
	return
}

func computeMAC(key, nonce, ciphertext []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(nonce)
	m.Write(ciphertext)
	return m.Sum(nil)
}

// pad implements NIP-44's custom length-prefixed, power-of-two bucketed
// padding scheme, which hides the exact plaintext length to a coarse
// granularity.
func pad(plaintext []byte) []byte {
	unpaddedLen := len(plaintext)
	prefix := make([]byte, 2)
	prefix[0] = byte(unpaddedLen >> 8)
	prefix[1] = byte(unpaddedLen)
	paddedLen := calcPaddedLen(unpaddedLen)
	out := make([]byte, 2+paddedLen)
	copy(out, prefix)
	copy(out[2:], plaintext)
	return out
}

func unpad(padded []byte) (plaintext []byte, err error) {
	if len(padded) < 2 {
		err = errorf.E("encryption: padded content too short")
		return
	}
	unpaddedLen := int(padded[0])<<8 | int(padded[1])
	if unpaddedLen == 0 || 2+unpaddedLen > len(padded) {
		err = errorf.E("encryption: invalid padding length")
		return
	}
	if len(padded) != 2+calcPaddedLen(unpaddedLen) {
		err = errorf.E("encryption: padding length does not match bucket size")
		return
	}
	plaintext = padded[2 : 2+unpaddedLen]
	return
}

func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}
	nextPower := 1
	for nextPower <= unpaddedLen-1 {
		nextPower <<= 1
	}
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((unpaddedLen-1)/chunk + 1)
}
