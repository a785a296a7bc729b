package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"

	"lol.mleku.dev/errorf"
	"lukechampine.com/frand"
)

// EncryptNIP04 encrypts plaintext with AES-256-CBC under the raw ECDH
// shared secret (32 bytes, the x-coordinate sk*pub), PKCS#7-padded and
// returned as "<base64 ciphertext>?iv=<base64 iv>" per NIP-04. This is the
// legacy direct-message scheme NIP-44 superseded; no ecosystem library
// implements this exact wire format, so it is built directly on
// crypto/aes+crypto/cipher.
func EncryptNIP04(plaintext, sharedSecret []byte) (payload []byte, err error) {
	if len(sharedSecret) != 32 {
		err = errorf.E("encryption: nip04 shared secret must be 32 bytes")
		return
	}
	block, berr := aes.NewCipher(sharedSecret)
	if berr != nil {
		err = errorf.E("encryption: nip04 aes init: %w", berr)
		return
	}
	iv := make([]byte, aes.BlockSize)
	if _, err = frand.Read(iv); err != nil {
		return
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	enc := base64.StdEncoding.EncodeToString(ciphertext)
	ivEnc := base64.StdEncoding.EncodeToString(iv)
	payload = []byte(enc + "?iv=" + ivEnc)
	return
}

// DecryptNIP04 reverses EncryptNIP04.
func DecryptNIP04(payload, sharedSecret []byte) (plaintext []byte, err error) {
	if len(sharedSecret) != 32 {
		err = errorf.E("encryption: nip04 shared secret must be 32 bytes")
		return
	}
	parts := strings.SplitN(string(payload), "?iv=", 2)
	if len(parts) != 2 {
		err = errorf.E("encryption: nip04 payload missing iv parameter")
		return
	}
	ciphertext, derr := base64.StdEncoding.DecodeString(parts[0])
	if derr != nil {
		err = errorf.E("encryption: nip04 ciphertext base64: %w", derr)
		return
	}
	iv, derr := base64.StdEncoding.DecodeString(parts[1])
	if derr != nil {
		err = errorf.E("encryption: nip04 iv base64: %w", derr)
		return
	}
	if len(iv) != aes.BlockSize {
		err = errorf.E("encryption: nip04 iv must be %d bytes", aes.BlockSize)
		return
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		err = errorf.E("encryption: nip04 ciphertext is not block-aligned")
		return
	}
	block, berr := aes.NewCipher(sharedSecret)
	if berr != nil {
		err = errorf.E("encryption: nip04 aes init: %w", berr)
		return
	}
	padded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(padded, ciphertext)
	if plaintext, err = pkcs7Unpad(padded); err != nil {
		return
	}
	return
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+padLen)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(b []byte) (out []byte, err error) {
	if len(b) == 0 {
		err = errorf.E("encryption: nip04 empty plaintext block")
		return
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > len(b) {
		err = errorf.E("encryption: nip04 invalid padding")
		return
	}
	out = b[:len(b)-padLen]
	return
}
