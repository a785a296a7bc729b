package cashu

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"worker.orly.dev/pkg/crypto/ec/secp256k1"
)

// domainSeparator is prepended to a proof's secret before the first hash, so
// the resulting digest cannot collide with a point derived for any other
// purpose from the same bytes.
const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

// maxCounter bounds the search for a valid curve point. Exhausting it is an
// invariant violation: for well-formed secrets it cannot happen.
const maxCounter = 1 << 16

// YPoint derives the deterministic, domain-separated Y-point of a proof's
// secret: msg = SHA256(domainSeparator || secret); for counter = 0, 1, 2...
// candidate = SHA256(msg || u16_le(counter)), prefixed with 0x02 and
// interpreted as a compressed secp256k1 point; the first counter that yields
// a valid point wins. Returns the compressed 33-byte point hex-encoded.
func YPoint(secret []byte) (y string, err error) {
	h := sha256.Sum256(append([]byte(domainSeparator), secret...))
	for counter := 0; counter < maxCounter; counter++ {
		var ctr [2]byte
		binary.LittleEndian.PutUint16(ctr[:], uint16(counter))
		candidate := sha256.Sum256(append(h[:], ctr[:]...))
		point := make([]byte, 0, 33)
		point = append(point, 0x02)
		point = append(point, candidate[:]...)
		if _, perr := secp256k1.ParsePubKey(point); perr == nil {
			y = hex.EncodeToString(point)
			return
		}
	}
	panic("cashu: hash-to-curve exhausted 2^16 counters, secret is malformed")
}
