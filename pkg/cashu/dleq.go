package cashu

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
)

// dleqDomain separates the DLEQ challenge hash from the hash-to-curve
// derivation in YPoint, even though both start from the same prefix family.
const dleqDomain = "Secp256k1_HashToCurve_Cashu_DLEQ_"

// VerifyDLEQ checks a mint's non-interactive discrete-log-equality proof
// for one Cashu Proof against the mint's public key for that proof's
// amount/keyset, returning the proof's Y-point hex on success and an empty
// string when the proof does not verify.
//
// It reconstructs R1 = s*G - e*A and R2 = s*Y - e*C, recomputes the
// challenge e' = hash_to_scalar(R1 || R2 || A || C), and accepts the proof
// iff e' == e.
func VerifyDLEQ(p Proof, mintPubkeyHex string) (y string, err error) {
	if p.DLEQ == nil {
		err = errorf.E("cashu: proof has no DLEQ data")
		return
	}
	var yHex string
	if yHex, err = YPoint([]byte(p.Secret)); err != nil {
		return
	}

	A, err := parsePoint(mintPubkeyHex)
	if err != nil {
		return
	}
	C, err := parsePoint(p.C)
	if err != nil {
		return
	}
	Y, err := parsePoint(yHex)
	if err != nil {
		return
	}
	e, err := parseScalar(p.DLEQ.E)
	if err != nil {
		return
	}
	s, err := parseScalar(p.DLEQ.S)
	if err != nil {
		return
	}

	var sG, eA, r1 btcec.JacobianPoint
	scalarBaseMul(&s, &sG)
	scalarMul(&e, A, &eA)
	negate(&eA)
	btcec.AddNonConst(&sG, &eA, &r1)
	r1.ToAffine()

	var sY, eC, r2 btcec.JacobianPoint
	scalarMul(&s, Y, &sY)
	scalarMul(&e, C, &eC)
	negate(&eC)
	btcec.AddNonConst(&sY, &eC, &r2)
	r2.ToAffine()

	challenge := hashToScalar(
		compress(&r1), compress(&r2), compress(A), compress(C),
	)
	if challenge.Equals(&e) {
		y = yHex
	}
	return
}

func parsePoint(h string) (p *btcec.JacobianPoint, err error) {
	b, derr := hex.DecodeString(h)
	if derr != nil {
		err = errorf.E("cashu: dleq point hex: %w", derr)
		return
	}
	pk, perr := secp256k1.ParsePubKey(b)
	if perr != nil {
		err = errorf.E("cashu: dleq point parse: %w", perr)
		return
	}
	p = new(btcec.JacobianPoint)
	pk.AsJacobian(p)
	return
}

func parseScalar(h string) (s btcec.ModNScalar, err error) {
	b, derr := hex.DecodeString(h)
	if derr != nil {
		err = errorf.E("cashu: dleq scalar hex: %w", derr)
		return
	}
	if overflow := s.SetByteSlice(b); overflow {
		err = errorf.E("cashu: dleq scalar overflows curve order")
		return
	}
	return
}

func scalarBaseMul(k *btcec.ModNScalar, result *btcec.JacobianPoint) {
	btcec.ScalarBaseMultNonConst(k, result)
}

func scalarMul(k *btcec.ModNScalar, point *btcec.JacobianPoint, result *btcec.JacobianPoint) {
	btcec.ScalarMultNonConst(k, point, result)
}

func negate(p *btcec.JacobianPoint) {
	p.Y.Negate(1).Normalize()
}

func compress(p *btcec.JacobianPoint) []byte {
	cp := *p
	cp.ToAffine()
	out := make([]byte, 0, 33)
	if cp.Y.IsOdd() {
		out = append(out, 0x03)
	} else {
		out = append(out, 0x02)
	}
	xBytes := cp.X.Bytes()
	out = append(out, xBytes[:]...)
	return out
}

func hashToScalar(parts ...[]byte) (s btcec.ModNScalar) {
	h := sha256.New()
	h.Write([]byte(dleqDomain))
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	s.SetByteSlice(sum)
	return
}
