package cashu

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

// mintSignDLEQ reproduces the mint side of NUT-12 so the verifier can be
// exercised against a self-consistent proof without a live mint.
func mintSignDLEQ(t *testing.T, secret string, a btcec.ModNScalar) (cHex string, proof DLEQ, A btcec.JacobianPoint) {
	t.Helper()

	scalarBaseMul(&a, &A)
	A.ToAffine()

	yHex, err := YPoint([]byte(secret))
	require.NoError(t, err)
	Y, err := parsePoint(yHex)
	require.NoError(t, err)

	var C btcec.JacobianPoint
	scalarMul(&a, Y, &C)
	C.ToAffine()

	var r btcec.ModNScalar
	rb := frand.Bytes(32)
	for overflow := r.SetByteSlice(rb); overflow; {
		rb = frand.Bytes(32)
		overflow = r.SetByteSlice(rb)
	}

	var R1, R2 btcec.JacobianPoint
	scalarBaseMul(&r, &R1)
	R1.ToAffine()
	scalarMul(&r, Y, &R2)
	R2.ToAffine()

	e := hashToScalar(compress(&R1), compress(&R2), compress(&A), compress(&C))

	var ea, s btcec.ModNScalar
	ea.Mul2(&e, &a)
	s.Add2(&r, &ea)

	eBytes := e.Bytes()
	sBytes := s.Bytes()
	proof = DLEQ{E: hex.EncodeToString(eBytes[:]), S: hex.EncodeToString(sBytes[:])}
	cHex = hex.EncodeToString(compress(&C))
	return
}

func TestVerifyDLEQAcceptsValidProof(t *testing.T) {
	var a btcec.ModNScalar
	ab := frand.Bytes(32)
	for overflow := a.SetByteSlice(ab); overflow; {
		ab = frand.Bytes(32)
		overflow = a.SetByteSlice(ab)
	}

	secret := "test-secret-for-dleq"
	cHex, dleq, A := mintSignDLEQ(t, secret, a)

	p := Proof{Secret: secret, C: cHex, DLEQ: &dleq}
	y, err := VerifyDLEQ(p, hex.EncodeToString(compress(&A)))
	require.NoError(t, err)
	want, _ := YPoint([]byte(secret))
	require.Equal(t, want, y)
}

func TestVerifyDLEQRejectsTamperedChallenge(t *testing.T) {
	var a btcec.ModNScalar
	ab := frand.Bytes(32)
	for overflow := a.SetByteSlice(ab); overflow; {
		ab = frand.Bytes(32)
		overflow = a.SetByteSlice(ab)
	}

	secret := "another-secret"
	cHex, dleq, A := mintSignDLEQ(t, secret, a)
	dleq.E = hex.EncodeToString(frand.Bytes(32))

	p := Proof{Secret: secret, C: cHex, DLEQ: &dleq}
	y, err := VerifyDLEQ(p, hex.EncodeToString(compress(&A)))
	require.NoError(t, err)
	require.Empty(t, y, "expected a tampered challenge to fail verification")
}
