package signer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"hash"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
	"worker.orly.dev/pkg/cashu"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
	"worker.orly.dev/pkg/crypto/p256k"
	"worker.orly.dev/pkg/encoders/hex"
)

// dleqDomain mirrors cashu's unexported domain separator for the DLEQ
// challenge hash, so this test can recompute the same challenge the mint
// side would produce without reaching into cashu's internals.
const dleqDomain = "Secp256k1_HashToCurve_Cashu_DLEQ_"

func dleqHasher() hash.Hash {
	h := sha256.New()
	h.Write([]byte(dleqDomain))
	return h
}

func compressPoint(p *btcec.JacobianPoint) []byte {
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

func newPrivateKeyService(t *testing.T) (*Service, *p256k.Signer) {
	t.Helper()
	key := &p256k.Signer{}
	require.NoError(t, key.Generate())
	s := New()
	s.UsePrivateKey(key)
	return s, key
}

func TestGetPubkeyMatchesKey(t *testing.T) {
	s, key := newPrivateKeyService(t)
	resp := s.Handle(context.Background(), Request{RequestID: 1, Op: OpGetPubkey})
	require.Empty(t, resp.Error)
	require.Equal(t, hex.Enc(key.Pub()), resp.Result)
}

func TestSignEventProducesValidSignature(t *testing.T) {
	s, _ := newPrivateKeyService(t)
	template := `{"kind":1,"created_at":1700000000,"tags":[],"content":"hello"}`
	resp := s.Handle(context.Background(), Request{Op: OpSignEvent, Payload: template})
	require.Empty(t, resp.Error)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Result), &out))
	require.NotNil(t, out["sig"])
	require.NotNil(t, out["id"])
	require.NotNil(t, out["pubkey"])
}

func TestNip44EncryptDecryptRoundTrip(t *testing.T) {
	alice, aliceKey := newPrivateKeyService(t)
	bob, bobKey := newPrivateKeyService(t)

	encResp := alice.Handle(
		context.Background(),
		Request{Op: OpNip44Encrypt, Pubkey: bobKey.Pub(), Payload: "hi bob"},
	)
	require.Empty(t, encResp.Error)

	decResp := bob.Handle(
		context.Background(),
		Request{Op: OpNip44Decrypt, Pubkey: aliceKey.Pub(), Payload: encResp.Result},
	)
	require.Empty(t, decResp.Error)
	require.Equal(t, "hi bob", decResp.Result)
}

func TestNip04EncryptDecryptRoundTrip(t *testing.T) {
	alice, aliceKey := newPrivateKeyService(t)
	bob, bobKey := newPrivateKeyService(t)

	encResp := alice.Handle(
		context.Background(),
		Request{Op: OpNip04Encrypt, Pubkey: bobKey.Pub(), Payload: "legacy dm"},
	)
	require.Empty(t, encResp.Error)

	decResp := bob.Handle(
		context.Background(),
		Request{Op: OpNip04Decrypt, Pubkey: aliceKey.Pub(), Payload: encResp.Result},
	)
	require.Empty(t, decResp.Error)
	require.Equal(t, "legacy dm", decResp.Result)
}

func TestDecryptBetweenPicksNonLocalPeer(t *testing.T) {
	alice, aliceKey := newPrivateKeyService(t)
	bob, bobKey := newPrivateKeyService(t)

	encResp := alice.Handle(
		context.Background(),
		Request{Op: OpNip44Encrypt, Pubkey: bobKey.Pub(), Payload: "between us"},
	)
	require.Empty(t, encResp.Error)

	// bob decrypts a message where he is listed as the recipient and alice
	// as the sender; bob's cached pubkey must resolve to alice as the peer.
	decResp := bob.Handle(
		context.Background(),
		Request{
			Op:              OpNip44DecryptBetween,
			SenderPubkey:    aliceKey.Pub(),
			RecipientPubkey: bobKey.Pub(),
			Payload:         encResp.Result,
		},
	)
	require.Empty(t, decResp.Error)
	require.Equal(t, "between us", decResp.Result)
}

func TestAuthEventSignsKind22242(t *testing.T) {
	s, _ := newPrivateKeyService(t)
	payload := `{"challenge":"abc123","relay":"wss://relay.example","created_at":1700000000}`
	resp := s.Handle(context.Background(), Request{Op: OpAuthEvent, Payload: payload})
	require.Empty(t, resp.Error)
	var out authEventResult
	require.NoError(t, json.Unmarshal([]byte(resp.Result), &out))
	require.Equal(t, "wss://relay.example", out.Relay)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(out.Event, &ev))
	require.Equal(t, float64(AuthEventKind), ev["kind"])
}

// mintSignDLEQ mirrors the mint side of NUT-12 using only exported btcec
// primitives, so VerifyProof can be exercised without a live mint.
func mintSignDLEQ(t *testing.T, secret string) (proofCHex string, dleq dleqIn, mintPubHex string) {
	t.Helper()
	var a btcec.ModNScalar
	ab := frand.Bytes(32)
	for overflow := a.SetByteSlice(ab); overflow; {
		ab = frand.Bytes(32)
		overflow = a.SetByteSlice(ab)
	}

	var A btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&a, &A)
	A.ToAffine()

	yHex, err := cashu.YPoint([]byte(secret))
	require.NoError(t, err)
	yBytes, err := hex.Dec(yHex)
	require.NoError(t, err)
	Ypub, err := secp256k1.ParsePubKey(yBytes)
	require.NoError(t, err)
	var Y btcec.JacobianPoint
	Ypub.AsJacobian(&Y)

	var C btcec.JacobianPoint
	btcec.ScalarMultNonConst(&a, &Y, &C)
	C.ToAffine()

	var r btcec.ModNScalar
	rb := frand.Bytes(32)
	for overflow := r.SetByteSlice(rb); overflow; {
		rb = frand.Bytes(32)
		overflow = r.SetByteSlice(rb)
	}

	var R1, R2 btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&r, &R1)
	R1.ToAffine()
	btcec.ScalarMultNonConst(&r, &Y, &R2)
	R2.ToAffine()

	e := hashChallenge(t, &R1, &R2, &A, &C)

	var ea, s btcec.ModNScalar
	ea.Mul2(&e, &a)
	s.Add2(&r, &ea)

	eBytes := e.Bytes()
	sBytes := s.Bytes()
	dleq = dleqIn{E: hex.Enc(eBytes[:]), S: hex.Enc(sBytes[:])}
	proofCHex = hex.Enc(compressPoint(&C))
	mintPubHex = hex.Enc(compressPoint(&A))
	return
}

func hashChallenge(t *testing.T, r1, r2, A, C *btcec.JacobianPoint) btcec.ModNScalar {
	t.Helper()
	// Re-derive the same challenge cashu.VerifyDLEQ computes, using only
	// the compressed point encoding it relies on.
	var s btcec.ModNScalar
	h := dleqHasher()
	h.Write(compressPoint(r1))
	h.Write(compressPoint(r2))
	h.Write(compressPoint(A))
	h.Write(compressPoint(C))
	s.SetByteSlice(h.Sum(nil))
	return s
}

func TestVerifyProofAcceptsValidDLEQ(t *testing.T) {
	secret := "signer-dleq-secret"
	cHex, dleq, mintPub := mintSignDLEQ(t, secret)

	payload, err := json.Marshal(
		verifyProofRequest{
			Proof: verifyProofJSON{
				Amount: 4,
				Secret: secret,
				C:      cHex,
				DLEQ:   &dleq,
			},
			MintKeys: map[string]string{"4": mintPub},
		},
	)
	require.NoError(t, err)

	s := New()
	resp := s.Handle(context.Background(), Request{Op: OpVerifyProof, Payload: string(payload)})
	require.Empty(t, resp.Error)
	want, _ := cashu.YPoint([]byte(secret))
	require.Equal(t, want, resp.Result)
}

func TestVerifyProofRejectsMissingMintKey(t *testing.T) {
	secret := "signer-dleq-secret-2"
	cHex, dleq, _ := mintSignDLEQ(t, secret)

	payload, err := json.Marshal(
		verifyProofRequest{
			Proof: verifyProofJSON{
				Amount: 8,
				Secret: secret,
				C:      cHex,
				DLEQ:   &dleq,
			},
			MintKeys: map[string]string{},
		},
	)
	require.NoError(t, err)

	s := New()
	resp := s.Handle(context.Background(), Request{Op: OpVerifyProof, Payload: string(payload)})
	require.Empty(t, resp.Error)
	require.Empty(t, resp.Result, "expected no result when the mint key is unknown")
}

func TestPayZapInvoiceErrorsWithoutConfiguredWallet(t *testing.T) {
	s := New()
	resp := s.Handle(context.Background(), Request{Op: OpPayZapInvoice, Payload: "lnbc1..."})
	require.NotEmpty(t, resp.Error, "expected an error when no NWC wallet is configured")
}
