// Package cashu implements the Cashu proof-verification pipe: hash-to-curve
// Y-point derivation, DLEQ verification, and the online /v1/checkstate
// reconciliation loop that tells a nutzap or wallet event's proofs apart
// into spent/unspent/pending.
package cashu

// Witness is the tagged union a Proof's optional witness field carries.
type Witness struct {
	// Kind selects which of the fields below is populated.
	Kind WitnessKind
	// Plain is set when Kind == WitnessPlain.
	Plain string
	// P2PK is set when Kind == WitnessP2PK.
	P2PK struct {
		Signatures []string
	}
	// HTLC is set when Kind == WitnessHTLC.
	HTLC struct {
		Preimage   string
		Signatures []string
	}
}

// WitnessKind discriminates the Witness union.
type WitnessKind int

const (
	WitnessNone WitnessKind = iota
	WitnessPlain
	WitnessP2PK
	WitnessHTLC
)

// DLEQ is the non-interactive discrete-log-equality proof a mint attaches to
// a blind signature, attesting C and the mint's public key share a hidden
// scalar with the proof's B_ point.
type DLEQ struct {
	E string
	S string
	R string // optional; empty if absent
}

// Proof is one Cashu bearer token, as carried in a kind 9321 nutzap or a
// decrypted kind 7375 wallet/token event.
type Proof struct {
	Amount  uint64
	Secret  string
	C       string // blinded signature, hex compressed point
	ID      string // optional keyset id
	Version string // optional
	DLEQ    *DLEQ
	Witness *Witness
}
