// Package signer implements the C5 component: it executes cryptographic
// operations on behalf of the parser and the UI, and holds at most one
// active signing session (none, a local private key, NIP-07, or NIP-46).
package signer

import (
	"context"
	"encoding/json"
	"sync"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/cashu"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
	"worker.orly.dev/pkg/crypto/encryption"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/tag"
	sgn "worker.orly.dev/pkg/interfaces/signer"
	"worker.orly.dev/pkg/protocol/nip46"
	"worker.orly.dev/pkg/protocol/nwc"
)

// Op is one of the request kinds the parser/UI can send over the
// parser<->signer port.
type Op uint8

const (
	OpGetPubkey Op = iota
	OpSignEvent
	OpNip04Encrypt
	OpNip04Decrypt
	OpNip44Encrypt
	OpNip44Decrypt
	OpNip04DecryptBetween
	OpNip44DecryptBetween
	OpAuthEvent
	OpVerifyProof
	OpPayZapInvoice
)

// Request is the decoded form of FlatBuffer SignerRequest.
type Request struct {
	RequestID       uint32
	Op              Op
	Payload         string
	Pubkey          []byte // peer pubkey, for single-peer ops
	SenderPubkey    []byte // for *DecryptBetween ops
	RecipientPubkey []byte
}

// Response is the decoded form of FlatBuffer SignerResponse.
type Response struct {
	RequestID uint32
	Result    string
	Error     string
}

// SessionType discriminates which signer backend is currently active.
type SessionType int

const (
	SessionNone SessionType = iota
	SessionPrivateKey
	SessionNIP07
	SessionNIP46
)

// ReadyNotice is posted to the main thread once a session is configured, so
// the UI can persist it across reloads.
type ReadyNotice struct {
	SignerType SessionType
	Pubkey     string
	BunkerURL  string
}

// NIP07 is the contract a `window.nostr`-backed browser signer must
// satisfy; every op maps 1:1 to a call on it and awaits its promise. There
// is no in-process implementation — a host environment with a `window`
// supplies one.
type NIP07 interface {
	GetPublicKey(ctx context.Context) (pub []byte, err error)
	SignEvent(ctx context.Context, eventJSON string) (signedJSON string, err error)
	Nip04Encrypt(ctx context.Context, peerPubkey, plaintext string) (ciphertext string, err error)
	Nip04Decrypt(ctx context.Context, peerPubkey, ciphertext string) (plaintext string, err error)
	Nip44Encrypt(ctx context.Context, peerPubkey, plaintext string) (ciphertext string, err error)
	Nip44Decrypt(ctx context.Context, peerPubkey, ciphertext string) (plaintext string, err error)
}

// Service is the C5 signer: it owns secret key material or a remote signer
// session, and dispatches Request to Response.
type Service struct {
	mu sync.Mutex

	sessionType SessionType
	key         sgn.I
	nip07       NIP07
	remote      *nip46.Client
	bunkerURL   string
	wallet      *nwc.Client

	userPubkey []byte

	onReady func(ReadyNotice)
}

// New returns a Service with no active session.
func New() *Service {
	return &Service{sessionType: SessionNone}
}

// OnReady registers the callback invoked once a session becomes active.
func (s *Service) OnReady(f func(ReadyNotice)) {
	s.mu.Lock()
	s.onReady = f
	s.mu.Unlock()
}

// UsePrivateKey adopts key as the local signing session.
func (s *Service) UsePrivateKey(key sgn.I) {
	s.mu.Lock()
	s.sessionType = SessionPrivateKey
	s.key = key
	s.userPubkey = key.Pub()
	s.mu.Unlock()
	s.notifyReady("")
}

// UseNIP07 adopts a browser-provided signer as the session.
func (s *Service) UseNIP07(n NIP07) {
	s.mu.Lock()
	s.sessionType = SessionNIP07
	s.nip07 = n
	s.mu.Unlock()
	s.notifyReady("")
}

// UseNIP46 adopts an already-paired remote signer client as the session.
// bunkerURL is recorded for the ready notice when the session was
// established in bunker mode (empty in QR mode).
func (s *Service) UseNIP46(remote *nip46.Client, bunkerURL string) {
	s.mu.Lock()
	s.sessionType = SessionNIP46
	s.remote = remote
	s.bunkerURL = bunkerURL
	s.mu.Unlock()
	s.notifyReady(bunkerURL)
}

// UseNWC configures an optional Nostr Wallet Connect client for zap
// settlement; it does not replace the active signing session, which can
// remain a local key, NIP-07, or NIP-46 session independently. A nil wallet
// (the default) leaves OpPayZapInvoice erroring out.
func (s *Service) UseNWC(wallet *nwc.Client) {
	s.mu.Lock()
	s.wallet = wallet
	s.mu.Unlock()
}

func (s *Service) notifyReady(bunkerURL string) {
	s.mu.Lock()
	cb := s.onReady
	st := s.sessionType
	pub := ""
	if s.userPubkey != nil {
		pub = hex.Enc(s.userPubkey)
	}
	s.mu.Unlock()
	if cb != nil {
		cb(ReadyNotice{SignerType: st, Pubkey: pub, BunkerURL: bunkerURL})
	}
}

// Handle executes one request and returns its response; it never panics on
// a malformed request, only on cashu.YPoint's documented invariant
// violation during VerifyProof.
func (s *Service) Handle(ctx context.Context, req Request) (resp Response) {
	resp.RequestID = req.RequestID
	result, err := s.dispatch(ctx, req)
	if err != nil {
		resp.Error = err.Error()
		return
	}
	resp.Result = result
	return
}

func (s *Service) dispatch(ctx context.Context, req Request) (result string, err error) {
	s.mu.Lock()
	st := s.sessionType
	s.mu.Unlock()
	if st == SessionNone && req.Op != OpVerifyProof && req.Op != OpPayZapInvoice {
		err = errorf.E("signer: no active session")
		return
	}

	switch req.Op {
	case OpGetPubkey:
		return s.getPubkey(ctx)
	case OpSignEvent:
		return s.signEvent(ctx, req.Payload)
	case OpNip04Encrypt:
		return s.encrypt(ctx, false, req.Pubkey, req.Payload)
	case OpNip04Decrypt:
		return s.decrypt(ctx, false, req.Pubkey, req.Payload)
	case OpNip44Encrypt:
		return s.encrypt(ctx, true, req.Pubkey, req.Payload)
	case OpNip44Decrypt:
		return s.decrypt(ctx, true, req.Pubkey, req.Payload)
	case OpNip04DecryptBetween:
		return s.decryptBetween(ctx, false, req.SenderPubkey, req.RecipientPubkey, req.Payload)
	case OpNip44DecryptBetween:
		return s.decryptBetween(ctx, true, req.SenderPubkey, req.RecipientPubkey, req.Payload)
	case OpAuthEvent:
		return s.authEvent(req.Payload)
	case OpVerifyProof:
		return s.verifyProof(req.Payload)
	case OpPayZapInvoice:
		return s.payZapInvoice(ctx, req.Payload)
	default:
		err = errorf.E("signer: unknown op %d", req.Op)
		return
	}
}

func (s *Service) getPubkey(ctx context.Context) (result string, err error) {
	s.mu.Lock()
	st, key, remote, nip07, cached := s.sessionType, s.key, s.remote, s.nip07, s.userPubkey
	s.mu.Unlock()
	if cached != nil {
		result = hex.Enc(cached)
		return
	}
	var pub []byte
	switch st {
	case SessionPrivateKey:
		pub = key.Pub()
	case SessionNIP07:
		if pub, err = nip07.GetPublicKey(ctx); chk.E(err) {
			return
		}
	case SessionNIP46:
		if pub, err = remote.GetPublicKey(ctx); chk.E(err) {
			return
		}
	default:
		err = errorf.E("signer: no active session")
		return
	}
	s.mu.Lock()
	s.userPubkey = pub
	s.mu.Unlock()
	result = hex.Enc(pub)
	return
}

func (s *Service) signEvent(ctx context.Context, templateJSON string) (result string, err error) {
	s.mu.Lock()
	st, key, remote, nip07 := s.sessionType, s.key, s.remote, s.nip07
	s.mu.Unlock()
	switch st {
	case SessionPrivateKey:
		ev := event.New()
		if err = ev.UnmarshalJSON([]byte(templateJSON)); chk.E(err) {
			return
		}
		if err = ev.Sign(key); chk.E(err) {
			return
		}
		var b []byte
		if b, err = ev.MarshalJSON(); chk.E(err) {
			return
		}
		result = string(b)
		return
	case SessionNIP07:
		return nip07.SignEvent(ctx, templateJSON)
	case SessionNIP46:
		return remote.SignEvent(ctx, templateJSON)
	default:
		err = errorf.E("signer: no active session")
		return
	}
}

func (s *Service) encrypt(ctx context.Context, nip44 bool, peerPub []byte, plaintext string) (result string, err error) {
	s.mu.Lock()
	st, key, remote, nip07 := s.sessionType, s.key, s.remote, s.nip07
	s.mu.Unlock()
	switch st {
	case SessionPrivateKey:
		var payload []byte
		if payload, err = localEncrypt(key, nip44, peerPub, []byte(plaintext)); chk.E(err) {
			return
		}
		result = string(payload)
		return
	case SessionNIP07:
		if nip44 {
			return nip07.Nip44Encrypt(ctx, hex.Enc(peerPub), plaintext)
		}
		return nip07.Nip04Encrypt(ctx, hex.Enc(peerPub), plaintext)
	case SessionNIP46:
		if nip44 {
			return remote.Nip44Encrypt(ctx, hex.Enc(peerPub), plaintext)
		}
		return remote.Nip04Encrypt(ctx, hex.Enc(peerPub), plaintext)
	default:
		err = errorf.E("signer: no active session")
		return
	}
}

func (s *Service) decrypt(ctx context.Context, nip44 bool, peerPub []byte, ciphertext string) (result string, err error) {
	s.mu.Lock()
	st, key, remote, nip07 := s.sessionType, s.key, s.remote, s.nip07
	s.mu.Unlock()
	switch st {
	case SessionPrivateKey:
		var plain []byte
		if plain, err = localDecrypt(key, nip44, peerPub, []byte(ciphertext)); chk.E(err) {
			return
		}
		result = string(plain)
		return
	case SessionNIP07:
		if nip44 {
			return nip07.Nip44Decrypt(ctx, hex.Enc(peerPub), ciphertext)
		}
		return nip07.Nip04Decrypt(ctx, hex.Enc(peerPub), ciphertext)
	case SessionNIP46:
		if nip44 {
			return remote.Nip44Decrypt(ctx, hex.Enc(peerPub), ciphertext)
		}
		return remote.Nip04Decrypt(ctx, hex.Enc(peerPub), ciphertext)
	default:
		err = errorf.E("signer: no active session")
		return
	}
}

// decryptBetween picks whichever of sender/recipient is not the cached
// local user as the decryption peer; the local user is never the peer.
func (s *Service) decryptBetween(
	ctx context.Context, nip44 bool, sender, recipient []byte, ciphertext string,
) (result string, err error) {
	s.mu.Lock()
	user := s.userPubkey
	s.mu.Unlock()
	if user == nil {
		if _, err = s.getPubkey(ctx); chk.E(err) {
			return
		}
		s.mu.Lock()
		user = s.userPubkey
		s.mu.Unlock()
	}
	peer := sender
	if bytesEqual(sender, user) {
		peer = recipient
	}
	return s.decrypt(ctx, nip44, peer, ciphertext)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// authEventRequest/authEventResult mirror the JSON shapes the AuthEvent op
// carries: {challenge, relay, created_at} in, {event, relay} out.
type authEventRequest struct {
	Challenge string `json:"challenge"`
	Relay     string `json:"relay"`
	CreatedAt int64  `json:"created_at"`
}

type authEventResult struct {
	Event json.RawMessage `json:"event"`
	Relay string          `json:"relay"`
}

// AuthEventKind is NIP-42's authentication event kind.
const AuthEventKind = 22242

func (s *Service) authEvent(payload string) (result string, err error) {
	s.mu.Lock()
	st, key := s.sessionType, s.key
	s.mu.Unlock()
	if st != SessionPrivateKey {
		err = errorf.E("signer: auth events require a local private key session")
		return
	}
	var in authEventRequest
	if err = json.Unmarshal([]byte(payload), &in); chk.E(err) {
		return
	}
	ev := &event.E{
		CreatedAt: in.CreatedAt,
		Kind:      AuthEventKind,
		Tags: tag.NewS(
			tag.NewFromAny("challenge", in.Challenge),
			tag.NewFromAny("relay", in.Relay),
		),
	}
	if err = ev.Sign(key); chk.E(err) {
		return
	}
	var evJSON []byte
	if evJSON, err = ev.MarshalJSON(); chk.E(err) {
		return
	}
	var out []byte
	if out, err = json.Marshal(
		authEventResult{Event: evJSON, Relay: in.Relay},
	); chk.E(err) {
		return
	}
	result = string(out)
	return
}

// verifyProofRequest mirrors VerifyProof's {proof, mint_keys} JSON input.
type verifyProofRequest struct {
	Proof    verifyProofJSON  `json:"proof"`
	MintKeys map[string]string `json:"mint_keys"`
}

type verifyProofJSON struct {
	Amount  uint64  `json:"amount"`
	Secret  string  `json:"secret"`
	C       string  `json:"C"`
	ID      string  `json:"id"`
	Version string  `json:"version"`
	DLEQ    *dleqIn `json:"dleq"`
}

type dleqIn struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r"`
}

func (s *Service) verifyProof(payload string) (result string, err error) {
	var in verifyProofRequest
	if err = json.Unmarshal([]byte(payload), &in); chk.E(err) {
		return
	}
	if in.Proof.DLEQ == nil {
		return
	}
	// mint_keys is keyed by decimal amount: the mint's per-keyset public
	// key that signed this denomination.
	mintKey, ok := in.MintKeys[jsonNumber(in.Proof.Amount)]
	if !ok {
		return
	}
	proof := cashu.Proof{
		Amount:  in.Proof.Amount,
		Secret:  in.Proof.Secret,
		C:       in.Proof.C,
		ID:      in.Proof.ID,
		Version: in.Proof.Version,
		DLEQ:    &cashu.DLEQ{E: in.Proof.DLEQ.E, S: in.Proof.DLEQ.S, R: in.Proof.DLEQ.R},
	}
	result, err = cashu.VerifyDLEQ(proof, mintKey)
	return
}

// payZapInvoiceResult mirrors PayZapInvoice's {preimage} JSON output.
type payZapInvoiceResult struct {
	Preimage string `json:"preimage"`
}

// payZapInvoice settles payload (a bolt11 invoice string) through the
// configured NWC wallet. It runs only when a caller of Handle sends
// OpPayZapInvoice; no pipe in this tree sends that op.
func (s *Service) payZapInvoice(ctx context.Context, payload string) (result string, err error) {
	s.mu.Lock()
	wallet := s.wallet
	s.mu.Unlock()
	if wallet == nil {
		err = errorf.E("signer: no NWC wallet configured")
		return
	}
	var preimage string
	if preimage, err = wallet.PayInvoice(ctx, payload); chk.E(err) {
		return
	}
	var out []byte
	if out, err = json.Marshal(payZapInvoiceResult{Preimage: preimage}); chk.E(err) {
		return
	}
	result = string(out)
	return
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func localEncrypt(key sgn.I, nip44 bool, peerPub, plaintext []byte) (payload []byte, err error) {
	if nip44 {
		var convKey []byte
		if convKey, err = nip44ConvKey(key, peerPub); chk.E(err) {
			return
		}
		return encryption.Encrypt(plaintext, convKey)
	}
	var shared []byte
	if shared, err = key.ECDH(peerPub); chk.E(err) {
		return
	}
	return encryption.EncryptNIP04(plaintext, shared)
}

func localDecrypt(key sgn.I, nip44 bool, peerPub, payload []byte) (plaintext []byte, err error) {
	if nip44 {
		var convKey []byte
		if convKey, err = nip44ConvKey(key, peerPub); chk.E(err) {
			return
		}
		return encryption.Decrypt(payload, convKey)
	}
	var shared []byte
	if shared, err = key.ECDH(peerPub); chk.E(err) {
		return
	}
	return encryption.DecryptNIP04(payload, shared)
}

func nip44ConvKey(key sgn.I, peerPub []byte) (convKey []byte, err error) {
	sk := secp256k1.SecKeyFromBytes(key.Sec())
	return encryption.ConversationKey(sk, peerPub)
}
