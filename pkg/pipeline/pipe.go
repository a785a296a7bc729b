package pipeline

import (
	"context"
	"encoding/json"

	"lol.mleku.dev/log"
	"worker.orly.dev/pkg/cache"
	"worker.orly.dev/pkg/cashu"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/kind"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/signer"
)

// State is the mutable working set one raw frame carries through a
// pipeline's pipe chain.
type State struct {
	Raw      []byte
	Parsed   *ParsedEvent
	Requests []Request
	Output   []byte
	DropReason string

	// SyntheticEOSE is set by a Counter pipe on each frame that arrives after
	// its limit has been reached; Pipeline.Run surfaces this as an EOSE frame.
	SyntheticEOSE bool
}

func (st *State) drop(reason string) {
	st.DropReason = reason
}

func (st *State) dropped() bool { return st.DropReason != "" }

// Pipe is one stage in a subscription's bound pipe chain. Each of the seven
// named stages (Parse, KindFilter, NpubLimiter, Counter, SaveToDb,
// SerializeEvents, ProofVerification) is its own concrete type below, since
// the chain itself already supplies the dispatch a single tagged-variant
// enum would otherwise need.
type Pipe interface {
	Process(ctx context.Context, st *State)
}

// SignerClient is the subset of pkg/signer.Service a Parse pipe needs to
// schedule a kind-4/kind-17375 decrypt; the concrete *signer.Service
// satisfies it directly.
type SignerClient interface {
	Handle(ctx context.Context, req signer.Request) signer.Response
}

// ParsePipe decodes a raw frame into (kind, event-view) and runs the
// per-kind parse sub-procedure. Every frame's payload is JSON-decoded here,
// whichever ring it arrived on; a payload that does not decode is dropped.
type ParsePipe struct {
	Signer SignerClient
	// OwnPubkey, if set (lowercase hex), lets parseDM pick the non-local
	// side of a kind-4 exchange as DirectMessage.Peer.
	OwnPubkey string
	// OwnPubkeyBytes is OwnPubkey decoded, used as the NIP-44 self-peer for
	// kind-17375 wallet decryption.
	OwnPubkeyBytes []byte
}

func (p *ParsePipe) Process(ctx context.Context, st *State) {
	ev := event.New()
	if err := json.Unmarshal(st.Raw, ev); err != nil {
		st.drop("undecodable frame")
		return
	}
	pe := Parse(ev)
	if ev.Kind == 4 {
		pe.DM = p.parseDM(ctx, ev)
	}
	if ev.Kind == kindWallet && p.Signer != nil {
		p.decryptWallet(ctx, pe)
	}
	st.Parsed = pe
	st.Requests = append(st.Requests, followUpRequests(pe)...)
}

func (p *ParsePipe) parseDM(ctx context.Context, ev *event.E) *DirectMessage {
	dm := &DirectMessage{}
	recipient := ""
	if ev.Tags != nil {
		for _, t := range *ev.Tags {
			if t.Len() >= 2 && string(t.Key()) == "p" {
				recipient = string(t.Value())
				break
			}
		}
	}
	dm.Recipient = recipient
	if p.Signer == nil {
		return dm
	}
	var recipientBytes []byte
	if recipient != "" {
		recipientBytes, _ = hex.Dec(recipient)
	}
	resp := p.Signer.Handle(ctx, signer.Request{
		Op:              signer.OpNip04DecryptBetween,
		SenderPubkey:    ev.Pubkey,
		RecipientPubkey: recipientBytes,
		Payload:         string(ev.Content),
	})
	if resp.Error != "" {
		log.D.F("pipeline: dm decrypt failed: %s", resp.Error)
		return dm
	}
	dm.Decrypted = true
	dm.Note = &Note{Blocks: Tokenize(resp.Result)}
	dm.Note.ShortenedBlocks, _ = Shorten(dm.Note.Blocks)
	senderHex := hex.Enc(ev.Pubkey)
	dm.Peer = recipient
	if p.OwnPubkey != "" && senderHex != p.OwnPubkey {
		dm.Peer = senderHex
	}
	dm.ChatID = chatID(senderHex, recipient)
	return dm
}

// chatID is a peer-order-independent identifier for a DM thread.
func chatID(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}

func (p *ParsePipe) decryptWallet(ctx context.Context, pe *ParsedEvent) {
	resp := p.Signer.Handle(ctx, signer.Request{
		Op:      signer.OpNip44Decrypt,
		Pubkey:  p.OwnPubkeyBytes,
		Payload: string(pe.Raw.Content),
	})
	if resp.Error != "" {
		log.D.F("pipeline: wallet decrypt failed: %s", resp.Error)
		pe.Wallet = &Wallet{}
		return
	}
	pe.Wallet = &Wallet{}
	ApplyWalletDecryption(pe.Wallet, []byte(resp.Result))
}

// followUpRequests builds one synthetic Request per referenced id/profile
// a parse surfaced.
func followUpRequests(pe *ParsedEvent) (out []Request) {
	limit := uint(1)
	byID := func(id string) Request {
		f := filter.New()
		f.Ids = tag.NewFromAny(id)
		f.Limit = &limit
		return Request{Filter: f, CacheFirst: true}
	}
	byAuthor := func(pub string) Request {
		f := filter.New()
		f.Authors = tag.NewFromAny(pub)
		f.Kinds.K = append(f.Kinds.K, kind.New(0))
		f.Limit = &limit
		return Request{Filter: f, CacheFirst: true}
	}

	switch {
	case pe.Note != nil:
		if pe.Note.Parent != nil {
			out = append(out, byID(pe.Note.Parent.EventID), byAuthor(pe.Note.Parent.Author))
		}
		if pe.Note.Root != nil {
			out = append(out, byID(pe.Note.Root.EventID), byAuthor(pe.Note.Root.Author))
		}
	case pe.Reaction != nil && pe.Reaction.TargetEvent != "":
		out = append(out, byID(pe.Reaction.TargetEvent))
	case pe.ZapReceipt != nil && pe.ZapReceipt.ReferencedEvent != "":
		out = append(out, byID(pe.ZapReceipt.ReferencedEvent))
	}
	return
}

// KindFilterPipe drops events whose kind is not in the subscription's
// configured set.
type KindFilterPipe struct {
	Kinds map[uint16]struct{}
}

func (p *KindFilterPipe) Process(ctx context.Context, st *State) {
	if st.dropped() || st.Parsed == nil {
		return
	}
	if len(p.Kinds) == 0 {
		return
	}
	if _, ok := p.Kinds[st.Parsed.Raw.Kind]; !ok {
		st.drop("kind filtered")
	}
}

// NpubLimiterPipe caps the count of events from any one author within the
// subscription's window.
type NpubLimiterPipe struct {
	Limit int
	seen  map[string]int
}

func (p *NpubLimiterPipe) Process(ctx context.Context, st *State) {
	if st.dropped() || st.Parsed == nil {
		return
	}
	if p.seen == nil {
		p.seen = make(map[string]int)
	}
	author := hex.Enc(st.Parsed.Raw.Pubkey)
	p.seen[author]++
	if p.Limit > 0 && p.seen[author] > p.Limit {
		st.drop("npub limit reached")
	}
}

// CounterPipe terminates the pipeline's delivery after N events and emits
// EOSE synthetically.
type CounterPipe struct {
	Limit int
	count int
	done  bool
}

func (p *CounterPipe) Process(ctx context.Context, st *State) {
	if p.done {
		st.drop("counter exhausted")
		st.SyntheticEOSE = true
		return
	}
	if st.dropped() {
		return
	}
	p.count++
	if p.Limit > 0 && p.count >= p.Limit {
		p.done = true
	}
}

// SaveToDbPipe writes the event through to the cache's ingest ring.
type SaveToDbPipe struct {
	Cache *cache.Cache
}

func (p *SaveToDbPipe) Process(ctx context.Context, st *State) {
	if st.dropped() || p.Cache == nil {
		return
	}
	if err := p.Cache.AddWorkerMessageBytes(st.Raw); err != nil {
		log.D.F("pipeline: save-to-db failed: %v", err)
	}
}

// SerializeEventsPipe produces st.Output, the inner payload Pipeline.Run
// wraps in the subscription's output WorkerMessage FlatBuffer frame.
type SerializeEventsPipe struct{}

func (p *SerializeEventsPipe) Process(ctx context.Context, st *State) {
	if st.dropped() || st.Parsed == nil {
		return
	}
	b, err := json.Marshal(outputEnvelope{Parsed: st.Parsed})
	if err != nil {
		log.D.F("pipeline: serialize failed: %v", err)
		return
	}
	st.Output = b
}

// ProofVerificationPipe feeds any Cashu proofs a nutzap/token/wallet event
// carries into the Cashu verification pipe for background DLEQ and
// /v1/checkstate reconciliation. The triggering event itself never reaches
// later stages: its only job was to surface the proofs, and the
// reconciled-proof output is emitted separately, by Verifier.Run, as its own
// WorkerToMain{Proofs} frame.
type ProofVerificationPipe struct {
	Verifier *cashu.Verifier
}

func (p *ProofVerificationPipe) Process(ctx context.Context, st *State) {
	if st.dropped() || st.Parsed == nil || p.Verifier == nil {
		return
	}
	var refs []CashuProofRef
	var mint string
	switch {
	case st.Parsed.Nutzap != nil:
		refs, mint = st.Parsed.Nutzap.Proofs, st.Parsed.Nutzap.MintURL
	case st.Parsed.TokenEvent != nil:
		refs, mint = st.Parsed.TokenEvent.Proofs, st.Parsed.TokenEvent.MintURL
	default:
		return
	}
	if len(refs) > 0 {
		proofs := make([]cashu.Proof, 0, len(refs))
		for _, r := range refs {
			proofs = append(proofs, cashu.Proof{Amount: r.Amount, Secret: r.Secret, C: r.C, ID: r.ID})
		}
		p.Verifier.AddProofs(proofs, mint)
	}
	st.drop("cashu proofs extracted")
}
