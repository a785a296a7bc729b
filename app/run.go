// Package app is the composition root: it wires C1 Connections, C2 Cache,
// C3 Parser/Pipeline, C4 Dispatcher, and C5 Signer together and drives them
// against the relay set in config.C, playing the role the browser's
// extension background page plays for the real worker runtime.
package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"
	"worker.orly.dev/app/config"
	"worker.orly.dev/pkg/cache"
	"worker.orly.dev/pkg/cashu"
	"worker.orly.dev/pkg/connections"
	"worker.orly.dev/pkg/dispatcher"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/envelopes/authenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/closedenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/eoseenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/eventenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/noticeenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/okenvelope"
	"worker.orly.dev/pkg/pipeline"
	"worker.orly.dev/pkg/protocol/nip46"
	"worker.orly.dev/pkg/protocol/nwc"
	"worker.orly.dev/pkg/ring"
	"worker.orly.dev/pkg/signer"
)

// RingCapacity is the frame capacity of each direction's ring, mirroring
// the browser runtime's fixed-size SharedArrayBuffer rings.
const RingCapacity = 4096

// controlSubID is the reserved subscription id AUTH, NOTICE, and OK frames
// (none of which a relay scopes to a particular sub_id) are routed under, so
// C4's per-subscription lookup has somewhere to deliver them. A production
// multi-window build would register one of these per connected tab; a
// single-process worker only needs the one.
const controlSubID = "_control"

// Runtime holds every live component so Run's caller can register
// subscriptions and submit events against it.
type Runtime struct {
	Cache      *cache.Cache
	Conns      *connections.Manager
	Dispatcher *dispatcher.Dispatcher
	Signer     *signer.Service
	Verifier   *cashu.Verifier
}

// Run builds the five components against cfg and c, registers the control
// subscription, connects to every configured default relay, and starts the
// dispatcher's shard pool and the Cashu verifier's background loop. It
// returns once ctx is canceled.
func Run(ctx context.Context, cfg *config.C, c *cache.Cache) (rt *Runtime) {
	cacheReply := ring.New(RingCapacity)
	networkReply := ring.New(RingCapacity)

	verifier := cashu.NewVerifier(cfg.CashuMaxProofs)
	svc := signer.New()

	if cfg.NIP46BunkerURI != "" {
		go func() {
			remote, err := nip46.DialBunker(ctx, cfg.NIP46BunkerURI, cfg.AppName)
			if chk.E(err) {
				log.E.F("app: nip46 dial failed: %v", err)
				return
			}
			svc.UseNIP46(remote, cfg.NIP46BunkerURI)
		}()
	}
	if cfg.NWCConnectionURI != "" {
		wallet, err := nwc.NewClient(cfg.NWCConnectionURI)
		if chk.E(err) {
			log.E.F("app: nwc connect failed: %v", err)
		} else {
			svc.UseNWC(wallet)
		}
	}

	d := dispatcher.New(
		cacheReply, networkReply, dispatcher.Hooks{
			OnEOSE:    func(subID string) { log.D.F("eose: %s", subID) },
			OnNotice:  func(subID string, payload []byte) { log.I.F("notice: %s", string(payload)) },
			OnAuth:    func(subID string, payload []byte) { log.I.F("auth challenge: %s", string(payload)) },
			OnClosed:  func(subID string, payload []byte) { log.I.F("closed: %s", string(payload)) },
			OnPublish: func(publishID string, ok bool) { log.D.F("publish %s ok=%v", publishID, ok) },
			OnProofs: func(payload []byte) {
				var msg cashu.ProofsMessage
				if err := json.Unmarshal(payload, &msg); chk.E(err) {
					return
				}
				log.I.F("cashu: %d proof(s) reconciled unspent for mint %s", len(msg.Proofs), msg.Mint)
			},
		},
	)
	d.Register(
		&dispatcher.Subscription{SubID: controlSubID, Output: networkReply},
	)

	conns := connections.New(
		func(f connections.Frame) {
			wm, ok := classify(f.Data)
			if !ok {
				return
			}
			b, err := dispatcher.Encode(wm)
			if chk.E(err) {
				return
			}
			if !networkReply.TryWrite(b) {
				log.D.F("app: network-reply ring full, dropping frame for %s", wm.SubID)
			}
		},
	)

	rt = &Runtime{Cache: c, Conns: conns, Dispatcher: d, Signer: svc, Verifier: verifier}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Verifier.Run drains whatever is pending at the moment it's
		// called and returns; new proofs arrive continuously via
		// ProofVerificationPipe, so this re-invokes it on a fixed
		// interval rather than once at startup. Its result, grouped by
		// mint, is emitted as a WorkerToMain{Proofs} frame per mint onto
		// the network-reply ring, the same ring C1 itself writes onto, so
		// it reaches the distributor (and OnProofs) through the ordinary
		// dispatch path rather than being dropped on the floor.
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitReconciledProofs(networkReply, verifier.Run(ctx))
			}
		}
	}()

	for _, url := range cfg.DefaultRelays {
		if err := conns.Connect(ctx, url); chk.E(err) {
			log.E.F("app: connect to %s failed: %v", url, err)
		}
	}

	wg.Wait()
	return
}

// emitReconciledProofs serializes each mint's reconciled unspent proofs from
// a Verifier.Run result into its own MsgProofs WorkerMessage and writes it
// onto out. A mint with no unspent proofs this pass produces no frame.
func emitReconciledProofs(out *ring.T, reconciled map[string][]cashu.Proof) {
	for mint, proofs := range reconciled {
		if len(proofs) == 0 {
			continue
		}
		payload, err := json.Marshal(cashu.ProofsMessage{Mint: mint, Proofs: proofs})
		if chk.E(err) {
			continue
		}
		b, err := dispatcher.Encode(dispatcher.WorkerMessage{
			SubID: controlSubID, Type: dispatcher.MsgProofs, Payload: payload,
		})
		if chk.E(err) {
			continue
		}
		if !out.TryWrite(b) {
			log.D.F("app: network-reply ring full, dropping reconciled proofs for mint %s", mint)
		}
	}
}

// RegisterPipeline binds subID to a fresh pipe chain reading/writing
// through rt's Cache/Signer/Verifier. Run's control subscription has no
// pipe chain of its own; this is the only place a chain is wired.
func (rt *Runtime) RegisterPipeline(subID string, kinds map[uint16]struct{}, output *ring.T) *pipeline.Pipeline {
	pl := pipeline.New(
		subID,
		&pipeline.ParsePipe{Signer: rt.Signer},
		&pipeline.KindFilterPipe{Kinds: kinds},
		&pipeline.ProofVerificationPipe{Verifier: rt.Verifier},
		&pipeline.SaveToDbPipe{Cache: rt.Cache},
		&pipeline.SerializeEventsPipe{},
	)
	rt.Dispatcher.Register(
		&dispatcher.Subscription{SubID: subID, Pipeline: pl, Output: output},
	)
	return pl
}

// classify turns one canonical relay frame into the WorkerMessage shape C4
// dispatches on, identifying it by its envelope label and pulling out
// whichever field plays the role of sub_id for that envelope kind.
func classify(data []byte) (wm dispatcher.WorkerMessage, ok bool) {
	label, rem, err := envelopes.Identify(data)
	if err != nil {
		return
	}
	switch label {
	case eventenvelope.L:
		res := eventenvelope.NewResult()
		if _, err = res.Unmarshal(rem); err != nil {
			return
		}
		wm = dispatcher.WorkerMessage{
			SubID: string(res.Subscription), Type: dispatcher.MsgEvent,
			Payload: res.Event.Marshal(nil),
		}
	case eoseenvelope.L:
		eo := eoseenvelope.New()
		if _, err = eo.Unmarshal(rem); err != nil {
			return
		}
		wm = dispatcher.WorkerMessage{SubID: string(eo.Subscription), Type: dispatcher.MsgEOSE}
	case closedenvelope.L:
		cd := closedenvelope.New()
		if _, err = cd.Unmarshal(rem); err != nil {
			return
		}
		wm = dispatcher.WorkerMessage{
			SubID: string(cd.Subscription), Type: dispatcher.MsgClosed, Payload: cd.Reason,
		}
	case noticeenvelope.L:
		n := noticeenvelope.New()
		if _, err = n.Unmarshal(rem); err != nil {
			return
		}
		wm = dispatcher.WorkerMessage{SubID: controlSubID, Type: dispatcher.MsgNotice, Payload: n.Message}
	case authenvelope.L:
		ac := authenvelope.NewChallenge()
		if _, err = ac.Unmarshal(rem); err != nil {
			return
		}
		wm = dispatcher.WorkerMessage{SubID: controlSubID, Type: dispatcher.MsgAuth, Payload: ac.Challenge}
	case okenvelope.L:
		o := okenvelope.New()
		if _, err = o.Unmarshal(rem); err != nil {
			return
		}
		// Routed under controlSubID for now, so OnPublish never actually
		// fires here: a relay's OK carries the event id, not a sub_id, so
		// matching it back to a caller's publish needs a subscription
		// registered per in-flight publish with PublishID set to the
		// submitted event's id. That registration isn't wired up yet.
		wm = dispatcher.WorkerMessage{
			SubID: controlSubID, Type: dispatcher.MsgOK, OKResult: o.OK,
			PublishID: string(o.EventID),
		}
	default:
		return
	}
	ok = true
	return
}
