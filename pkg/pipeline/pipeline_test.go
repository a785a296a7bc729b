package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"lukechampine.com/frand"
	"worker.orly.dev/pkg/cache"
	"worker.orly.dev/pkg/cashu"
	"worker.orly.dev/pkg/crypto/p256k"
	"worker.orly.dev/pkg/dispatcher"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/kind"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/signer"
	"worker.orly.dev/pkg/wire"
)

// decodeOutput unwraps a Pipeline.Run frame and JSON-decodes its payload
// into an outputEnvelope.
func decodeOutput(t *testing.T, frame []byte) outputEnvelope {
	t.Helper()
	_, _, payload, _, _ := wire.DecodeWorkerMessage(frame)
	var env outputEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

func mkEvent(t *testing.T, k uint16, content string) []byte {
	t.Helper()
	ev := event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = frand.Bytes(32)
	ev.CreatedAt = 1700000001
	ev.Kind = k
	ev.Content = []byte(content)
	ev.Sig = frand.Bytes(64)
	b, err := ev.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPipelineSerializesEventThroughFullChain(t *testing.T) {
	pl := New("sub1", &ParsePipe{}, &SerializeEventsPipe{})
	out, err := pl.Run(context.Background(), dispatcher.WorkerMessage{
		SubID:   "sub1",
		Type:    dispatcher.MsgEvent,
		Payload: mkEvent(t, 1, "hello world"),
	})
	if err != nil {
		t.Fatal(err)
	}
	env := decodeOutput(t, out)
	if env.Parsed == nil || env.Parsed.Note == nil {
		t.Fatalf("expected a parsed note in the output envelope, got %+v", env)
	}
}

func TestPipelineKindFilterDropsUnwantedKind(t *testing.T) {
	pl := New("sub2",
		&ParsePipe{},
		&KindFilterPipe{Kinds: map[uint16]struct{}{1: {}}},
		&SerializeEventsPipe{},
	)
	out, err := pl.Run(context.Background(), dispatcher.WorkerMessage{
		SubID:   "sub2",
		Type:    dispatcher.MsgEvent,
		Payload: mkEvent(t, 7, "+"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected the filtered kind to produce no output, got %s", out)
	}
}

func TestPipelineCounterEmitsSyntheticEOSEAfterLimit(t *testing.T) {
	pl := New("sub3",
		&ParsePipe{},
		&CounterPipe{Limit: 1},
		&SerializeEventsPipe{},
	)
	first, err := pl.Run(context.Background(), dispatcher.WorkerMessage{
		SubID: "sub3", Type: dispatcher.MsgEvent, Payload: mkEvent(t, 1, "one"),
	})
	if err != nil {
		t.Fatal(err)
	}
	env := decodeOutput(t, first)
	if env.EOSE {
		t.Fatalf("expected the first event to deliver normally, got %+v", env)
	}

	second, err := pl.Run(context.Background(), dispatcher.WorkerMessage{
		SubID: "sub3", Type: dispatcher.MsgEvent, Payload: mkEvent(t, 1, "two"),
	})
	if err != nil {
		t.Fatal(err)
	}
	env2 := decodeOutput(t, second)
	if !env2.EOSE {
		t.Fatalf("expected synthetic EOSE after the counter limit, got %+v", env2)
	}
}

func TestPipelineSaveToDbWritesThroughToCache(t *testing.T) {
	dir, err := os.MkdirTemp("", "pipeline-cache-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	c, err := cache.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	pl := New("sub4", &ParsePipe{}, &SaveToDbPipe{Cache: c}, &SerializeEventsPipe{})
	payload := mkEvent(t, 1, "saved note")
	if _, err = pl.Run(context.Background(), dispatcher.WorkerMessage{SubID: "sub4", Type: dispatcher.MsgEvent, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	var ev event.E
	if err = json.Unmarshal(payload, &ev); err != nil {
		t.Fatal(err)
	}
	f := filter.New()
	f.Kinds = kind.NewS(kind.New(1))
	res, err := c.QueryEvents(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || hex.Enc(res.Events[0].ID) != hex.Enc(ev.ID) {
		t.Fatalf("expected the saved event to be queryable back out, got %d results", len(res.Events))
	}
}

func TestDMDecryptRunsThroughLocalSignerSession(t *testing.T) {
	svc := signer.New()
	var key p256k.Signer
	if err := key.Generate(); err != nil {
		t.Fatal(err)
	}
	svc.UsePrivateKey(&key)

	peerSK, err := newRandomSigner()
	if err != nil {
		t.Fatal(err)
	}

	ownPub := hex.Enc(key.Pub())
	resp := svc.Handle(context.Background(), signer.Request{Op: signer.OpNip04Encrypt, Pubkey: peerSK.Pub(), Payload: "secret note"})
	if resp.Error != "" {
		t.Fatalf("encrypt setup failed: %s", resp.Error)
	}

	ev := event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = peerSK.Pub()
	ev.CreatedAt = 1700000002
	ev.Kind = 4
	ev.Content = []byte(resp.Result)
	ev.Sig = frand.Bytes(64)
	s := tagSWith("p", ownPub)
	ev.Tags = &s
	payload, err := ev.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	pl := New("sub5", &ParsePipe{Signer: svc, OwnPubkey: ownPub}, &SerializeEventsPipe{})
	out, err := pl.Run(context.Background(), dispatcher.WorkerMessage{SubID: "sub5", Type: dispatcher.MsgEvent, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	env := decodeOutput(t, out)
	if env.Parsed == nil || env.Parsed.DM == nil || !env.Parsed.DM.Decrypted {
		t.Fatalf("expected a decrypted DM, got %+v", env.Parsed)
	}
	if env.Parsed.DM.Note == nil || len(env.Parsed.DM.Note.Blocks) == 0 {
		t.Fatalf("expected decrypted content tokenized into blocks, got %+v", env.Parsed.DM.Note)
	}
}

func newRandomSigner() (*p256k.Signer, error) {
	var s p256k.Signer
	if err := s.Generate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func tagSWith(key, value string) tag.S {
	return tag.S{tag.NewFromAny(key, value)}
}

func mkNutzapEvent(t *testing.T, mint string) []byte {
	t.Helper()
	ev := event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = frand.Bytes(32)
	ev.CreatedAt = 1700000003
	ev.Kind = 9321
	ev.Content = []byte(`[{"amount":1,"secret":"s1","C":"02aa","id":"k1"}]`)
	s := tag.S{tag.NewFromAny("u", mint)}
	ev.Tags = &s
	ev.Sig = frand.Bytes(64)
	b, err := ev.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestProofVerificationPipeDropsNutzapAndFeedsVerifier(t *testing.T) {
	verifier := cashu.NewVerifier(100)
	pl := New("sub6",
		&ParsePipe{},
		&ProofVerificationPipe{Verifier: verifier},
		&SerializeEventsPipe{},
	)
	out, err := pl.Run(context.Background(), dispatcher.WorkerMessage{
		SubID: "sub6", Type: dispatcher.MsgEvent, Payload: mkNutzapEvent(t, "https://mint.example"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected the nutzap event to be dropped before serialization, got %s", out)
	}
	if verifier.Pending() != 1 {
		t.Fatalf("expected the nutzap's proof to reach the verifier, got %d pending", verifier.Pending())
	}
}
