package nip46

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"
	"worker.orly.dev/pkg/crypto/encryption"
	"worker.orly.dev/pkg/crypto/p256k"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/envelopes/eventenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/okenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/reqenvelope"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/interfaces/signer"
)

// fakeBunker behaves like a relay fronting a remote signer: it answers REQ
// with EOSE, and answers every submitted EVENT (an RPC call) by decrypting
// it under the NIP-44 conversation key shared with the sender and replying
// in kind, so DialBunker/Call can be exercised end to end.
func fakeBunker(t *testing.T, remote signer.I) *httptest.Server {
	t.Helper()
	return httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				conn, err := websocket.Accept(w, r, nil)
				if err != nil {
					return
				}
				defer conn.CloseNow()
				ctx := r.Context()
				var subID []byte
				for {
					_, msg, rerr := conn.Read(ctx)
					if rerr != nil {
						return
					}
					label, rem, ierr := envelopes.Identify(msg)
					if ierr != nil {
						continue
					}
					switch label {
					case reqenvelope.L:
						req := reqenvelope.New()
						if _, err = req.Unmarshal(rem); err != nil {
							continue
						}
						subID = req.Subscription
						eose := []byte(`["EOSE","` + string(subID) + `"]`)
						_ = conn.Write(ctx, websocket.MessageText, eose)
					case eventenvelope.L:
						sub := eventenvelope.NewSubmission()
						if _, err = sub.Unmarshal(rem); err != nil {
							continue
						}
						ev := sub.E
						ok := okenvelope.NewFrom(ev.ID, true)
						_ = conn.Write(ctx, websocket.MessageText, ok.Marshal(nil))

						reply := handleRPC(t, remote, ev)
						if reply == nil || subID == nil {
							continue
						}
						res, rerr2 := eventenvelope.NewResultWith(subID, reply)
						if rerr2 != nil {
							continue
						}
						_ = conn.Write(ctx, websocket.MessageText, res.Marshal(nil))
					}
				}
			},
		),
	)
}

func handleRPC(t *testing.T, remote signer.I, ev *event.E) *event.E {
	t.Helper()
	convKey, err := deriveConvKey(remote, ev.Pubkey)
	if err != nil {
		return nil
	}
	plain, err := decryptAuto(ev.Content, convKey, convKey[:32])
	if err != nil {
		return nil
	}
	var in rpcEnvelope
	if err = json.Unmarshal(plain, &in); err != nil {
		return nil
	}
	result := "ok"
	if in.Method == "ping" {
		result = "pong"
	}
	out := rpcEnvelope{ID: in.ID, Result: result}
	body, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	content, err := encryption.Encrypt(body, convKey)
	if err != nil {
		return nil
	}
	reply := &event.E{
		Content:   content,
		CreatedAt: time.Now().Unix(),
		Kind:      KindRPC,
		Tags:      tag.NewS(tag.NewFromAny("p", hex.Enc(ev.Pubkey))),
	}
	if err = reply.Sign(remote); err != nil {
		return nil
	}
	return reply
}

// deriveConvKey mirrors Client.conversationKey from the other side of the
// pairing (the remote signer's own key against the caller's pubkey).
func deriveConvKey(remote signer.I, peerPub []byte) (key []byte, err error) {
	cl := &Client{clientKey: remote}
	return cl.conversationKey(peerPub)
}

func wsURL(s *httptest.Server) string {
	return "ws" + s.URL[len("http"):]
}

func TestDialBunkerPing(t *testing.T) {
	remote := &p256k.Signer{}
	if err := remote.Generate(); err != nil {
		t.Fatal(err)
	}
	srv := fakeBunker(t, remote)
	defer srv.Close()

	q := url.Values{}
	q.Set("relay", wsURL(srv))
	q.Set("secret", "pairing-secret")
	bunkerURI := "bunker://" + hex.Enc(remote.Pub()) + "?" + q.Encode()

	cl, err := DialBunker(context.Background(), bunkerURI, "")
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	if err = cl.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestParseBunkerURIRejectsWrongScheme(t *testing.T) {
	if _, err := parseBunkerURI("nostrconnect://abc?relay=wss://x"); err == nil {
		t.Fatal("expected scheme mismatch to error")
	}
}

func TestBuildConnectURIRoundTrips(t *testing.T) {
	pub := make([]byte, 32)
	uri := buildConnectURI(pub, []string{"wss://relay.example"}, "sec", "myapp")
	u, err := url.Parse(uri)
	if err != nil {
		t.Fatal(err)
	}
	if u.Scheme != "nostrconnect" {
		t.Fatalf("expected nostrconnect scheme, got %q", u.Scheme)
	}
	if u.Query().Get("secret") != "sec" {
		t.Fatal("expected secret to round-trip")
	}
}
