package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"lukechampine.com/frand"

	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/envelopes/eventenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/okenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/reqenvelope"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
)

// fakeRelay accepts one connection, acknowledges every submitted event with
// OK, and upon receiving a REQ echoes back one canned event followed by EOSE.
func fakeRelay(t *testing.T, canned *event.E) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(
		"/", func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			defer conn.CloseNow()
			ctx := r.Context()
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				label, rem, err := envelopes.Identify(msg)
				if err != nil {
					continue
				}
				switch label {
				case eventenvelope.L:
					sub := eventenvelope.NewSubmission()
					if _, err = sub.Unmarshal(rem); err != nil {
						continue
					}
					ok := okenvelope.NewFrom(sub.E.ID, true)
					_ = conn.Write(ctx, websocket.MessageText, ok.Marshal(nil))
				case reqenvelope.L:
					req := reqenvelope.New()
					if _, err = req.Unmarshal(rem); err != nil {
						continue
					}
					res, _ := eventenvelope.NewResultWith(req.Subscription, canned)
					_ = conn.Write(ctx, websocket.MessageText, res.Marshal(nil))
					eose := []byte(`["EOSE","` + string(req.Subscription) + `"]`)
					_ = conn.Write(ctx, websocket.MessageText, eose)
				}
			}
		},
	)
	return httptest.NewServer(mux)
}

func genEvent() (ev *event.E) {
	ev = event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = frand.Bytes(32)
	ev.CreatedAt = time.Now().Unix()
	ev.Kind = 1
	ev.Content = []byte("hello")
	ev.Sig = frand.Bytes(64)
	return
}

func wsURL(s *httptest.Server) string {
	return "ws" + s.URL[len("http"):]
}

func TestPublishGetsOK(t *testing.T) {
	srv := fakeRelay(t, genEvent())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cl, err := RelayConnect(ctx, wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	ev := genEvent()
	if err = cl.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestSubscribeReceivesEvent(t *testing.T) {
	canned := genEvent()
	srv := fakeRelay(t, canned)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cl, err := RelayConnect(ctx, wsURL(srv))
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	sub, err := cl.Subscribe(ctx, filter.NewS(filter.New()))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsub()

	select {
	case ev := <-sub.Events:
		if ev == nil {
			t.Fatal("got nil event")
		}
		if string(ev.ID) != string(canned.ID) {
			t.Fatalf("id mismatch")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
