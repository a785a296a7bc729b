package connections

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/envelopes/eventenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/reqenvelope"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/ring"
	"lukechampine.com/frand"
)

// fakeRelay answers each REQ it receives with one EVENT frame carrying the
// canned event under the REQ's subscription id, and ignores every other
// frame, so drainOne's happy path is exercised end to end.
func fakeRelay(t *testing.T, canned *event.E) *httptest.Server {
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
				for {
					_, msg, rerr := conn.Read(ctx)
					if rerr != nil {
						return
					}
					label, rem, ierr := envelopes.Identify(msg)
					if ierr != nil {
						continue
					}
					if label == reqenvelope.L {
						req := reqenvelope.New()
						if _, rerr = req.Unmarshal(rem); rerr != nil {
							continue
						}
						res, _ := eventenvelope.NewResultWith(req.Subscription, canned)
						_ = conn.Write(ctx, websocket.MessageText, res.Marshal(nil))
					}
				}
			},
		),
	)
}

func wsURL(s *httptest.Server) string {
	return "ws" + s.URL[len("http"):]
}

func genEvent() (ev *event.E) {
	ev = event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = frand.Bytes(32)
	ev.CreatedAt = time.Now().Unix()
	ev.Kind = 1
	ev.Content = []byte("hi")
	ev.Sig = frand.Bytes(64)
	return
}

// collector gathers output frames under a mutex for test assertions.
type collector struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *collector) output(f Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *collector) waitFor(t *testing.T, contains string) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, f := range c.frames {
			if contains == "" || strings.Contains(string(f.Data), contains) {
				c.mu.Unlock()
				return f
			}
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for frame containing %q", contains)
	return Frame{}
}

func TestConnectThenSendRawAcksSubscribed(t *testing.T) {
	srv := fakeRelay(t, genEvent())
	defer srv.Close()

	col := &collector{}
	m := New(col.output)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx, wsURL(srv)); err != nil {
		t.Fatal(err)
	}

	if err := m.SendRaw(wsURL(srv), `["REQ","sub1",{}]`); err != nil {
		t.Fatal(err)
	}
	col.waitFor(t, `"OK","sub1","SUBSCRIBED"`)
}

func TestIncomingEventIsReserializedToOutput(t *testing.T) {
	canned := genEvent()
	srv := fakeRelay(t, canned)
	defer srv.Close()

	col := &collector{}
	m := New(col.output)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := wsURL(srv)
	if err := m.Connect(ctx, url); err != nil {
		t.Fatal(err)
	}
	if err := m.SendRaw(url, `["REQ","sub1",{}]`); err != nil {
		t.Fatal(err)
	}
	col.waitFor(t, `"EVENT"`)
}

func TestCloseSubSendsCloseAck(t *testing.T) {
	srv := fakeRelay(t, genEvent())
	defer srv.Close()

	col := &collector{}
	m := New(col.output)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := wsURL(srv)
	if err := m.Connect(ctx, url); err != nil {
		t.Fatal(err)
	}
	if err := m.SendRaw(url, `["REQ","sub1",{}]`); err != nil {
		t.Fatal(err)
	}
	col.waitFor(t, "SUBSCRIBED")

	if err := m.CloseSub(url, "sub1"); err != nil {
		t.Fatal(err)
	}
	col.waitFor(t, `"OK","sub1","CLOSED"`)
}

func TestSendRawToUnknownURLFails(t *testing.T) {
	m := New(func(Frame) {})
	if err := m.SendRaw("wss://nowhere.invalid", "x"); err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestSendRawFailsWhenQueueFull(t *testing.T) {
	m := New(func(Frame) {})
	rc := &RelayConnection{
		url:    "wss://stalled",
		mgr:    m,
		state:  StateConnecting,
		active: make(map[string]struct{}),
		queue:  ring.New(2),
		notify: make(chan struct{}, 1),
	}
	rc.ctx, rc.cancel = context.WithCancel(context.Background())
	m.mu.Lock()
	m.conns[rc.url] = rc
	m.mu.Unlock()

	for i := 0; i < 2; i++ {
		if err := m.SendRaw(rc.url, "frame"); err != nil {
			t.Fatalf("unexpected error on write %d: %v", i, err)
		}
	}
	if err := m.SendRaw(rc.url, "overflow"); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
