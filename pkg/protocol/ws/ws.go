// Package ws is a minimal nostr relay client over a websocket connection: it
// dials a relay, lets callers publish events and run REQ subscriptions, and
// routes incoming EVENT/EOSE/CLOSED/OK/NOTICE frames to the right caller.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"lukechampine.com/frand"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/envelopes/closedenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/closeenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/eoseenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/eventenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/noticeenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/okenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/reqenvelope"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/utils/units"
)

// DefaultMaxMessageSize bounds the size of a single frame read from a relay.
const DefaultMaxMessageSize = 1 * units.Mb

// DefaultPublishTimeout bounds how long Publish waits for an OK response.
const DefaultPublishTimeout = 10 * time.Second

// Subscription is a live REQ subscription against a relay. Events matching
// the filters are delivered on Events until Unsub is called or the
// connection closes, at which point Events is closed.
type Subscription struct {
	id     string
	Events chan *event.E
	client *Client
}

// Unsub cancels the subscription: it sends a CLOSE to the relay and stops
// further delivery on Events.
func (sub *Subscription) Unsub() {
	sub.client.mu.Lock()
	if _, ok := sub.client.subs[sub.id]; ok {
		delete(sub.client.subs, sub.id)
		close(sub.Events)
	}
	sub.client.mu.Unlock()
	ce := closeenvelope.NewFrom([]byte(sub.id))
	b := ce.Marshal(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = sub.client.conn.Write(ctx, websocket.MessageText, b)
}

// Client is a connection to a single relay.
type Client struct {
	conn   *websocket.Conn
	url    string
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[string]*Subscription
	pending map[string]chan *okenvelope.T
}

// RelayConnect dials the given relay URL and starts its read loop.
func RelayConnect(ctx context.Context, url string) (cl *Client, err error) {
	var conn *websocket.Conn
	if conn, _, err = websocket.Dial(ctx, url, nil); chk.E(err) {
		return
	}
	conn.SetReadLimit(DefaultMaxMessageSize)
	cctx, cancel := context.WithCancel(ctx)
	cl = &Client{
		conn:    conn,
		url:     url,
		ctx:     cctx,
		cancel:  cancel,
		subs:    make(map[string]*Subscription),
		pending: make(map[string]chan *okenvelope.T),
	}
	go cl.readLoop()
	return
}

// Close tears down the connection and fails any subscriptions still open.
func (cl *Client) Close() (err error) {
	cl.cancel()
	err = cl.conn.Close(websocket.StatusNormalClosure, "")
	return
}

func (cl *Client) readLoop() {
	defer cl.closeAll()
	for {
		_, msg, err := cl.conn.Read(cl.ctx)
		if err != nil {
			return
		}
		var label string
		var rem []byte
		if label, rem, err = envelopes.Identify(msg); chk.E(err) {
			continue
		}
		switch label {
		case eventenvelope.L:
			res := eventenvelope.NewResult()
			if _, err = res.Unmarshal(rem); chk.E(err) {
				continue
			}
			cl.deliver(string(res.Subscription), res.Event)
		case eoseenvelope.L:
			// no-op: Subscription.Events has no separate EOSE signal, callers
			// that care about end-of-stored-events distinguish it by the
			// absence of further sends.
		case closedenvelope.L:
			cd := closedenvelope.New()
			if _, err = cd.Unmarshal(rem); chk.E(err) {
				continue
			}
			cl.mu.Lock()
			if sub, ok := cl.subs[string(cd.Subscription)]; ok {
				delete(cl.subs, string(cd.Subscription))
				close(sub.Events)
			}
			cl.mu.Unlock()
		case okenvelope.L:
			ok := okenvelope.New()
			if _, err = ok.Unmarshal(rem); chk.E(err) {
				continue
			}
			cl.mu.Lock()
			ch, found := cl.pending[hex.Enc(ok.EventID)]
			cl.mu.Unlock()
			if found {
				ch <- ok
			}
		case noticeenvelope.L:
			n := noticeenvelope.New()
			if _, err = n.Unmarshal(rem); chk.E(err) {
				continue
			}
			log.D.F("%s: NOTICE %s", cl.url, n.Message)
		}
	}
}

func (cl *Client) closeAll() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for id, sub := range cl.subs {
		delete(cl.subs, id)
		close(sub.Events)
	}
	for id, ch := range cl.pending {
		delete(cl.pending, id)
		close(ch)
	}
}

func (cl *Client) deliver(subID string, ev *event.E) {
	cl.mu.Lock()
	sub, ok := cl.subs[subID]
	cl.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sub.Events <- ev:
	case <-cl.ctx.Done():
	}
}

// Subscribe opens a new REQ subscription with the given filters.
func (cl *Client) Subscribe(
	ctx context.Context, filters filter.S,
) (sub *Subscription, err error) {
	id := hex.Enc(frand.Bytes(16))
	sub = &Subscription{id: id, Events: make(chan *event.E, 32), client: cl}
	cl.mu.Lock()
	cl.subs[id] = sub
	cl.mu.Unlock()
	req := reqenvelope.NewFrom([]byte(id), filters)
	b := req.Marshal(nil)
	if err = cl.conn.Write(ctx, websocket.MessageText, b); chk.E(err) {
		cl.mu.Lock()
		delete(cl.subs, id)
		cl.mu.Unlock()
		return
	}
	return
}

// Publish submits ev to the relay and waits for its OK response.
func (cl *Client) Publish(ctx context.Context, ev *event.E) (err error) {
	id := hex.Enc(ev.ID)
	ch := make(chan *okenvelope.T, 1)
	cl.mu.Lock()
	cl.pending[id] = ch
	cl.mu.Unlock()
	defer func() {
		cl.mu.Lock()
		delete(cl.pending, id)
		cl.mu.Unlock()
	}()

	sub := eventenvelope.NewSubmissionWith(ev)
	b := sub.Marshal(nil)
	if err = cl.conn.Write(ctx, websocket.MessageText, b); chk.E(err) {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, DefaultPublishTimeout)
	defer cancel()
	select {
	case res := <-ch:
		if !res.OK {
			err = errorf.E("relay rejected event: %s", res.Message)
		}
		return
	case <-pctx.Done():
		err = pctx.Err()
		return
	}
}
