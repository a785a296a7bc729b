// Package connections is component C1: it maintains one WebSocket per relay
// and ferries opaque text frames in both directions, re-serializing inbound
// frames to a canonical shape for downstream consumers and emitting
// synthetic acknowledgements for outbound REQ/CLOSE/EVENT frames so that a
// caller observes delivery the same way whether the relay round-trips an ack
// or not.
package connections

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/envelopes/authenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/closedenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/closeenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/eoseenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/eventenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/noticeenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/okenvelope"
	"worker.orly.dev/pkg/encoders/envelopes/reqenvelope"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/text"
	"worker.orly.dev/pkg/protocol/relayinfo"
	"worker.orly.dev/pkg/ring"
)

// State is a connection's position in the C1 state machine.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateFailed
	StateClosed
)

// ErrQueueFull is returned by SendRaw when a connection's outbound queue has
// no room; the caller must treat this as back-pressure, not loss.
var ErrQueueFull = errorf.E("connections: queue full")

// ErrConnectionClosed is returned by any operation against a connection that
// has already transitioned to Closed.
var ErrConnectionClosed = errorf.E("connections: connection closed")

// Frame is a canonical frame handed to the output writer, tagged with the
// relay url it came from so a downstream dispatcher can key work by
// (url, sub_id) without re-parsing the envelope label itself.
type Frame struct {
	URL  string
	Data []byte
}

// Output receives canonical frames produced either by the reader (relayed
// from the socket) or synthetically by the drain loop (delivery acks).
type Output func(Frame)

// DefaultQueueDepth is the bounded outbound queue capacity per connection.
const DefaultQueueDepth = 50

// Manager owns every live RelayConnection, keyed by url. Exactly one
// connection exists per url at a time; Connect replaces any prior one.
type Manager struct {
	mu         sync.Mutex
	conns      map[string]*RelayConnection
	queueDepth int
	output     Output
}

// New creates a Manager that delivers canonical frames to output.
func New(output Output) *Manager {
	return &Manager{
		conns:      make(map[string]*RelayConnection),
		queueDepth: DefaultQueueDepth,
		output:     output,
	}
}

// RelayConnection is the per-relay state: one websocket, one bounded
// outbound queue, one active-subscription set.
type RelayConnection struct {
	url string
	mgr *Manager

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	active map[string]struct{}
	info   *relayinfo.T

	ctx    context.Context
	cancel context.CancelFunc
	queue  *ring.T
	notify chan struct{}
}

// State reports the connection's current state.
func (rc *RelayConnection) State() State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Info returns the cached NIP-11 document, if one was fetched.
func (rc *RelayConnection) Info() *relayinfo.T {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.info
}

// Connect opens (or reopens) a connection to url. Any previous reader and
// sink for this url are torn down first, so exactly one socket is ever
// attached at a time.
func (m *Manager) Connect(ctx context.Context, url string) (err error) {
	m.mu.Lock()
	prev, existed := m.conns[url]
	m.mu.Unlock()
	if existed {
		prev.teardown()
	}

	rc := &RelayConnection{
		url:    url,
		mgr:    m,
		state:  StateConnecting,
		active: make(map[string]struct{}),
		queue:  ring.New(m.queueDepth),
		notify: make(chan struct{}, 1),
	}
	cctx, cancel := context.WithCancel(context.Background())
	rc.ctx = cctx
	rc.cancel = cancel

	m.mu.Lock()
	m.conns[url] = rc
	m.mu.Unlock()

	var conn *websocket.Conn
	if conn, _, err = websocket.Dial(ctx, url, nil); chk.E(err) {
		rc.mu.Lock()
		rc.state = StateFailed
		rc.mu.Unlock()
		return
	}
	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.mu.Unlock()

	go rc.readLoop()
	go rc.drainLoop()
	go rc.fetchInfo()
	return
}

// fetchInfo issues a best-effort NIP-11 lookup after first connect; failures
// are logged and otherwise ignored since this is enrichment, not a required
// part of connect's contract.
func (rc *RelayConnection) fetchInfo() {
	ictx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
	defer cancel()
	info, err := relayinfo.Fetch(ictx, []byte(rc.url))
	if err != nil {
		log.D.F("%s: NIP-11 fetch failed: %v", rc.url, err)
		return
	}
	rc.mu.Lock()
	rc.info = info
	rc.mu.Unlock()
}

// SendRaw enqueues text for delivery to url's connection, failing with
// ErrQueueFull if the bounded queue has no room.
func (m *Manager) SendRaw(url, text string) (err error) {
	rc, err := m.get(url)
	if err != nil {
		return
	}
	if !rc.queue.TryWrite([]byte(text)) {
		return ErrQueueFull
	}
	select {
	case rc.notify <- struct{}{}:
	default:
	}
	return
}

// CloseSub removes subID from url's active set and, if connected, best-
// effort sends a CLOSE frame and emits a synthetic OK CLOSED ack for subID.
// If the active set empties, the connection is closed at once; there is no
// idle keepalive period before the close.
func (m *Manager) CloseSub(url, subID string) (err error) {
	rc, err := m.get(url)
	if err != nil {
		return
	}
	rc.mu.Lock()
	delete(rc.active, subID)
	empty := len(rc.active) == 0
	connected := rc.state == StateConnected
	rc.mu.Unlock()
	if connected {
		ce := closeenvelope.NewFrom([]byte(subID))
		b := ce.Marshal(nil)
		wctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = rc.conn.Write(wctx, websocket.MessageText, b)
		cancel()
		rc.emit(syntheticOK(subID, "CLOSED"))
	}
	if empty {
		return m.Close(url)
	}
	return
}

// Close aborts the reader, closes the sink, and transitions to Closed.
func (m *Manager) Close(url string) (err error) {
	rc, err := m.get(url)
	if err != nil {
		return
	}
	rc.teardown()
	return
}

func (m *Manager) get(url string) (rc *RelayConnection, err error) {
	m.mu.Lock()
	rc, ok := m.conns[url]
	m.mu.Unlock()
	if !ok {
		err = ErrConnectionClosed
		return
	}
	return
}

func (rc *RelayConnection) teardown() {
	rc.mu.Lock()
	if rc.state == StateClosed {
		rc.mu.Unlock()
		return
	}
	rc.state = StateClosed
	conn := rc.conn
	rc.mu.Unlock()
	rc.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	rc.mgr.mu.Lock()
	if rc.mgr.conns[rc.url] == rc {
		delete(rc.mgr.conns, rc.url)
	}
	rc.mgr.mu.Unlock()
}

// drainLoop implements the drain algorithm: await a frame, attempt to write
// it, and react to its leading token with a synthetic ack. No reconnect is
// attempted: a frame drained while the connection is not Connected is
// discarded, and a write error marks the connection Failed, after which
// later frames are discarded the same way.
func (rc *RelayConnection) drainLoop() {
	for {
		b, ok := rc.queue.TryRead()
		if !ok {
			select {
			case <-rc.notify:
				continue
			case <-rc.ctx.Done():
				return
			}
		}
		rc.drainOne(b)
	}
}

func (rc *RelayConnection) drainOne(b []byte) {
	rc.mu.Lock()
	state := rc.state
	conn := rc.conn
	rc.mu.Unlock()

	if state != StateConnected {
		// reconnection is not attempted here: SendRaw already required an
		// existing connection, and a dropped frame on a failed connection
		// is the drain algorithm's documented behavior. The frame is
		// intentionally discarded; upstream must resend.
		return
	}

	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := conn.Write(wctx, websocket.MessageText, b)
	cancel()
	if err != nil {
		rc.mu.Lock()
		rc.state = StateFailed
		rc.conn = nil
		rc.mu.Unlock()
		return
	}
	rc.ackOutbound(b)
}

// ackOutbound inspects the outbound frame's label and emits the matching
// synthetic acknowledgement described by the drain algorithm.
func (rc *RelayConnection) ackOutbound(b []byte) {
	label, rem, err := envelopes.Identify(b)
	if err != nil {
		return
	}
	switch label {
	case reqenvelope.L:
		req := reqenvelope.New()
		if _, err = req.Unmarshal(rem); err != nil {
			return
		}
		sid := string(req.Subscription)
		rc.mu.Lock()
		rc.active[sid] = struct{}{}
		rc.mu.Unlock()
		rc.emit(syntheticOK(req.Subscription, "SUBSCRIBED"))
	case closeenvelope.L:
		ce := closeenvelope.New()
		if _, err = ce.Unmarshal(rem); err != nil {
			return
		}
		sid := string(ce.ID)
		rc.mu.Lock()
		delete(rc.active, sid)
		empty := len(rc.active) == 0
		rc.mu.Unlock()
		rc.emit(syntheticOK(ce.ID, "CLOSED"))
		if empty {
			go rc.teardown()
		}
	case eventenvelope.L:
		sub := eventenvelope.NewSubmission()
		if _, err = sub.Unmarshal(rem); err != nil {
			return
		}
		rc.emit(syntheticOK(hex.Enc(sub.E.ID), "SENT"))
	}
}

// syntheticOK builds an `["OK",<id>,<message>]` frame without hex-encoding
// id, since in the drain algorithm's synthetic acks id is already a
// caller-supplied subscription id or a hex event id string, never raw bytes
// needing encoding (unlike okenvelope, which always hex-encodes its event
// id field).
func syntheticOK[V string | []byte](id V, message string) []byte {
	return envelopes.Marshal(
		nil, "OK", func(b []byte) []byte {
			b = text.AppendQuote(b, []byte(string(id)), text.NostrEscape)
			b = append(b, ',')
			b = text.AppendQuote(b, []byte(message), text.NostrEscape)
			return b
		},
	)
}

func (rc *RelayConnection) emit(b []byte) {
	rc.mgr.output(Frame{URL: rc.url, Data: b})
}

// readLoop implements the reader algorithm: every incoming text frame is
// reparsed and re-serialized to one of EVENT/EOSE/OK/CLOSED/NOTICE/AUTH and
// handed to the output writer. Binary frames are discarded.
func (rc *RelayConnection) readLoop() {
	for {
		rc.mu.Lock()
		conn := rc.conn
		rc.mu.Unlock()
		if conn == nil {
			return
		}
		typ, msg, err := conn.Read(rc.ctx)
		if err != nil {
			rc.mu.Lock()
			if rc.state != StateClosed {
				rc.state = StateFailed
				rc.conn = nil
			}
			rc.mu.Unlock()
			return
		}
		if typ != websocket.MessageText {
			log.D.F("%s: discarding binary frame", rc.url)
			continue
		}
		rc.handleIncoming(msg)
	}
}

func (rc *RelayConnection) handleIncoming(msg []byte) {
	label, rem, err := envelopes.Identify(msg)
	if err != nil {
		return
	}
	switch label {
	case eventenvelope.L:
		res := eventenvelope.NewResult()
		if _, err = res.Unmarshal(rem); err != nil {
			return
		}
		rc.emit(res.Marshal(nil))
	case eoseenvelope.L:
		eo := eoseenvelope.New()
		if _, err = eo.Unmarshal(rem); err != nil {
			return
		}
		rc.emit(eo.Marshal(nil))
	case closedenvelope.L:
		cd := closedenvelope.New()
		if _, err = cd.Unmarshal(rem); err != nil {
			return
		}
		sid := string(cd.Subscription)
		rc.mu.Lock()
		delete(rc.active, sid)
		rc.mu.Unlock()
		rc.emit(cd.Marshal(nil))
	case noticeenvelope.L:
		n := noticeenvelope.New()
		if _, err = n.Unmarshal(rem); err != nil {
			return
		}
		rc.emit(n.Marshal(nil))
	case okenvelope.L:
		ok := okenvelope.New()
		if _, err = ok.Unmarshal(rem); err != nil {
			return
		}
		rc.emit(ok.Marshal(nil))
	case authenvelope.L:
		ac := authenvelope.NewChallenge()
		if _, err = ac.Unmarshal(rem); err != nil {
			return
		}
		rc.emit(ac.Marshal(nil))
	}
}
