package nip46

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
	"lukechampine.com/frand"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
	"worker.orly.dev/pkg/crypto/encryption"
	"worker.orly.dev/pkg/crypto/p256k"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/kind"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/encoders/timestamp"
	"worker.orly.dev/pkg/interfaces/signer"
	"worker.orly.dev/pkg/protocol/ws"
)

// KindRPC is the event kind every NIP-46 request/response frame is
// published as.
const KindRPC = 24133

// CallTimeout is the deadline for a single RPC round trip.
const CallTimeout = 20 * time.Second

type rpcEnvelope struct {
	ID     string   `json:"id"`
	Method string   `json:"method,omitempty"`
	Params []string `json:"params,omitempty"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// DiscoveryHandler is invoked once in QR mode, when the remote signer's
// pubkey is learned from its first valid reply.
type DiscoveryHandler func(remotePubkey []byte)

// Client is a NIP-46 remote-signer session: an ephemeral keypair, a set of
// relays, and a correlator matching outgoing call ids to incoming replies.
type Client struct {
	mu sync.Mutex

	clientKey    signer.I
	relays       []string
	remotePubkey []byte
	convKey      []byte // NIP-44 conversation key
	nip04Key     []byte // raw ECDH shared secret, for legacy NIP-04 fallback
	clientTag    string

	discoverySecret string
	onDiscover      DiscoveryHandler

	userPubkey []byte

	conn    *ws.Client
	sub     *ws.Subscription
	pending map[string]chan rpcEnvelope

	closed chan struct{}
}

// DialBunker connects in bunker mode: the remote signer's pubkey and relays
// are already known from the bunker:// URI.
func DialBunker(ctx context.Context, bunkerURI string, clientTag string) (cl *Client, err error) {
	var p *bunkerParams
	if p, err = parseBunkerURI(bunkerURI); chk.E(err) {
		return
	}
	cl = newClient(p.relays, clientTag)
	if err = cl.generateClientKey(); chk.E(err) {
		return
	}
	cl.remotePubkey = p.remotePubkey
	if cl.convKey, err = cl.conversationKey(p.remotePubkey); chk.E(err) {
		return
	}
	if cl.nip04Key, err = cl.rawECDHKey(p.remotePubkey); chk.E(err) {
		return
	}
	if err = cl.dial(ctx); chk.E(err) {
		return
	}
	if _, err = cl.Call(ctx, "connect", nonEmptyParams(hex.Enc(p.remotePubkey), p.secret)); chk.E(err) {
		return
	}
	return
}

// ConnectURI starts QR mode: it generates an ephemeral client key and a
// pairing secret, returns the nostrconnect:// URI to display, and begins
// listening for the remote signer's first reply. onDiscover is called when
// pairing completes.
func ConnectURI(
	ctx context.Context, relays []string, name, clientTag string, onDiscover DiscoveryHandler,
) (cl *Client, uri string, err error) {
	cl = newClient(relays, clientTag)
	if err = cl.generateClientKey(); chk.E(err) {
		return
	}
	cl.discoverySecret = hex.Enc(frand.Bytes(16))
	cl.onDiscover = onDiscover
	if err = cl.dial(ctx); chk.E(err) {
		return
	}
	uri = buildConnectURI(cl.clientKey.Pub(), relays, cl.discoverySecret, name)
	return
}

func newClient(relays []string, clientTag string) *Client {
	return &Client{
		relays:    relays,
		clientTag: clientTag,
		pending:   make(map[string]chan rpcEnvelope),
		closed:    make(chan struct{}),
	}
}

func (cl *Client) generateClientKey() (err error) {
	sgn := &p256k.Signer{}
	if err = sgn.Generate(); chk.E(err) {
		return
	}
	cl.clientKey = sgn
	return
}

func (cl *Client) conversationKey(peerPub []byte) (key []byte, err error) {
	sk := secp256k1.SecKeyFromBytes(cl.clientKey.Sec())
	return encryption.ConversationKey(sk, peerPub)
}

// rawECDHKey derives the legacy NIP-04 shared secret (the ECDH shared
// x-coordinate, used directly as the AES key with no further derivation).
func (cl *Client) rawECDHKey(peerPub []byte) (key []byte, err error) {
	sk := secp256k1.SecKeyFromBytes(cl.clientKey.Sec())
	return secp256k1.ECDH(sk, peerPub)
}

func (cl *Client) dial(ctx context.Context) (err error) {
	if len(cl.relays) == 0 {
		err = errorf.E("nip46: no relays configured")
		return
	}
	if cl.conn, err = ws.RelayConnect(ctx, cl.relays[0]); chk.E(err) {
		return
	}
	if cl.sub, err = cl.conn.Subscribe(
		ctx, filter.NewS(
			&filter.F{
				Kinds: kind.NewS(kind.New(KindRPC)),
				Tags:  tag.NewS(tag.NewFromAny("p", hex.Enc(cl.clientKey.Pub()))),
				Since: &timestamp.T{V: time.Now().Unix()},
			},
		),
	); chk.E(err) {
		return
	}
	go cl.readLoop()
	return
}

func (cl *Client) readLoop() {
	for ev := range cl.sub.Events {
		if ev == nil {
			break
		}
		cl.handleIncoming(ev)
	}
	close(cl.closed)
}

func (cl *Client) handleIncoming(ev *event.E) {
	cl.mu.Lock()
	remoteKnown := cl.remotePubkey != nil
	convKey := cl.convKey
	nip04Key := cl.nip04Key
	cl.mu.Unlock()

	if !remoteKnown {
		candidateConv, err := cl.conversationKey(ev.Pubkey)
		if err != nil {
			return
		}
		candidateRaw, err := cl.rawECDHKey(ev.Pubkey)
		if err != nil {
			return
		}
		plain, derr := decryptAuto(ev.Content, candidateConv, candidateRaw)
		if derr != nil {
			return
		}
		var env rpcEnvelope
		if err = json.Unmarshal(plain, &env); err != nil {
			return
		}
		if env.Result != cl.discoverySecret {
			return
		}
		cl.mu.Lock()
		cl.remotePubkey = ev.Pubkey
		cl.convKey = candidateConv
		cl.nip04Key = candidateRaw
		cl.mu.Unlock()
		if cl.onDiscover != nil {
			cl.onDiscover(ev.Pubkey)
		}
		cl.deliver(env)
		return
	}

	plain, err := decryptAuto(ev.Content, convKey, nip04Key)
	if err != nil {
		log.D.F("nip46: failed to decrypt reply from %s: %v", hex.Enc(ev.Pubkey), err)
		return
	}
	var env rpcEnvelope
	if err = json.Unmarshal(plain, &env); err != nil {
		return
	}
	cl.deliver(env)
}

func (cl *Client) deliver(env rpcEnvelope) {
	cl.mu.Lock()
	ch, ok := cl.pending[env.ID]
	cl.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- env:
	default:
	}
}

// decryptAuto picks NIP-44 or legacy NIP-04 decryption by inspecting the
// payload shape: NIP-04 payloads carry a "?iv=" marker NIP-44's base64
// encoding never produces.
func decryptAuto(content, convKey, nip04Key []byte) (plain []byte, err error) {
	if bytes.Contains(content, []byte("?iv=")) {
		return encryption.DecryptNIP04(content, nip04Key)
	}
	return encryption.Decrypt(content, convKey)
}

// Call performs one RPC round trip: id, method, params are encrypted,
// wrapped in a kind-24133 event signed by the ephemeral client key, and
// published to the configured relay; it blocks until a reply with a
// matching id arrives or CallTimeout elapses.
func (cl *Client) Call(ctx context.Context, method string, params []string) (result string, err error) {
	cl.mu.Lock()
	remote := cl.remotePubkey
	convKey := cl.convKey
	cl.mu.Unlock()
	if remote == nil {
		err = errorf.E("nip46: no remote signer paired yet")
		return
	}

	id := hex.Enc(frand.Bytes(8))
	req := rpcEnvelope{ID: id, Method: method, Params: params}
	var body []byte
	if body, err = json.Marshal(req); chk.E(err) {
		return
	}
	var content []byte
	if content, err = encryption.Encrypt(body, convKey); chk.E(err) {
		return
	}

	tags := []*tag.T{tag.NewFromAny("p", hex.Enc(remote))}
	if cl.clientTag != "" {
		tags = append(tags, tag.NewFromAny("client", cl.clientTag))
	}
	ev := &event.E{
		Content:   content,
		CreatedAt: time.Now().Unix(),
		Kind:      KindRPC,
		Tags:      tag.NewS(tags...),
	}
	if err = ev.Sign(cl.clientKey); chk.E(err) {
		return
	}

	replyCh := make(chan rpcEnvelope, 1)
	cl.mu.Lock()
	cl.pending[id] = replyCh
	cl.mu.Unlock()
	defer func() {
		cl.mu.Lock()
		delete(cl.pending, id)
		cl.mu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	if err = cl.conn.Publish(callCtx, ev); chk.E(err) {
		return
	}

	select {
	case <-callCtx.Done():
		err = errorf.E("nip46: rpc %q timed out", method)
		return
	case env := <-replyCh:
		if env.Error != "" {
			err = errorf.E("nip46: remote signer error: %s", env.Error)
			return
		}
		result = env.Result
		return
	}
}

func nonEmptyParams(vals ...string) (out []string) {
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return
}

// Done is closed once the underlying relay subscription ends.
func (cl *Client) Done() <-chan struct{} { return cl.closed }

// Close tears down the relay connection.
func (cl *Client) Close() (err error) {
	if cl.sub != nil {
		cl.sub.Unsub()
	}
	if cl.conn != nil {
		err = cl.conn.Close()
	}
	return
}

// Ping verifies the remote signer session is alive.
func (cl *Client) Ping(ctx context.Context) (err error) {
	_, err = cl.Call(ctx, "ping", nil)
	return
}

// GetPublicKey fetches and caches the user's pubkey.
func (cl *Client) GetPublicKey(ctx context.Context) (pub []byte, err error) {
	cl.mu.Lock()
	cached := cl.userPubkey
	cl.mu.Unlock()
	if cached != nil {
		pub = cached
		return
	}
	var result string
	if result, err = cl.Call(ctx, "get_public_key", nil); chk.E(err) {
		return
	}
	if pub, err = hex.Dec(strings.TrimSpace(result)); chk.E(err) {
		return
	}
	cl.mu.Lock()
	cl.userPubkey = pub
	cl.mu.Unlock()
	return
}

// SignEvent sends an unsigned event template JSON and returns the signed
// event JSON the remote signer produced.
func (cl *Client) SignEvent(ctx context.Context, eventJSON string) (signedJSON string, err error) {
	return cl.Call(ctx, "sign_event", []string{eventJSON})
}

// Nip04Encrypt/Nip04Decrypt/Nip44Encrypt/Nip44Decrypt proxy the matching
// RPC methods to the remote signer, against the given peer pubkey.
func (cl *Client) Nip04Encrypt(ctx context.Context, peerPubkey, plaintext string) (ciphertext string, err error) {
	return cl.Call(ctx, "nip04_encrypt", []string{peerPubkey, plaintext})
}

func (cl *Client) Nip04Decrypt(ctx context.Context, peerPubkey, ciphertext string) (plaintext string, err error) {
	return cl.Call(ctx, "nip04_decrypt", []string{peerPubkey, ciphertext})
}

func (cl *Client) Nip44Encrypt(ctx context.Context, peerPubkey, plaintext string) (ciphertext string, err error) {
	return cl.Call(ctx, "nip44_encrypt", []string{peerPubkey, plaintext})
}

func (cl *Client) Nip44Decrypt(ctx context.Context, peerPubkey, ciphertext string) (plaintext string, err error) {
	return cl.Call(ctx, "nip44_decrypt", []string{peerPubkey, ciphertext})
}
