// Package dispatcher is component C4: it drains the cache-reply and
// network-reply rings fairly, decodes each frame's subscription id, and
// routes it to a fixed pool of shard workers so that any one subscription's
// messages are always processed in arrival order while different
// subscriptions run concurrently.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"lol.mleku.dev/log"
	"worker.orly.dev/pkg/ring"
)

// NumShards is the fixed shard-worker pool size; the last SlowShards of them
// are reserved for subscriptions explicitly flagged slow.
const NumShards = 10

// SlowShards is the count of NumShards reserved for slow subscriptions.
const SlowShards = 2

// ShardCap is each shard's bounded channel capacity.
const ShardCap = 32

// BatchSize is how many queued items a shard worker opportunistically
// drains without awaiting before processing a batch.
const BatchSize = 8

// MessageType classifies a WorkerMessage's payload so the dispatcher knows
// whether to run the pipeline or just route/log.
type MessageType int

const (
	MsgEvent MessageType = iota
	MsgEOSE
	MsgNotice
	MsgAuth
	MsgClosed
	MsgOK
	// MsgProofs carries a WorkerToMain{Proofs{mint, proofs}} frame the Cashu
	// proof-verification pipe emits once a mint's pending proofs reconcile
	// to unspent; it bypasses subscription routing entirely (SubID is
	// ignored) since a reconciled proof set isn't scoped to one sub_id.
	MsgProofs
)

// WorkerMessage is the outer envelope the distributor decodes from each ring
// frame. Encode/Decode (wire.go) serialize it to and from the FlatBuffer
// frame pkg/wire builds.
type WorkerMessage struct {
	SubID     string
	Type      MessageType
	Payload   []byte
	OKResult  bool
	PublishID string
}

// Pipeline is the per-subscription processing chain a shard worker invokes
// for MsgEvent frames; component C3 implements this.
type Pipeline interface {
	Run(ctx context.Context, msg WorkerMessage) (out []byte, err error)
}

// Subscription is one live subscription's dispatch state.
type Subscription struct {
	SubID       string
	ForcedShard *int
	Pipeline    Pipeline
	Output      *ring.T
	PublishID   string

	mu    sync.Mutex
	eosed bool
}

// Eosed reports whether this subscription has seen end-of-stored-events.
func (s *Subscription) Eosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eosed
}

// Hooks lets the host observe dispatcher-level events without the
// dispatcher depending on a UI or a publish-tracking subsystem directly.
type Hooks struct {
	OnEOSE    func(subID string)
	OnNotice  func(subID string, payload []byte)
	OnAuth    func(subID string, payload []byte)
	OnClosed  func(subID string, payload []byte)
	OnPublish func(publishID string, ok bool)
	OnProofs  func(payload []byte)
}

type queued struct {
	msg WorkerMessage
}

// Dispatcher owns the shard pool and the subscription registry.
type Dispatcher struct {
	cacheReply   *ring.T
	networkReply *ring.T

	mu    sync.RWMutex
	subs  map[string]*Subscription

	shards [NumShards]chan queued
	hooks  Hooks
}

// New creates a Dispatcher reading from the given cache-reply and
// network-reply rings.
func New(cacheReply, networkReply *ring.T, hooks Hooks) *Dispatcher {
	d := &Dispatcher{
		cacheReply:   cacheReply,
		networkReply: networkReply,
		subs:         make(map[string]*Subscription),
		hooks:        hooks,
	}
	for i := range d.shards {
		d.shards[i] = make(chan queued, ShardCap)
	}
	return d
}

// Register adds a subscription to the registry so incoming frames for its
// sub_id can be routed.
func (d *Dispatcher) Register(sub *Subscription) {
	d.mu.Lock()
	d.subs[sub.SubID] = sub
	d.mu.Unlock()
}

// Unregister removes a subscription; shard messages already queued for it
// are discarded with a warning when they are reached.
func (d *Dispatcher) Unregister(subID string) {
	d.mu.Lock()
	delete(d.subs, subID)
	d.mu.Unlock()
}

func (d *Dispatcher) lookup(subID string) (sub *Subscription, ok bool) {
	d.mu.RLock()
	sub, ok = d.subs[subID]
	d.mu.RUnlock()
	return
}

// Run starts the distributor and the shard workers; it blocks until ctx is
// done.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.shards {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d.shardWorker(ctx, idx)
		}(i)
	}
	d.distribute(ctx)
	wg.Wait()
}

// distribute implements the distributor algorithm: alternate ring
// preference, decode the header, resolve a shard, and hand off the frame.
func (d *Dispatcher) distribute(ctx context.Context) {
	cachePreferred := true
	backoff := time.Millisecond

	for {
		if ctx.Err() != nil {
			return
		}
		frame, ok := d.readPreferred(cachePreferred)
		cachePreferred = !cachePreferred
		if !ok {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 128*time.Millisecond {
				backoff *= 2
			}
			continue
		}
		backoff = time.Millisecond

		msg, derr := Decode(frame)
		if derr != nil {
			continue
		}
		if msg.Type == MsgProofs {
			if d.hooks.OnProofs != nil {
				d.hooks.OnProofs(msg.Payload)
			}
			continue
		}
		if msg.SubID == "" {
			continue
		}
		d.route(ctx, msg)
	}
}

func (d *Dispatcher) readPreferred(cachePreferred bool) (frame []byte, ok bool) {
	first, second := d.networkReply, d.cacheReply
	if cachePreferred {
		first, second = d.cacheReply, d.networkReply
	}
	if frame, ok = first.TryRead(); ok {
		return
	}
	return second.TryRead()
}

func (d *Dispatcher) route(ctx context.Context, msg WorkerMessage) {
	shardIdx := d.resolveShard(msg.SubID)
	item := queued{msg: msg}
	select {
	case d.shards[shardIdx] <- item:
		return
	default:
	}
	select {
	case d.shards[shardIdx] <- item:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) resolveShard(subID string) int {
	if sub, ok := d.lookup(subID); ok && sub.ForcedShard != nil {
		return *sub.ForcedShard
	}
	activeShards := uint64(NumShards - SlowShards)
	return int(xxhash.Sum64String(subID) % activeShards)
}

// shardWorker loops forever: await one item, opportunistically drain up to
// BatchSize more without blocking, then process the batch in arrival order.
func (d *Dispatcher) shardWorker(ctx context.Context, idx int) {
	ch := d.shards[idx]
	for {
		var batch []queued
		select {
		case item := <-ch:
			batch = append(batch, item)
		case <-ctx.Done():
			return
		}
	drain:
		for len(batch) <= BatchSize {
			select {
			case item := <-ch:
				batch = append(batch, item)
			default:
				break drain
			}
		}
		for _, item := range batch {
			d.process(ctx, item.msg)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, msg WorkerMessage) {
	sub, ok := d.lookup(msg.SubID)
	if !ok {
		log.W.F("dispatcher: discarding message for unknown subscription %s", msg.SubID)
		return
	}

	switch msg.Type {
	case MsgEOSE:
		sub.mu.Lock()
		sub.eosed = true
		sub.mu.Unlock()
		if d.hooks.OnEOSE != nil {
			d.hooks.OnEOSE(sub.SubID)
		}
		return
	case MsgNotice:
		if d.hooks.OnNotice != nil {
			d.hooks.OnNotice(sub.SubID, msg.Payload)
		}
		return
	case MsgAuth:
		if d.hooks.OnAuth != nil {
			d.hooks.OnAuth(sub.SubID, msg.Payload)
		}
		return
	case MsgClosed:
		if d.hooks.OnClosed != nil {
			d.hooks.OnClosed(sub.SubID, msg.Payload)
		}
		return
	case MsgOK:
		if sub.PublishID != "" && d.hooks.OnPublish != nil {
			d.hooks.OnPublish(sub.PublishID, msg.OKResult)
		}
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.Pipeline == nil {
		return
	}
	out, err := sub.Pipeline.Run(ctx, msg)
	if err != nil {
		log.D.F("dispatcher: pipeline error for %s: %v", sub.SubID, err)
		return
	}
	if out != nil && sub.Output != nil {
		sub.Output.TryWrite(out)
	}
}
