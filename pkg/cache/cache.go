// Package cache is component C2: it persists raw frames into kind-class
// append-only rings, maintains inverted indexes over ids/kinds/pubkeys/tags,
// and answers filter queries without ever touching the network.
package cache

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
	"worker.orly.dev/pkg/database"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/tag"
)

// shard names, keyed by a kind-class function: kind 0, kind 4, kind 7375,
// plus a default bucket for everything else.
const (
	shardKind0    = "k0"
	shardKind4    = "k4"
	shardKind7375 = "k7375"
	shardDefault  = "default"
)

// shardOrder fixes each shard's index for offset encoding; it must never
// reorder across a process restart, since already-stored offsets decode
// against it.
var shardOrder = []string{shardDefault, shardKind0, shardKind4, shardKind7375}

func shardFor(k uint16) string {
	switch k {
	case 0:
		return shardKind0
	case 4:
		return shardKind4
	case 7375:
		return shardKind7375
	default:
		return shardDefault
	}
}

func shardIndex(name string) int {
	for i, s := range shardOrder {
		if s == name {
			return i
		}
	}
	return 0
}

// Offset is an opaque, monotonically increasing (within its shard) locator
// for a stored frame: the shard index occupies the high 16 bits, the
// per-shard sequence the low 48.
type Offset uint64

func encodeOffset(shard string, seq uint64) Offset {
	return Offset(uint64(shardIndex(shard))<<48 | (seq & 0xffffffffffff))
}

func (o Offset) shard() string { return shardOrder[int(o>>48)] }
func (o Offset) seq() uint64   { return uint64(o) & 0xffffffffffff }

// ErrStorage is returned by query operations on an unrecoverable decode or
// I/O error; it never poisons the in-memory indexes.
var ErrStorage = errorf.E("cache: storage error")

// Cache is component C2. One badger DB backs every shard, keys prefixed by
// shard name so a single database file holds the whole ring set.
type Cache struct {
	mu  sync.RWMutex
	db  *badger.DB
	seq map[string]uint64

	byID     map[string]Offset
	byKind   map[uint16][]string
	byPubkey map[string][]string
	byTag    map[byte]map[string][]string // letters e, E, p, P, a, d

	// latestRelayList maps a pubkey to its newest-seen kind-10002 event, so
	// get_relays can resolve write/read relays without scanning by_kind.
	latestRelayList map[string]*event.E
}

// relevantTagLetters are the only tag positions the inverted index covers:
// e, E, p, P, a, d.
var relevantTagLetters = map[byte]struct{}{
	'e': {}, 'E': {}, 'p': {}, 'P': {}, 'a': {}, 'd': {},
}

// Open opens (or creates) the cache's badger database at dataDir.
func Open(dataDir string) (c *Cache, err error) {
	if err = os.MkdirAll(dataDir, 0755); chk.E(err) {
		return
	}
	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil
	var db *badger.DB
	if db, err = badger.Open(opts); chk.E(err) {
		return
	}
	c = &Cache{
		db:              db,
		seq:             make(map[string]uint64),
		byID:            make(map[string]Offset),
		byKind:          make(map[uint16][]string),
		byPubkey:        make(map[string][]string),
		byTag:           make(map[byte]map[string][]string, len(relevantTagLetters)),
		latestRelayList: make(map[string]*event.E),
	}
	for l := range relevantTagLetters {
		c.byTag[l] = make(map[string][]string)
	}
	return
}

// Close closes the underlying database.
func (c *Cache) Close() (err error) {
	return c.db.Close()
}

func shardKey(shard string, seq uint64) []byte {
	return append([]byte(shard+"/"), seqBytes(seq)...)
}

func seqBytes(seq uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(seq)
		seq >>= 8
	}
	return b
}

// recognize decodes a stored/ingested frame into its event view. Callers
// always pass the inner event bytes a WorkerMessage's payload already
// carries (pkg/wire.DecodeWorkerMessage/pkg/dispatcher.Decode strip the
// envelope before the frame reaches the cache), so this only ever needs the
// direct NostrEvent decoding.
func recognize(b []byte) (ev *event.E, err error) {
	ev = event.New()
	if err = json.Unmarshal(b, ev); chk.E(err) {
		return nil, err
	}
	return
}

// AddWorkerMessageBytes ingests one raw frame: it is parsed, appended to its
// kind-class shard, and indexed by id, kind, pubkey, and tag letter.
func (c *Cache) AddWorkerMessageBytes(b []byte) (err error) {
	ev, err := recognize(b)
	if err != nil {
		log.D.F("cache: dropping undecodable frame: %v", err)
		return nil
	}
	shard := shardFor(ev.Kind)

	c.mu.Lock()
	seq := c.seq[shard]
	c.seq[shard] = seq + 1
	c.mu.Unlock()

	key := shardKey(shard, seq)
	if err = c.db.Update(
		func(txn *badger.Txn) error {
			return txn.Set(key, b)
		},
	); chk.E(err) {
		return
	}

	off := encodeOffset(shard, seq)
	id := hex.Enc(ev.ID)
	pub := hex.Enc(ev.Pubkey)

	c.mu.Lock()
	c.byID[id] = off
	c.byKind[ev.Kind] = append(c.byKind[ev.Kind], id)
	c.byPubkey[pub] = append(c.byPubkey[pub], id)
	indexTags(c.byTag, ev.Tags, id)
	indexRelayList(c.latestRelayList, ev)
	c.mu.Unlock()

	// Word-hash tokens are computed and stored for a future search-enabled
	// query path; QueryEvents does not consult them today (the `search`
	// filter field is stored but not applied).
	if hashes := database.TokenHashes(ev.Content); len(hashes) > 0 {
		tokKey := append([]byte("tok/"), id...)
		tokVal := make([]byte, 0, len(hashes)*8)
		for _, h := range hashes {
			tokVal = append(tokVal, h...)
		}
		if err = c.db.Update(
			func(txn *badger.Txn) error {
				return txn.Set(tokKey, tokVal)
			},
		); chk.E(err) {
			log.D.F("cache: token index write failed: %v", err)
			err = nil
		}
	}
	return
}

// indexRelayList tracks, per author, the newest kind-10002 event seen so
// get_relays never has to scan by_kind.
func indexRelayList(latest map[string]*event.E, ev *event.E) {
	if ev.Kind != 10002 {
		return
	}
	pub := hex.Enc(ev.Pubkey)
	if cur, ok := latest[pub]; ok && cur.CreatedAt >= ev.CreatedAt {
		return
	}
	latest[pub] = ev
}

func indexTags(byTag map[byte]map[string][]string, tags *tag.S, id string) {
	if tags == nil {
		return
	}
	for _, t := range *tags {
		if t.Len() < 2 {
			continue
		}
		key := t.Key()
		if len(key) != 1 {
			continue
		}
		letter := key[0]
		idx, ok := byTag[letter]
		if !ok {
			continue
		}
		val := string(t.Value())
		idx[val] = append(idx[val], id)
	}
}

// Read fetches the raw bytes stored at off.
func (c *Cache) Read(off Offset) (b []byte, err error) {
	key := shardKey(off.shard(), off.seq())
	err = c.db.View(
		func(txn *badger.Txn) error {
			item, ierr := txn.Get(key)
			if ierr != nil {
				return ierr
			}
			b, ierr = item.ValueCopy(nil)
			return ierr
		},
	)
	return
}

// Initialize rebuilds every index from the durable shards. It is idempotent:
// a re-initialize clears the in-memory indexes first.
func (c *Cache) Initialize() (err error) {
	c.mu.Lock()
	c.byID = make(map[string]Offset)
	c.byKind = make(map[uint16][]string)
	c.byPubkey = make(map[string][]string)
	for l := range relevantTagLetters {
		c.byTag[l] = make(map[string][]string)
	}
	c.latestRelayList = make(map[string]*event.E)
	c.seq = make(map[string]uint64)
	c.mu.Unlock()

	for _, shard := range shardOrder {
		if err = c.rebuildShard(shard); chk.E(err) {
			return
		}
	}
	return
}

// rebuildShard performs a two-pass rebuild: a counting pass (a pre-allocation
// hint only; Go's map growth makes the counts advisory) followed by an
// indexing pass.
func (c *Cache) rebuildShard(shard string) (err error) {
	prefix := []byte(shard + "/")
	var raws [][]byte
	if err = c.db.View(
		func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				b, ierr := it.Item().ValueCopy(nil)
				if ierr != nil {
					return ierr
				}
				raws = append(raws, b)
			}
			return nil
		},
	); chk.E(err) {
		return
	}

	pubkeyFreq := make(map[string]int)
	for _, raw := range raws {
		ev, derr := recognize(raw)
		if derr != nil {
			continue
		}
		pubkeyFreq[hex.Enc(ev.Pubkey)]++
	}
	frequentPubkeys := make(map[string]struct{})
	for pub, n := range pubkeyFreq {
		if n > 5 {
			frequentPubkeys[pub] = struct{}{}
		}
	}
	if len(frequentPubkeys) > 0 {
		c.mu.Lock()
		for pub := range frequentPubkeys {
			if _, ok := c.byPubkey[pub]; !ok {
				c.byPubkey[pub] = make([]string, 0, pubkeyFreq[pub])
			}
		}
		c.mu.Unlock()
	}

	for seq, raw := range raws {
		ev, derr := recognize(raw)
		if derr != nil {
			log.D.F("cache: skipping undecodable frame in shard %s", shard)
			continue
		}
		off := encodeOffset(shard, uint64(seq))
		id := hex.Enc(ev.ID)
		pub := hex.Enc(ev.Pubkey)
		c.mu.Lock()
		c.byID[id] = off
		c.byKind[ev.Kind] = append(c.byKind[ev.Kind], id)
		c.byPubkey[pub] = append(c.byPubkey[pub], id)
		indexTags(c.byTag, ev.Tags, id)
		indexRelayList(c.latestRelayList, ev)
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.seq[shard] = uint64(len(raws))
	c.mu.Unlock()

	var totalBytes uint64
	for _, raw := range raws {
		totalBytes += uint64(len(raw))
	}
	log.I.F(
		"cache: rebuilt shard %s: %d frames, %s", shard, len(raws),
		humanize.Bytes(totalBytes),
	)
	return
}
