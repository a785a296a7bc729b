package cache

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"lukechampine.com/frand"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/kind"
	"worker.orly.dev/pkg/encoders/tag"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir, err := os.MkdirTemp("", "cache-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mkEvent(k uint16, pub []byte, createdAt int64, tags ...*tag.T) *event.E {
	ev := event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = pub
	ev.CreatedAt = createdAt
	ev.Kind = k
	ev.Content = []byte("hello")
	ev.Sig = frand.Bytes(64)
	s := tag.S(tags)
	ev.Tags = &s
	return ev
}

func mustBytes(t *testing.T, ev *event.E) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAddAndQueryByKind(t *testing.T) {
	c := newTestCache(t)
	pub := frand.Bytes(32)
	ev := mkEvent(1, pub, time.Now().Unix())
	if err := c.AddWorkerMessageBytes(mustBytes(t, ev)); err != nil {
		t.Fatal(err)
	}

	f := filter.New()
	f.Kinds = kind.NewS(kind.New(1))
	res, err := c.QueryEvents(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || string(res.Events[0].ID) != string(ev.ID) {
		t.Fatalf("expected to find the event, got %d results", len(res.Events))
	}
}

func TestQueryByAuthorAndTag(t *testing.T) {
	c := newTestCache(t)
	pub := frand.Bytes(32)
	referenced := frand.Bytes(32)
	ev := mkEvent(1, pub, time.Now().Unix(), tag.NewFromAny("e", string(referenced)))
	if err := c.AddWorkerMessageBytes(mustBytes(t, ev)); err != nil {
		t.Fatal(err)
	}
	other := mkEvent(1, frand.Bytes(32), time.Now().Unix())
	if err := c.AddWorkerMessageBytes(mustBytes(t, other)); err != nil {
		t.Fatal(err)
	}

	f := filter.New()
	f.Authors = tag.NewFromByteSlice(pub)
	res, err := c.QueryEvents(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || string(res.Events[0].ID) != string(ev.ID) {
		t.Fatalf("expected author-filtered match, got %d", len(res.Events))
	}

	f2 := filter.New()
	s := tag.S{tag.NewFromAny("#e", string(referenced))}
	f2.Tags = &s
	res2, err := c.QueryEvents(f2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Events) != 1 || string(res2.Events[0].ID) != string(ev.ID) {
		t.Fatalf("expected tag-filtered match, got %d", len(res2.Events))
	}
}

func TestQueryRespectsLimitAndOrder(t *testing.T) {
	c := newTestCache(t)
	pub := frand.Bytes(32)
	base := time.Now().Unix()
	var newest *event.E
	for i := 0; i < 5; i++ {
		ev := mkEvent(1, pub, base+int64(i))
		newest = ev
		if err := c.AddWorkerMessageBytes(mustBytes(t, ev)); err != nil {
			t.Fatal(err)
		}
	}

	f := filter.New()
	f.Kinds = kind.NewS(kind.New(1))
	limit := uint(2)
	f.Limit = &limit
	res, err := c.QueryEvents(f)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasMore {
		t.Fatal("expected HasMore with a truncating limit")
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res.Events))
	}
	if string(res.Events[0].ID) != string(newest.ID) {
		t.Fatal("expected newest-first ordering")
	}
}

func TestInitializeRebuildsIndexesFromDisk(t *testing.T) {
	dir, err := os.MkdirTemp("", "cache-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	pub := frand.Bytes(32)
	var id []byte
	func() {
		c, oerr := Open(dir)
		if oerr != nil {
			t.Fatal(oerr)
		}
		defer c.Close()
		ev := mkEvent(1, pub, time.Now().Unix())
		id = ev.ID
		if aerr := c.AddWorkerMessageBytes(mustBytes(t, ev)); aerr != nil {
			t.Fatal(aerr)
		}
	}()

	c2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if err = c2.Initialize(); err != nil {
		t.Fatal(err)
	}

	f := filter.New()
	f.Kinds = kind.NewS(kind.New(1))
	res, err := c2.QueryEvents(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || string(res.Events[0].ID) != string(id) {
		t.Fatalf("expected rebuilt index to find the event, got %d", len(res.Events))
	}
}

func TestQueryEventsAndRequestsRoutesToNetworkWhenEmpty(t *testing.T) {
	c := newTestCache(t)
	f := filter.New()
	f.Kinds = kind.NewS(kind.New(9999))
	out, err := c.QueryEventsAndRequests(
		[]Request{{Filter: f, CacheFirst: true}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || !out[0].ForwardToNetwork {
		t.Fatal("expected forwarding when the cache has no matches")
	}
}

func TestGetRelaysFallsBackWithoutRelayListData(t *testing.T) {
	c := newTestCache(t)
	f := filter.New()
	f.Kinds = kind.NewS(kind.New(0))
	cfg := RelayListConfig{Indexer: []string{"wss://indexer.example"}, Default: []string{"wss://default.example"}}
	urls := c.GetRelays(f, cfg)
	if len(urls) != 1 || urls[0] != "wss://indexer.example" {
		t.Fatalf("expected indexer fallback for kind 0, got %v", urls)
	}
}

func TestGetRelaysUsesLatestRelayList(t *testing.T) {
	c := newTestCache(t)
	pub := frand.Bytes(32)
	ev := mkEvent(
		10002, pub, time.Now().Unix(),
		tag.NewFromAny("r", "wss://write.example", "write"),
		tag.NewFromAny("r", "wss://both.example"),
	)
	if err := c.AddWorkerMessageBytes(mustBytes(t, ev)); err != nil {
		t.Fatal(err)
	}

	f := filter.New()
	f.Authors = tag.NewFromByteSlice(pub)
	cfg := RelayListConfig{Indexer: []string{"wss://indexer.example"}, Default: []string{"wss://default.example"}}
	urls := c.GetRelays(f, cfg)
	if len(urls) != 2 {
		t.Fatalf("expected both relay entries, got %v", urls)
	}
}
