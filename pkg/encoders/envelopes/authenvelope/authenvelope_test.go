package authenvelope

import (
	"testing"
	"time"

	"lol.mleku.dev/chk"
	"lukechampine.com/frand"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/utils/fastequal"
)

func TestChallengeMarshalUnmarshal(t *testing.T) {
	var err error
	for range 200 {
		chal := frand.Bytes(32)
		req := NewChallengeWith(chal)
		b := req.Marshal(nil)
		b1 := append([]byte{}, b...)
		var l string
		var rem []byte
		if l, rem, err = envelopes.Identify(b); chk.E(err) {
			t.Fatal(err)
		}
		if l != L {
			t.Fatalf("invalid sentinel %s, expect %s", l, L)
		}
		req2 := NewChallenge()
		if rem, err = req2.Unmarshal(rem); chk.E(err) {
			t.Fatal(err)
		}
		if len(rem) > 0 {
			t.Fatalf("unmarshal failed, remainder\n%d %s", len(rem), rem)
		}
		b2 := req2.Marshal(nil)
		if !fastequal.FastEqual(b1, b2) {
			t.Fatalf("unmarshal failed\n%s\n%s\n", b1, b2)
		}
	}
}

func TestResponseMarshalUnmarshal(t *testing.T) {
	var err error
	for range 100 {
		ev := event.New()
		ev.ID = frand.Bytes(32)
		ev.Pubkey = frand.Bytes(32)
		ev.CreatedAt = time.Now().Unix()
		ev.Kind = 22242
		ev.Tags = &tag.S{{T: [][]byte{[]byte("relay"), []byte("wss://relay.example.com")}}}
		ev.Content = []byte("")
		ev.Sig = frand.Bytes(64)
		req := NewResponseWith(ev)
		b := req.Marshal(nil)
		b1 := append([]byte{}, b...)
		var l string
		var rem []byte
		if l, rem, err = envelopes.Identify(b); chk.E(err) {
			t.Fatal(err)
		}
		if l != L {
			t.Fatalf("invalid sentinel %s, expect %s", l, L)
		}
		req2 := NewResponse()
		if rem, err = req2.Unmarshal(rem); chk.E(err) {
			t.Fatal(err)
		}
		if len(rem) > 0 {
			t.Fatalf("unmarshal failed, remainder\n%d %s", len(rem), rem)
		}
		b2 := req2.Marshal(nil)
		if !fastequal.FastEqual(b1, b2) {
			t.Fatalf("unmarshal failed\n%s\n%s\n", b1, b2)
		}
		ev.Free()
	}
}
