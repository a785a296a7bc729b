package okenvelope

import (
	"testing"

	"lol.mleku.dev/chk"
	"lukechampine.com/frand"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/utils/fastequal"
)

func TestMarshalUnmarshal(t *testing.T) {
	var err error
	msgs := [][]byte{{}, []byte("duplicate: already have this event"), []byte("blocked: no")}
	for i := range 200 {
		id := frand.Bytes(32)
		ok := i%2 == 0
		req := NewFrom(id, ok, msgs[i%len(msgs)])
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
		req2 := New()
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
