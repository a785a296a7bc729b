package eventenvelope

import (
	"fmt"
	"testing"
	"time"

	"lol.mleku.dev/chk"
	"lukechampine.com/frand"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/utils/bufpool"
	"worker.orly.dev/pkg/utils/fastequal"
)

func genEvent() (ev *event.E) {
	ev = event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = frand.Bytes(32)
	ev.CreatedAt = time.Now().Unix()
	ev.Kind = 1
	ev.Tags = &tag.S{{T: [][]byte{[]byte("t"), []byte("hashtag")}}}
	ev.Content = []byte("hello world")
	ev.Sig = frand.Bytes(64)
	return
}

func TestSubmission(t *testing.T) {
	var err error
	for range 100 {
		c, rem, out := bufpool.Get(), bufpool.Get(), bufpool.Get()
		ev := genEvent()
		ea := NewSubmissionWith(ev)
		rem = ea.Marshal(rem)
		c = append(c, rem...)
		var l string
		if l, rem, err = envelopes.Identify(rem); chk.E(err) {
			t.Fatal(err)
		}
		if l != L {
			t.Fatalf("invalid sentinel %s, expect %s", l, L)
		}
		ea2 := NewSubmission()
		if rem, err = ea2.Unmarshal(rem); chk.E(err) {
			t.Fatal(err)
		}
		if len(rem) != 0 {
			t.Fatalf("some of input remaining after marshal/unmarshal: '%s'", rem)
		}
		out = ea2.Marshal(out)
		if !fastequal.FastEqual(out, c) {
			t.Fatalf("mismatched output\n%s\n\n%s\n", c, out)
		}
		bufpool.Put(c)
		bufpool.Put(rem)
		bufpool.Put(out)
		ev.Free()
	}
}

func TestResult(t *testing.T) {
	var err error
	for count := range 100 {
		c, rem, out := bufpool.Get(), bufpool.Get(), bufpool.Get()
		ev := genEvent()
		sub := []byte(fmt.Sprintf("sub:%d", count))
		var ea *Result
		if ea, err = NewResultWith(sub, ev); chk.E(err) {
			t.Fatal(err)
		}
		rem = ea.Marshal(rem)
		c = append(c, rem...)
		var l string
		if l, rem, err = envelopes.Identify(rem); chk.E(err) {
			t.Fatal(err)
		}
		if l != L {
			t.Fatalf("invalid sentinel %s, expect %s", l, L)
		}
		ea2 := NewResult()
		if rem, err = ea2.Unmarshal(rem); chk.E(err) {
			t.Fatal(err)
		}
		if len(rem) != 0 {
			t.Fatalf("some of input remaining after marshal/unmarshal: '%s'", rem)
		}
		out = ea2.Marshal(out)
		if !fastequal.FastEqual(out, c) {
			t.Fatalf("mismatched output\n%s\n\n%s\n", c, out)
		}
		bufpool.Put(c)
		bufpool.Put(rem)
		bufpool.Put(out)
		ev.Free()
	}
}
