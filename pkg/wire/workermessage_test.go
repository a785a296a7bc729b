package wire

import (
	"bytes"
	"testing"
)

func TestWorkerMessageRoundTrip(t *testing.T) {
	b := EncodeWorkerMessage("sub-1", 2, []byte("payload bytes"), true, "pub-1")

	subID, msgType, payload, okResult, publishID := DecodeWorkerMessage(b)
	if subID != "sub-1" {
		t.Fatalf("got sub_id %q", subID)
	}
	if msgType != 2 {
		t.Fatalf("got type %d", msgType)
	}
	if !bytes.Equal(payload, []byte("payload bytes")) {
		t.Fatalf("got payload %q", payload)
	}
	if !okResult {
		t.Fatal("expected ok_result to round-trip true")
	}
	if publishID != "pub-1" {
		t.Fatalf("got publish_id %q", publishID)
	}
}

func TestWorkerMessageRoundTripEmptyFields(t *testing.T) {
	b := EncodeWorkerMessage("", 0, nil, false, "")

	subID, msgType, payload, okResult, publishID := DecodeWorkerMessage(b)
	if subID != "" {
		t.Fatalf("got sub_id %q", subID)
	}
	if msgType != 0 {
		t.Fatalf("got type %d", msgType)
	}
	if len(payload) != 0 {
		t.Fatalf("got payload %q", payload)
	}
	if okResult {
		t.Fatal("expected ok_result to round-trip false")
	}
	if publishID != "" {
		t.Fatalf("got publish_id %q", publishID)
	}
}
