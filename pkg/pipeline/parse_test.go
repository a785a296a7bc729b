package pipeline

import (
	"encoding/json"
	"testing"

	"lukechampine.com/frand"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/tag"
)

func mkParseEvent(k uint16, content string, tags ...*tag.T) *event.E {
	ev := event.New()
	ev.ID = frand.Bytes(32)
	ev.Pubkey = frand.Bytes(32)
	ev.CreatedAt = 1700000000
	ev.Kind = k
	ev.Content = []byte(content)
	ev.Sig = frand.Bytes(64)
	s := tag.S(tags)
	ev.Tags = &s
	return ev
}

func TestParseMetadataExtractsKnownAndUnknownFields(t *testing.T) {
	ev := mkParseEvent(0, `{"name":"alice","lud16":"alice@example.com","custom_field":"xyz"}`)
	pe := Parse(ev)
	if pe.Metadata == nil || pe.Metadata.Name != "alice" || pe.Metadata.Lud16 != "alice@example.com" {
		t.Fatalf("unexpected metadata: %+v", pe.Metadata)
	}
	if pe.Metadata.Handles["custom_field"] != "xyz" {
		t.Fatalf("expected unknown field preserved, got %+v", pe.Metadata.Handles)
	}
}

func TestParseNoteResolvesReplyMarkedParent(t *testing.T) {
	root := "root0000000000000000000000000000000000000000000000000000000000"
	reply := "repl0000000000000000000000000000000000000000000000000000000000"
	rootAuthor := "aaaa000000000000000000000000000000000000000000000000000000000a"
	replyAuthor := "bbbb000000000000000000000000000000000000000000000000000000000b"
	ev := mkParseEvent(1, "hello",
		tag.NewFromAny("e", root, "root"),
		tag.NewFromAny("e", reply, "reply"),
		tag.NewFromAny("p", rootAuthor),
		tag.NewFromAny("p", replyAuthor),
	)
	pe := Parse(ev)
	if pe.Note == nil || pe.Note.Parent == nil || pe.Note.Parent.EventID != reply {
		t.Fatalf("expected reply-marked e tag as parent, got %+v", pe.Note)
	}
	if pe.Note.Root == nil || pe.Note.Root.EventID != root {
		t.Fatalf("expected root-marked e tag as root, got %+v", pe.Note.Root)
	}
}

func TestParseRelayList(t *testing.T) {
	ev := mkParseEvent(10002, "",
		tag.NewFromAny("r", "wss://a.example", "write"),
		tag.NewFromAny("r", "wss://b.example"),
	)
	pe := Parse(ev)
	if pe.RelayList == nil || len(pe.RelayList.Relays) != 2 {
		t.Fatalf("expected 2 relay entries, got %+v", pe.RelayList)
	}
	if pe.RelayList.Relays[0].Write != true || pe.RelayList.Relays[0].Read != false {
		t.Fatalf("expected write-only marker honored, got %+v", pe.RelayList.Relays[0])
	}
	if !pe.RelayList.Relays[1].Read || !pe.RelayList.Relays[1].Write {
		t.Fatalf("expected unmarked r tag to default read+write, got %+v", pe.RelayList.Relays[1])
	}
}

func TestParseReactionCategorizesPlainLike(t *testing.T) {
	target := "eeee000000000000000000000000000000000000000000000000000000000e"
	ev := mkParseEvent(7, "+", tag.NewFromAny("e", target))
	pe := Parse(ev)
	if pe.Reaction == nil || pe.Reaction.Category != ReactionLike || pe.Reaction.TargetEvent != target {
		t.Fatalf("unexpected reaction: %+v", pe.Reaction)
	}
}

func TestParseRepostRecursesIntoEmbeddedEvent(t *testing.T) {
	inner := mkParseEvent(1, "original text")
	innerJSON, err := inner.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	ev := mkParseEvent(6, string(innerJSON))
	pe := Parse(ev)
	if pe.Repost == nil || pe.Repost.RepostedEvent == nil || pe.Repost.RepostedEvent.Note == nil {
		t.Fatalf("expected embedded event parsed as a note, got %+v", pe.Repost)
	}
}

func TestParseZapReceiptValidatesAgainstZapRequest(t *testing.T) {
	recipient := "rrrr000000000000000000000000000000000000000000000000000000000r"
	req := mkParseEvent(9734, "", tag.NewFromAny("p", recipient), tag.NewFromAny("amount", "21000"))
	reqJSON, err := req.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	ev := mkParseEvent(kindZapReceipt, "",
		tag.NewFromAny("description", string(reqJSON)),
		tag.NewFromAny("p", recipient),
	)
	pe := Parse(ev)
	if pe.ZapReceipt == nil || !pe.ZapReceipt.Valid {
		t.Fatalf("expected a valid zap receipt, got %+v", pe.ZapReceipt)
	}
	if pe.ZapReceipt.Amount != 21000 {
		t.Fatalf("expected amount from zap request's amount tag, got %d", pe.ZapReceipt.Amount)
	}
}

func TestParseZapReceiptMismatchedRecipientIsInvalid(t *testing.T) {
	req := mkParseEvent(9734, "", tag.NewFromAny("p", "onerecipient00000000000000000000000000000000000000000000000000"))
	reqJSON, _ := json.Marshal(req)
	ev := mkParseEvent(kindZapReceipt, "",
		tag.NewFromAny("description", string(reqJSON)),
		tag.NewFromAny("p", "differentrecipient000000000000000000000000000000000000000000000"),
	)
	pe := Parse(ev)
	if pe.ZapReceipt == nil || pe.ZapReceipt.Valid {
		t.Fatalf("expected mismatched recipient to be invalid, got %+v", pe.ZapReceipt)
	}
}

func TestParseNutzapInfo(t *testing.T) {
	ev := mkParseEvent(kindNutzapInfo, "",
		tag.NewFromAny("mint", "https://mint.example"),
		tag.NewFromAny("relay", "wss://relay.example"),
		tag.NewFromAny("pubkey", "02abc"),
	)
	pe := Parse(ev)
	if pe.NutzapInfo == nil || len(pe.NutzapInfo.Mints) != 1 || pe.NutzapInfo.P2PKLock != "02abc" {
		t.Fatalf("unexpected nutzap info: %+v", pe.NutzapInfo)
	}
}
