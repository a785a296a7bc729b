// Package event implements the nostr event, the single datatype the entire
// protocol revolves around, along with its minified JSON wire codec,
// canonical id derivation and schnorr signing/verification.
package event

import (
	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/crypto/ec/schnorr"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/encoders/ints"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/encoders/text"
	"worker.orly.dev/pkg/interfaces/signer"
	"worker.orly.dev/pkg/utils/bufpool"

	"github.com/btcsuite/btcd/btcec/v2"
)

// E is the primary datatype of nostr. This is the form of the structure that
// defines its JSON string-based format.
type E struct {

	// ID is the SHA256 hash of the canonical encoding of the event in binary format
	ID []byte

	// Pubkey is the public key of the event creator in binary format
	Pubkey []byte

	// CreatedAt is the UNIX timestamp of the event according to the event
	// creator (never trust a timestamp!)
	CreatedAt int64

	// Kind is the nostr protocol code for the type of event. See kind.K
	Kind uint16

	// Tags are a list of tags, which are a list of strings usually structured
	// as a 3-layer scheme indicating specific features of an event.
	Tags *tag.S

	// Content is an arbitrary string that can contain anything, but usually
	// conforming to a specification relating to the Kind and the Tags.
	Content []byte

	// Sig is the signature on the ID hash that validates as coming from the
	// Pubkey in binary format.
	Sig []byte

	b bufpool.B
}

// New creates an empty event, ready for fields to be set and then marshaled
// or unmarshaled into.
func New() (ev *E) {
	return &E{Tags: tag.NewS(), b: bufpool.Get()}
}

// Free returns the event's internal scratch buffer to the pool. Safe to call
// on an event that was never marshaled.
func (ev *E) Free() {
	if ev.b != nil {
		bufpool.Put(ev.b)
		ev.b = nil
	}
}

// S is an array of event.E that sorts in reverse chronological order.
type S []*E

// Len returns the length of the event.Es.
func (ev S) Len() int { return len(ev) }

// Less returns whether the first is newer than the second (larger unix
// timestamp).
func (ev S) Less(i, j int) bool { return ev[i].CreatedAt > ev[j].CreatedAt }

// Swap two indexes of the event.Es with each other.
func (ev S) Swap(i, j int) { ev[i], ev[j] = ev[j], ev[i] }

// C is a channel that carries event.E.
type C chan *E

var (
	idKey        = []byte("id")
	pubkeyKey    = []byte("pubkey")
	createdAtKey = []byte("created_at")
	kindKey      = []byte("kind")
	tagsKey      = []byte("tags")
	contentKey   = []byte("content")
	sigKey       = []byte("sig")
)

// Marshal appends the minified JSON encoding of the event to dst.
func (ev *E) Marshal(dst []byte) (b []byte) {
	b = dst
	b = append(b, '{')
	b = text.JSONKey(b, idKey)
	b = append(b, '"')
	b = hex.EncAppend(b, ev.ID)
	b = append(b, '"', ',')
	b = text.JSONKey(b, pubkeyKey)
	b = append(b, '"')
	b = hex.EncAppend(b, ev.Pubkey)
	b = append(b, '"', ',')
	b = text.JSONKey(b, createdAtKey)
	b = ints.New(ev.CreatedAt).Marshal(b)
	b = append(b, ',')
	b = text.JSONKey(b, kindKey)
	b = ints.New(ev.Kind).Marshal(b)
	b = append(b, ',')
	b = text.JSONKey(b, tagsKey)
	if ev.Tags != nil {
		b = ev.Tags.Marshal(b)
	} else {
		b = append(b, '[', ']')
	}
	b = append(b, ',')
	b = text.JSONKey(b, contentKey)
	b = text.AppendQuote(b, ev.Content, text.NostrEscape)
	b = append(b, ',')
	b = text.JSONKey(b, sigKey)
	b = append(b, '"')
	b = hex.EncAppend(b, ev.Sig)
	b = append(b, '"')
	b = append(b, '}')
	return
}

// MarshalJSON implements json.Marshaler by delegating to Marshal, using a
// buffer drawn from the pool.
//
// Call bufpool.PutBytes(b) to return the buffer to the pool after use.
func (ev *E) MarshalJSON() (b []byte, err error) {
	b = bufpool.Get()
	b = ev.Marshal(b)
	return
}

// Unmarshal decodes a minified JSON event object from the head of b,
// returning the remainder following the closing '}'.
func (ev *E) Unmarshal(b []byte) (r []byte, err error) {
	r = text.SkipWhitespace(b)
	if len(r) == 0 || r[0] != '{' {
		err = errorf.E("event: expected '{'")
		return
	}
	r = r[1:]
	for {
		r = text.SkipWhitespace(r)
		if len(r) == 0 {
			err = errorf.E("event: unterminated object")
			return
		}
		if r[0] == '}' {
			r = r[1:]
			return
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		var key []byte
		if key, r, err = text.UnmarshalQuoted(r); chk.E(err) {
			return
		}
		if r, err = text.Comma(r); chk.E(err) {
			return
		}
		r = text.SkipWhitespace(r)
		switch string(key) {
		case "id":
			var v []byte
			if v, r, err = text.UnmarshalQuoted(r); chk.E(err) {
				return
			}
			if ev.ID, err = hex.Dec(string(v)); chk.E(err) {
				return
			}
		case "pubkey":
			var v []byte
			if v, r, err = text.UnmarshalQuoted(r); chk.E(err) {
				return
			}
			if ev.Pubkey, err = hex.Dec(string(v)); chk.E(err) {
				return
			}
		case "created_at":
			n := ints.New(int64(0))
			if r, err = n.Unmarshal(r); chk.E(err) {
				return
			}
			ev.CreatedAt = n.N
		case "kind":
			n := ints.New(uint16(0))
			if r, err = n.Unmarshal(r); chk.E(err) {
				return
			}
			ev.Kind = n.N
		case "tags":
			ev.Tags = tag.NewSWithCap(8)
			if r, err = ev.Tags.Unmarshal(r); chk.E(err) {
				return
			}
		case "content":
			if ev.Content, r, err = text.UnmarshalQuoted(r); chk.E(err) {
				return
			}
		case "sig":
			var v []byte
			if v, r, err = text.UnmarshalQuoted(r); chk.E(err) {
				return
			}
			if ev.Sig, err = hex.Dec(string(v)); chk.E(err) {
				return
			}
		default:
			err = errorf.E("event: unknown field %q", key)
			return
		}
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (ev *E) UnmarshalJSON(b []byte) (err error) {
	_, err = ev.Unmarshal(b)
	return
}

// Sign computes the event's canonical id and signs it with sgn, filling in
// ID, Pubkey and Sig.
func (ev *E) Sign(sgn signer.I) (err error) {
	ev.Pubkey = sgn.Pub()
	ev.ID = ev.GetIDBytes()
	if ev.Sig, err = sgn.Sign(ev.ID); chk.E(err) {
		return
	}
	return
}

// Verify recomputes the canonical id and checks it against ID, then checks
// Sig against Pubkey.
func (ev *E) Verify() (valid bool, err error) {
	want := ev.GetIDBytes()
	if len(ev.ID) != len(want) {
		return
	}
	for i := range want {
		if ev.ID[i] != want[i] {
			return
		}
	}
	var pk *btcec.PublicKey
	if pk, err = schnorr.ParsePubKey(ev.Pubkey); chk.E(err) {
		return
	}
	var sigObj *schnorr.Signature
	if sigObj, err = schnorr.ParseSignature(ev.Sig); chk.E(err) {
		return
	}
	valid = schnorr.Verify(sigObj, ev.ID, pk)
	return
}
