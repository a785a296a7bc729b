// Package eventenvelope provides the encoder for the EVENT message, used both
// by clients to submit a new event to a relay, and by relays to deliver a
// stored event matching a subscription back to the client.
package eventenvelope

import (
	"io"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/text"
	"worker.orly.dev/pkg/interfaces/codec"
)

// L is the label associated with this type of codec.Envelope.
const L = "EVENT"

// Submission is the client->relay form: ["EVENT", <event JSON>].
type Submission struct {
	*event.E
}

var _ codec.Envelope = (*Submission)(nil)

// NewSubmission creates an empty Submission ready to unmarshal into.
func NewSubmission() *Submission { return &Submission{E: event.New()} }

// NewSubmissionWith wraps an already constructed event.E as a Submission.
func NewSubmissionWith(ev *event.E) *Submission { return &Submission{E: ev} }

// Label returns the label of a Submission.
func (en *Submission) Label() string { return L }

// Write the Submission to a provided io.Writer.
func (en *Submission) Write(w io.Writer) (err error) {
	_, err = w.Write(en.Marshal(nil))
	return
}

// Marshal a Submission envelope in minified JSON, appending to a provided
// destination slice.
func (en *Submission) Marshal(dst []byte) (b []byte) {
	b = dst
	b = envelopes.Marshal(
		b, L,
		func(bst []byte) (o []byte) {
			o = bst
			o = en.E.Marshal(o)
			return
		},
	)
	return
}

// Unmarshal a Submission from minified JSON, returning the remainder after
// the end of the envelope.
func (en *Submission) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.E == nil {
		en.E = event.New()
	}
	if r, err = en.E.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envelopes.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseSubmission reads a Submission in minified JSON into a newly allocated
// Submission.
func ParseSubmission(b []byte) (t *Submission, rem []byte, err error) {
	t = NewSubmission()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Result is the relay->client form: ["EVENT", <sub_id>, <event JSON>].
type Result struct {
	Subscription []byte
	Event        *event.E
}

var _ codec.Envelope = (*Result)(nil)

// NewResult creates an empty Result ready to unmarshal into.
func NewResult() *Result { return &Result{Event: event.New()} }

// NewResultWith creates a Result carrying a subscription id and the matched
// event.
func NewResultWith(sub []byte, ev *event.E) (t *Result, err error) {
	if len(sub) < 1 || len(sub) > 64 {
		err = errorf.E("subscription id must be length > 0 and <= 64")
		return
	}
	t = &Result{Subscription: sub, Event: ev}
	return
}

// Label returns the label of a Result.
func (en *Result) Label() string { return L }

// Write the Result to a provided io.Writer.
func (en *Result) Write(w io.Writer) (err error) {
	_, err = w.Write(en.Marshal(nil))
	return
}

// Marshal a Result envelope in minified JSON, appending to a provided
// destination slice.
func (en *Result) Marshal(dst []byte) (b []byte) {
	b = dst
	b = envelopes.Marshal(
		b, L,
		func(bst []byte) (o []byte) {
			o = bst
			o = append(o, '"')
			o = append(o, en.Subscription...)
			o = append(o, '"')
			o = append(o, ',')
			o = en.Event.Marshal(o)
			return
		},
	)
	return
}

// Unmarshal a Result from minified JSON, returning the remainder after the
// end of the envelope.
func (en *Result) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.Subscription, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = text.Comma(r); chk.E(err) {
		return
	}
	if en.Event == nil {
		en.Event = event.New()
	}
	if r, err = en.Event.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envelopes.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseResult reads a Result in minified JSON into a newly allocated Result.
func ParseResult(b []byte) (t *Result, rem []byte, err error) {
	t = NewResult()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
