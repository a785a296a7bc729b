// Package codec declares the marshal/unmarshal contract every Nostr wire
// envelope (EVENT, REQ, CLOSE, EOSE, OK, NOTICE, AUTH, COUNT, CLOSED)
// implements, so the reader loop can dispatch on a label without a type
// switch over every concrete envelope type.
package codec

import "io"

// Envelope is a minified-JSON-encodable Nostr protocol message.
type Envelope interface {
	// Label returns the envelope's leading array element, e.g. "EVENT".
	Label() string
	// Write serializes the envelope directly to w.
	Write(w io.Writer) (err error)
	// Marshal appends the envelope's minified JSON encoding to dst.
	Marshal(dst []byte) (b []byte)
	// Unmarshal decodes the envelope from minified JSON, returning
	// whatever follows it in b.
	Unmarshal(b []byte) (r []byte, err error)
}
