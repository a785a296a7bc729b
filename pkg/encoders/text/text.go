// Package text implements the minimal JSON string quoting/escaping and
// token-skipping helpers the wire codecs in pkg/encoders need. It
// deliberately does not pull in encoding/json for the hot path: nostr's
// canonical event id encoding requires a specific escape set (NIP-01) that
// differs subtly from Go's default HTML-safe json.Marshal escaping.
package text

import (
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/encoders/hex"
)

// EscapeMode selects which character set AppendQuote escapes.
type EscapeMode int

const (
	// NostrEscape escapes exactly the characters NIP-01 canonical encoding
	// requires: ", \, and control characters below 0x20, using \n \r \t \b \f
	// where a short form exists and \u00XX otherwise. Everything else,
	// including multi-byte UTF-8 and the forward slash, passes through
	// unescaped.
	NostrEscape EscapeMode = iota
)

const hexDigits = "0123456789abcdef"

// AppendQuote appends the JSON-quoted form of s to dst using mode's escape
// rules.
func AppendQuote(dst, s []byte, mode EscapeMode) (b []byte) {
	b = dst
	b = append(b, '"')
	for _, c := range s {
		switch c {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		case '\b':
			b = append(b, '\\', 'b')
		case '\f':
			b = append(b, '\\', 'f')
		default:
			if c < 0x20 {
				b = append(
					b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf],
				)
			} else {
				b = append(b, c)
			}
		}
	}
	b = append(b, '"')
	return
}

// JSONKey appends `"key":` to dst.
func JSONKey(dst, key []byte) (b []byte) {
	b = dst
	b = append(b, '"')
	b = append(b, key...)
	b = append(b, '"', ':')
	return
}

// MarshalHexArray appends a JSON array of quoted hex strings, one per tag.T
// in ts, using only the first field of each tag (the id/pubkey value).
func MarshalHexArray(dst []byte, ts [][]byte) (b []byte) {
	b = dst
	b = append(b, '[')
	for i, t := range ts {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '"')
		b = append(b, t...)
		b = append(b, '"')
	}
	b = append(b, ']')
	return
}

// UnmarshalQuoted reads a JSON-quoted string from the head of b (after
// optional leading whitespace), unescaping it, and returns the raw bytes and
// the remainder following the closing quote.
func UnmarshalQuoted(b []byte) (out, r []byte, err error) {
	r = SkipWhitespace(b)
	if len(r) == 0 || r[0] != '"' {
		err = errorf.E("text.UnmarshalQuoted: expected '\"', got %q", peek(r))
		return
	}
	r = r[1:]
	for i := 0; i < len(r); i++ {
		switch r[i] {
		case '"':
			out = append(out, r[:i]...)
			r = r[i+1:]
			return
		case '\\':
			out = append(out, r[:i]...)
			if i+1 >= len(r) {
				err = errorf.E("text.UnmarshalQuoted: truncated escape")
				return
			}
			var consumed int
			var dec []byte
			if dec, consumed, err = unescapeOne(r[i+1:]); err != nil {
				return
			}
			out = append(out, dec...)
			r = r[i+1+consumed:]
			i = -1
		}
	}
	err = errorf.E("text.UnmarshalQuoted: unterminated string")
	return
}

func unescapeOne(b []byte) (out []byte, consumed int, err error) {
	if len(b) == 0 {
		err = errorf.E("text: empty escape")
		return
	}
	switch b[0] {
	case '"':
		return []byte{'"'}, 1, nil
	case '\\':
		return []byte{'\\'}, 1, nil
	case '/':
		return []byte{'/'}, 1, nil
	case 'n':
		return []byte{'\n'}, 1, nil
	case 'r':
		return []byte{'\r'}, 1, nil
	case 't':
		return []byte{'\t'}, 1, nil
	case 'b':
		return []byte{'\b'}, 1, nil
	case 'f':
		return []byte{'\f'}, 1, nil
	case 'u':
		if len(b) < 5 {
			err = errorf.E("text: truncated unicode escape")
			return
		}
		var r rune
		for _, c := range b[1:5] {
			r <<= 4
			switch {
			case c >= '0' && c <= '9':
				r |= rune(c - '0')
			case c >= 'a' && c <= 'f':
				r |= rune(c-'a') + 10
			case c >= 'A' && c <= 'F':
				r |= rune(c-'A') + 10
			default:
				err = errorf.E("text: invalid unicode escape digit %q", c)
				return
			}
		}
		return []byte(string(r)), 5, nil
	default:
		err = errorf.E("text: invalid escape char %q", b[0])
		return
	}
}

// UnmarshalStringArray reads a JSON array of quoted strings from the head of
// b (which must start with '[') and returns the decoded elements plus the
// remainder positioned immediately after the closing ']'.
func UnmarshalStringArray(b []byte) (out [][]byte, r []byte, err error) {
	r = SkipWhitespace(b)
	if len(r) == 0 || r[0] != '[' {
		err = errorf.E("text.UnmarshalStringArray: expected '[', got %q", peek(r))
		return
	}
	r = r[1:]
	for {
		r = SkipWhitespace(r)
		if len(r) == 0 {
			err = errorf.E("text.UnmarshalStringArray: unterminated array")
			return
		}
		if r[0] == ']' {
			r = r[1:]
			return
		}
		var elem []byte
		if elem, r, err = UnmarshalQuoted(r); err != nil {
			return
		}
		out = append(out, elem)
		r = SkipWhitespace(r)
		if len(r) == 0 {
			err = errorf.E("text.UnmarshalStringArray: unterminated array")
			return
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == ']' {
			r = r[1:]
			return
		}
		err = errorf.E("text.UnmarshalStringArray: expected ',' or ']', got %q", peek(r))
		return
	}
}

// UnmarshalHexArray reads a JSON array of quoted hex strings, each decoding
// to exactly size bytes, and returns the decoded elements plus the remainder
// positioned immediately after the closing ']'.
func UnmarshalHexArray(b []byte, size int) (out [][]byte, r []byte, err error) {
	var raw [][]byte
	if raw, r, err = UnmarshalStringArray(b); err != nil {
		return
	}
	for _, s := range raw {
		var dec []byte
		if dec, err = hex.Dec(string(s)); err != nil {
			return
		}
		if size > 0 && len(dec) != size {
			err = errorf.E(
				"text.UnmarshalHexArray: expected %d bytes, got %d", size, len(dec),
			)
			return
		}
		out = append(out, dec)
	}
	return
}

// NostrUnescape decodes the escape sequences in b, which must be the raw
// content of a JSON string with the surrounding quotes already stripped.
// Malformed escapes are passed through verbatim rather than erroring, since
// callers (tag field parsing) have already located the closing quote and
// have no way to recover from an error at this point.
func NostrUnescape(b []byte) (out []byte) {
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		dec, consumed, err := unescapeOne(b[i+1:])
		if err != nil {
			out = append(out, b[i])
			continue
		}
		out = append(out, dec...)
		i += consumed
	}
	return
}

// SkipWhitespace advances past ASCII JSON whitespace.
func SkipWhitespace(b []byte) (r []byte) {
	r = b
	for len(r) > 0 {
		switch r[0] {
		case ' ', '\t', '\n', '\r':
			r = r[1:]
		default:
			return
		}
	}
	return
}

// Comma consumes a leading ',' (skipping whitespace first), erroring if not
// present.
func Comma(b []byte) (r []byte, err error) {
	r = SkipWhitespace(b)
	if len(r) == 0 || r[0] != ',' {
		err = errorf.E("text.Comma: expected ',', got %q", peek(r))
		return
	}
	r = r[1:]
	return
}

func peek(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b) > 16 {
		b = b[:16]
	}
	return string(b)
}
