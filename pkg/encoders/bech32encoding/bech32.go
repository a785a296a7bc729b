// Package bech32encoding implements NIP-19 bech32 entity codecs (npub, nsec,
// note, nprofile, nevent, naddr) on top of a bare-bones bech32 codec, since
// the bech32 codec itself is treated as an external primitive per spec §1 (on
// the same footing as secp256k1/Schnorr) but no pack example ships a ready
// made Go bech32 library — so this mirrors the hand-rolled bech32 codec and
// TLV entity layout used by vcavallo-nostr-hypermedia's NIP-19 support.
package bech32encoding

import (
	"strings"

	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/encoders/hex"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

const (
	// PubHRP is the human readable prefix for a public key.
	PubHRP = "npub"
	// SecHRP is the human readable prefix for a secret key.
	SecHRP = "nsec"
	// NoteHRP is the human readable prefix for an event id.
	NoteHRP = "note"
	// ProfileHRP is the human readable prefix for an nprofile TLV entity.
	ProfileHRP = "nprofile"
	// EventHRP is the human readable prefix for an nevent TLV entity.
	EventHRP = "nevent"
	// AddrHRP is the human readable prefix for an naddr TLV entity.
	AddrHRP = "naddr"
	// HexKeyLen is the length in ASCII hex characters of a 32-byte key.
	HexKeyLen = 64
)

// TLV type constants shared by nprofile/nevent/naddr (NIP-19 §TLV).
const (
	TLVSpecial = 0
	TLVRelay   = 1
	TLVAuthor  = 2
	TLVKind    = 3
)

func polymod(values []byte) uint32 {
	gen := [5]uint32{
		0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3,
	}
	chk := uint32(1)
	for _, v := range values {
		b := byte(chk >> 25)
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (b>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) (out []byte) {
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return
}

func createChecksum(hrp string, data []byte) []byte {
	values := append(hrpExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := polymod(values) ^ 1
	out := make([]byte, 6)
	for i := 0; i < 6; i++ {
		out[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return out
}

func verifyChecksum(hrp string, data []byte) bool {
	return polymod(append(hrpExpand(hrp), data...)) == 1
}

// ConvertBits re-groups a byte slice from fromBits-wide groups to toBits-wide
// groups, used to go between 8-bit payload bytes and bech32's 5-bit symbols.
func ConvertBits(data []byte, fromBits, toBits uint, pad bool) (out []byte, err error) {
	acc, bits := uint32(0), uint(0)
	maxv := uint32(1<<toBits) - 1
	for _, v := range data {
		if uint32(v) >= (1 << fromBits) {
			err = errorf.E("bech32encoding: invalid data range")
			return
		}
		acc = (acc << fromBits) | uint32(v)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		err = errorf.E("bech32encoding: invalid padding")
		return
	}
	return
}

// Encode encodes hrp and a 5-bit-grouped data payload as a bech32 string.
func Encode(hrp string, data []byte) (out string, err error) {
	checksum := createChecksum(hrp, data)
	combined := append(append([]byte{}, data...), checksum...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range combined {
		if int(v) >= len(charset) {
			err = errorf.E("bech32encoding: invalid symbol value %d", v)
			return
		}
		sb.WriteByte(charset[v])
	}
	out = sb.String()
	return
}

// Decode splits a bech32 string into its human-readable prefix and 5-bit
// data payload, verifying the checksum.
func Decode(s string) (hrp string, data []byte, err error) {
	if len(s) < 8 {
		err = errorf.E("bech32encoding: string too short")
		return
	}
	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		err = errorf.E("bech32encoding: invalid separator position")
		return
	}
	hrp = s[:pos]
	for _, c := range s[pos+1:] {
		idx := strings.IndexRune(charset, c)
		if idx < 0 {
			err = errorf.E("bech32encoding: invalid character %q", c)
			return
		}
		data = append(data, byte(idx))
	}
	if !verifyChecksum(hrp, data) {
		err = errorf.E("bech32encoding: invalid checksum")
		return
	}
	data = data[:len(data)-6]
	return
}

// encodeSimple bech32-encodes a flat byte payload (npub/nsec/note: no TLV).
func encodeSimple(hrp string, payload []byte) (out string, err error) {
	var data []byte
	if data, err = ConvertBits(payload, 8, 5, true); err != nil {
		return
	}
	return Encode(hrp, data)
}

func decodeSimple(hrp string, s []byte) (payload []byte, err error) {
	gotHRP, data, derr := Decode(string(s))
	if err = derr; err != nil {
		return
	}
	if gotHRP != hrp {
		err = errorf.E("bech32encoding: expected hrp %q, got %q", hrp, gotHRP)
		return
	}
	return ConvertBits(data, 5, 8, false)
}

// PublicKeyToNpub encodes a 32-byte public key as npub1....
func PublicKeyToNpub(pk []byte) (npub string, err error) { return encodeSimple(PubHRP, pk) }

// BinToNpub is an alias of PublicKeyToNpub kept for call-site parity with the
// teacher's naming.
func BinToNpub(pk []byte) (npub string, err error) { return encodeSimple(PubHRP, pk) }

// NpubToBytes decodes an npub1... string to its 32-byte public key.
func NpubToBytes(npub []byte) (pk []byte, err error) { return decodeSimple(PubHRP, npub) }

// SecretKeyToNsec encodes a 32-byte secret key as nsec1....
func SecretKeyToNsec(sk []byte) (nsec string, err error) { return encodeSimple(SecHRP, sk) }

// NsecToSecretKey decodes an nsec1... string to its 32-byte secret key.
func NsecToSecretKey(nsec []byte) (sk []byte, err error) { return decodeSimple(SecHRP, nsec) }

// EventIDToNote encodes a 32-byte event id as note1....
func EventIDToNote(id []byte) (note string, err error) { return encodeSimple(NoteHRP, id) }

// NoteToEventID decodes a note1... string to its 32-byte event id.
func NoteToEventID(note []byte) (id []byte, err error) { return decodeSimple(NoteHRP, note) }

// NpubOrHexToPublicKeyBinary accepts either an npub1... bech32 string or a
// 64-char hex string and returns the decoded 32-byte public key.
func NpubOrHexToPublicKeyBinary(s string) (pk []byte, err error) {
	if strings.HasPrefix(s, PubHRP) {
		return NpubToBytes([]byte(s))
	}
	if len(s) != HexKeyLen {
		err = errorf.E("bech32encoding: expected npub or %d-char hex, got %q", HexKeyLen, s)
		return
	}
	return hex.Dec(s)
}

// Profile is the decoded form of an nprofile1... entity.
type Profile struct {
	Pubkey []byte
	Relays []string
}

// Event is the decoded form of an nevent1... entity.
type Event struct {
	ID     []byte
	Author []byte
	Relays []string
	Kind   uint32
}

// Coordinate is the decoded form of an naddr1... entity (a parameterized
// replaceable event address).
type Coordinate struct {
	Identifier string
	Pubkey     []byte
	Kind       uint32
	Relays     []string
}

func appendTLV(dst []byte, typ byte, val []byte) []byte {
	dst = append(dst, typ, byte(len(val)))
	return append(dst, val...)
}

// EncodeProfile encodes an nprofile1... TLV entity.
func EncodeProfile(p *Profile) (out string, err error) {
	var tlv []byte
	tlv = appendTLV(tlv, TLVSpecial, p.Pubkey)
	for _, r := range p.Relays {
		tlv = appendTLV(tlv, TLVRelay, []byte(r))
	}
	var data []byte
	if data, err = ConvertBits(tlv, 8, 5, true); err != nil {
		return
	}
	return Encode(ProfileHRP, data)
}

// DecodeProfile decodes an nprofile1... TLV entity.
func DecodeProfile(s string) (p *Profile, err error) {
	hrp, data, derr := Decode(s)
	if err = derr; err != nil {
		return
	}
	if hrp != ProfileHRP {
		err = errorf.E("bech32encoding: expected hrp %q, got %q", ProfileHRP, hrp)
		return
	}
	var tlv []byte
	if tlv, err = ConvertBits(data, 5, 8, false); err != nil {
		return
	}
	p = &Profile{}
	for i := 0; i+2 <= len(tlv); {
		typ, l := tlv[i], int(tlv[i+1])
		if i+2+l > len(tlv) {
			err = errorf.E("bech32encoding: truncated TLV")
			return
		}
		val := tlv[i+2 : i+2+l]
		switch typ {
		case TLVSpecial:
			p.Pubkey = append([]byte{}, val...)
		case TLVRelay:
			p.Relays = append(p.Relays, string(val))
		}
		i += 2 + l
	}
	return
}

// EncodeEvent encodes an nevent1... TLV entity.
func EncodeEvent(e *Event) (out string, err error) {
	var tlv []byte
	tlv = appendTLV(tlv, TLVSpecial, e.ID)
	for _, r := range e.Relays {
		tlv = appendTLV(tlv, TLVRelay, []byte(r))
	}
	if len(e.Author) > 0 {
		tlv = appendTLV(tlv, TLVAuthor, e.Author)
	}
	if e.Kind > 0 {
		kb := []byte{byte(e.Kind >> 24), byte(e.Kind >> 16), byte(e.Kind >> 8), byte(e.Kind)}
		tlv = appendTLV(tlv, TLVKind, kb)
	}
	var data []byte
	if data, err = ConvertBits(tlv, 8, 5, true); err != nil {
		return
	}
	return Encode(EventHRP, data)
}

// DecodeEvent decodes an nevent1... TLV entity.
func DecodeEvent(s string) (e *Event, err error) {
	hrp, data, derr := Decode(s)
	if err = derr; err != nil {
		return
	}
	if hrp != EventHRP {
		err = errorf.E("bech32encoding: expected hrp %q, got %q", EventHRP, hrp)
		return
	}
	var tlv []byte
	if tlv, err = ConvertBits(data, 5, 8, false); err != nil {
		return
	}
	e = &Event{}
	for i := 0; i+2 <= len(tlv); {
		typ, l := tlv[i], int(tlv[i+1])
		if i+2+l > len(tlv) {
			err = errorf.E("bech32encoding: truncated TLV")
			return
		}
		val := tlv[i+2 : i+2+l]
		switch typ {
		case TLVSpecial:
			e.ID = append([]byte{}, val...)
		case TLVRelay:
			e.Relays = append(e.Relays, string(val))
		case TLVAuthor:
			e.Author = append([]byte{}, val...)
		case TLVKind:
			if len(val) == 4 {
				e.Kind = uint32(val[0])<<24 | uint32(val[1])<<16 | uint32(val[2])<<8 | uint32(val[3])
			}
		}
		i += 2 + l
	}
	return
}

// EncodeCoordinate encodes an naddr1... TLV entity for a parameterized
// replaceable event coordinate.
func EncodeCoordinate(c *Coordinate) (out string, err error) {
	var tlv []byte
	tlv = appendTLV(tlv, TLVSpecial, []byte(c.Identifier))
	for _, r := range c.Relays {
		tlv = appendTLV(tlv, TLVRelay, []byte(r))
	}
	tlv = appendTLV(tlv, TLVAuthor, c.Pubkey)
	kb := []byte{
		byte(c.Kind >> 24), byte(c.Kind >> 16), byte(c.Kind >> 8), byte(c.Kind),
	}
	tlv = appendTLV(tlv, TLVKind, kb)
	var data []byte
	if data, err = ConvertBits(tlv, 8, 5, true); err != nil {
		return
	}
	return Encode(AddrHRP, data)
}

// DecodeCoordinate decodes an naddr1... TLV entity.
func DecodeCoordinate(s string) (c *Coordinate, err error) {
	hrp, data, derr := Decode(s)
	if err = derr; err != nil {
		return
	}
	if hrp != AddrHRP {
		err = errorf.E("bech32encoding: expected hrp %q, got %q", AddrHRP, hrp)
		return
	}
	var tlv []byte
	if tlv, err = ConvertBits(data, 5, 8, false); err != nil {
		return
	}
	c = &Coordinate{}
	for i := 0; i+2 <= len(tlv); {
		typ, l := tlv[i], int(tlv[i+1])
		if i+2+l > len(tlv) {
			err = errorf.E("bech32encoding: truncated TLV")
			return
		}
		val := tlv[i+2 : i+2+l]
		switch typ {
		case TLVSpecial:
			c.Identifier = string(val)
		case TLVRelay:
			c.Relays = append(c.Relays, string(val))
		case TLVAuthor:
			c.Pubkey = append([]byte{}, val...)
		case TLVKind:
			if len(val) == 4 {
				c.Kind = uint32(val[0])<<24 | uint32(val[1])<<16 | uint32(val[2])<<8 | uint32(val[3])
			}
		}
		i += 2 + l
	}
	return
}
