package bech32encoding

import (
	"bytes"
	"testing"
)

func TestNpubRoundTrip(t *testing.T) {
	pk := make([]byte, 32)
	for i := range pk {
		pk[i] = byte(i)
	}
	npub, err := PublicKeyToNpub(pk)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := NpubToBytes([]byte(npub))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, pk) {
		t.Fatalf("round trip mismatch: got %x want %x", got, pk)
	}
}

func TestNeventRoundTrip(t *testing.T) {
	id := make([]byte, 32)
	for i := range id {
		id[i] = byte(i + 1)
	}
	e := &Event{ID: id, Relays: []string{"wss://relay.example"}, Kind: 1}
	s, err := EncodeEvent(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEvent(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.ID, id) || got.Kind != 1 || len(got.Relays) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestNpubOrHexToPublicKeyBinary(t *testing.T) {
	pk := make([]byte, 32)
	for i := range pk {
		pk[i] = byte(i * 3)
	}
	hexStr := ""
	for _, b := range pk {
		hexStr += string("0123456789abcdef"[b>>4]) + string("0123456789abcdef"[b&0xf])
	}
	got, err := NpubOrHexToPublicKeyBinary(hexStr)
	if err != nil {
		t.Fatalf("hex path: %v", err)
	}
	if !bytes.Equal(got, pk) {
		t.Fatalf("hex path mismatch")
	}
	npub, _ := PublicKeyToNpub(pk)
	got2, err := NpubOrHexToPublicKeyBinary(npub)
	if err != nil {
		t.Fatalf("npub path: %v", err)
	}
	if !bytes.Equal(got2, pk) {
		t.Fatalf("npub path mismatch")
	}
}
