// Package nip46 implements the NIP-46 remote-signer client protocol: both
// bunker-URL and nostrconnect (QR) connection modes, RPC-over-relay call
// correlation, and the supported signing/encryption methods.
package nip46

import (
	"net/url"

	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/encoders/hex"
)

// bunkerParams is what a bunker:// URI carries: a known remote signer
// pubkey, one or more relays and an optional pairing secret.
type bunkerParams struct {
	remotePubkey []byte
	relays       []string
	secret       string
}

// parseBunkerURI parses "bunker://<remote_pubkey>?relay=...&relay=...&secret=...".
func parseBunkerURI(uri string) (p *bunkerParams, err error) {
	u, perr := url.Parse(uri)
	if perr != nil {
		err = errorf.E("nip46: invalid bunker uri: %w", perr)
		return
	}
	if u.Scheme != "bunker" {
		err = errorf.E("nip46: expected bunker:// scheme, got %q", u.Scheme)
		return
	}
	pubHex := u.Host
	if pubHex == "" && len(u.Path) > 1 {
		pubHex = u.Path[1:]
	}
	var remote []byte
	if remote, err = hex.Dec(pubHex); err != nil {
		err = errorf.E("nip46: bunker uri remote pubkey: %w", err)
		return
	}
	q := u.Query()
	p = &bunkerParams{
		remotePubkey: remote,
		relays:       q["relay"],
		secret:       q.Get("secret"),
	}
	if len(p.relays) == 0 {
		err = errorf.E("nip46: bunker uri has no relay parameter")
		return
	}
	return
}

// buildConnectURI constructs the nostrconnect:// URI a client publishes (as
// a QR code) for a remote signer to scan.
func buildConnectURI(clientPubkey []byte, relays []string, secret, name string) string {
	q := url.Values{}
	for _, r := range relays {
		q.Add("relay", r)
	}
	q.Set("secret", secret)
	if name != "" {
		q.Set("name", name)
	}
	u := url.URL{
		Scheme:   "nostrconnect",
		Host:     hex.Enc(clientPubkey),
		RawQuery: q.Encode(),
	}
	return u.String()
}
