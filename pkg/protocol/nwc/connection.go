package nwc

import (
	"net/url"
	"strings"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/crypto/encryption"
	"worker.orly.dev/pkg/crypto/ec/secp256k1"
	"worker.orly.dev/pkg/crypto/p256k"
	"worker.orly.dev/pkg/encoders/hex"
	"worker.orly.dev/pkg/interfaces/signer"
)

// ConnectionParams is the parsed form of a NIP-47 nostr+walletconnect:// URI.
type ConnectionParams struct {
	relay           string
	clientSecretKey signer.I
	walletPublicKey []byte
	conversationKey []byte
}

// ParseConnectionURI parses a "nostr+walletconnect://<wallet-pubkey>?relay=<url>&secret=<hex>"
// connection string as defined by NIP-47, deriving the NIP-44 conversation
// key between the client and the wallet service up front.
func ParseConnectionURI(connectionURI string) (p *ConnectionParams, err error) {
	var u *url.URL
	if u, err = url.Parse(connectionURI); chk.E(err) {
		return
	}
	if u.Scheme != "nostr+walletconnect" && u.Scheme != "nostrwalletconnect" {
		err = errorf.E("nwc: unsupported scheme %q", u.Scheme)
		return
	}
	walletPubHex := strings.TrimPrefix(u.Host+u.Path, "/")
	if walletPubHex == "" {
		err = errorf.E("nwc: missing wallet pubkey in connection URI")
		return
	}
	var walletPub []byte
	if walletPub, err = hex.Dec(walletPubHex); chk.E(err) {
		return
	}

	q := u.Query()
	relay := q.Get("relay")
	if relay == "" {
		err = errorf.E("nwc: missing relay parameter in connection URI")
		return
	}
	secretHex := q.Get("secret")
	if secretHex == "" {
		err = errorf.E("nwc: missing secret parameter in connection URI")
		return
	}
	var secret []byte
	if secret, err = hex.Dec(secretHex); chk.E(err) {
		return
	}

	sgn := &p256k.Signer{}
	if err = sgn.InitSec(secret); chk.E(err) {
		return
	}

	var sk *secp256k1.SecretKey
	if sk = secp256k1.SecKeyFromBytes(secret); sk == nil {
		err = errorf.E("nwc: invalid client secret key")
		return
	}
	var convKey []byte
	if convKey, err = encryption.ConversationKey(sk, walletPub); chk.E(err) {
		return
	}

	p = &ConnectionParams{
		relay:           relay,
		clientSecretKey: sgn,
		walletPublicKey: walletPub,
		conversationKey: convKey,
	}
	return
}
