// Package pipeline is component C3: it turns a raw frame into a typed,
// partially side-effectful ParsedEvent, produces the bytes the UI renders,
// and surfaces synthetic follow-up requests for referenced ids/profiles/
// relays.
package pipeline

import "worker.orly.dev/pkg/encoders/event"

// ParsedEvent is the typed view C3 produces from a raw event, per kind.
// At most one of the kind-specific fields below is populated, matching
// whichever parse sub-procedure handled Raw.Kind; none is populated for a
// kind without one.
type ParsedEvent struct {
	Raw *event.E

	Metadata  *Metadata
	Note      *Note
	Contacts  *Contacts
	DM        *DirectMessage
	Repost    *Repost
	Reaction  *Reaction
	Nutzap    *Nutzap
	ZapReceipt *ZapReceipt
	RelayList *RelayList
	NutzapInfo *NutzapInfo
	Wallet    *Wallet
	TokenEvent *TokenEvent
}

// Metadata is kind 0.
type Metadata struct {
	Name        string
	DisplayName string
	Picture     string
	Banner      string
	About       string
	Website     string
	Nip05       string
	Lud06       string
	Lud16       string
	// Handles maps a social-platform key (e.g. "github", "twitter") to a
	// handle value, for whatever extra fields the JSON carried that aren't
	// one of the named fields above.
	Handles map[string]string
}

// ThreadPointer is the resolved immediate-parent or root reference for a
// kind-1 (or kind-4) note.
type ThreadPointer struct {
	EventID string
	Author  string
}

// Note is kind 1 (and the post-decrypt body of a kind 4).
type Note struct {
	Blocks          []ContentBlock
	ShortenedBlocks []ContentBlock
	Parent          *ThreadPointer
	Root            *ThreadPointer
}

// Contacts is kind 3.
type Contacts struct {
	Follows []ContactEntry
}

// ContactEntry is one `p` tag in a kind-3 contact list.
type ContactEntry struct {
	Pubkey  string
	Relay   string
	Petname string
}

// DirectMessage is kind 4, once decrypted.
type DirectMessage struct {
	Peer      string
	ChatID    string
	Recipient string
	Note      *Note
	Decrypted bool
}

// Repost is kind 6.
type Repost struct {
	RepostedEvent *ParsedEvent
}

// ReactionCategory classifies a kind 7/17 reaction.
type ReactionCategory int

const (
	ReactionLike ReactionCategory = iota
	ReactionDislike
	ReactionEmoji
	ReactionCustomEmoji
)

// Reaction is kind 7 or kind 17.
type Reaction struct {
	Category    ReactionCategory
	TargetEvent string
	TargetPubkey string
	TargetKind  *uint16
	Emoji       string
	EmojiURL    string
	ACoordinate string
}

// Nutzap is kind 9321.
type Nutzap struct {
	Proofs    []CashuProofRef
	MintURL   string
	Recipient string
	P2PKLock  string
}

// CashuProofRef is the proof shape as it appears embedded in an event,
// before pkg/cashu's proof verification pipe runs against it.
type CashuProofRef struct {
	Amount uint64
	Secret string
	C      string
	ID     string
}

// ZapReceipt is kind 9735.
type ZapReceipt struct {
	Amount          uint64
	RecipientPubkey string
	SenderPubkey    string
	ReferencedEvent string
	ReferencedAddr  string
	Preimage        string
	RelayHints      []string
	Valid           bool
}

// RelayEntry is one `r` tag of a kind-10002 relay list.
type RelayEntry struct {
	URL   string
	Read  bool
	Write bool
}

// RelayList is kind 10002.
type RelayList struct {
	Relays []RelayEntry
}

// NutzapInfo is kind 10019: the public, unencrypted half of nuts.cash
// wallet settings.
type NutzapInfo struct {
	Mints    []string
	Relays   []string
	P2PKLock string
}

// Wallet is kind 17375: the private, encrypted half of nuts.cash wallet
// settings. Decrypted is only true once the signer has successfully
// decrypted the event's content into the fields below.
type Wallet struct {
	Decrypted bool
	Mints     []string
	P2PKPub   string
	P2PKSec   string
	TrustInfo string
}

// TokenEvent is kind 7374 (pending token), 7375 (token), or 7376 (history).
type TokenEvent struct {
	MintURL    string
	Proofs     []CashuProofRef
	DeletedIDs []string // kind 7375 only
	Direction  string   // kind 7376 only: "in" or "out"
	Amount     uint64   // kind 7376 only
	HistoryTag []string // kind 7376 only
}
