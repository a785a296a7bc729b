package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/kind"
	"worker.orly.dev/pkg/encoders/tag"
)

// kinds without a named constant in pkg/encoders/kind.
const (
	kindReactionExtended = 17
	kindNutzap           = 9321
	kindZapReceipt       = 9735
	kindNutzapInfo       = 10019
	kindWallet           = 17375
	kindTokenPending     = 7374
	kindToken            = 7375
	kindTokenHistory     = 7376
)

// Parse dispatches ev to the parse sub-procedure named by its kind,
// populating the matching field of the returned ParsedEvent. Unrecognized
// kinds are returned with only Raw set.
func Parse(ev *event.E) (pe *ParsedEvent) {
	pe = &ParsedEvent{Raw: ev}
	switch ev.Kind {
	case kind.ProfileMetadata.ToU16():
		pe.Metadata = parseMetadata(ev)
	case kind.TextNote.ToU16():
		pe.Note = parseNote(ev)
	case kind.FollowList.ToU16():
		pe.Contacts = parseContacts(ev)
	case kind.Repost.ToU16():
		pe.Repost = parseRepost(ev)
	case kind.Reaction.ToU16(), kindReactionExtended:
		pe.Reaction = parseReaction(ev)
	case kindNutzap:
		pe.Nutzap = parseNutzap(ev)
	case kindZapReceipt:
		pe.ZapReceipt = parseZapReceipt(ev)
	case kind.RelayListMetadata.ToU16():
		pe.RelayList = parseRelayList(ev)
	case kindNutzapInfo:
		pe.NutzapInfo = parseNutzapInfo(ev)
	case kindWallet:
		pe.Wallet = &Wallet{} // Decrypted=false until the signer succeeds; see ApplyWalletDecryption.
	case kindTokenPending, kindToken, kindTokenHistory:
		pe.TokenEvent = parseTokenEvent(ev, ev.Kind)
	}
	return
}

func parseMetadata(ev *event.E) *Metadata {
	var raw map[string]any
	if err := json.Unmarshal(ev.Content, &raw); err != nil {
		return &Metadata{}
	}
	m := &Metadata{Handles: make(map[string]string)}
	known := map[string]*string{
		"name": &m.Name, "display_name": &m.DisplayName, "picture": &m.Picture,
		"banner": &m.Banner, "about": &m.About, "website": &m.Website,
		"nip05": &m.Nip05, "lud06": &m.Lud06, "lud16": &m.Lud16,
	}
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if dst, isKnown := known[k]; isKnown {
			*dst = s
			continue
		}
		m.Handles[k] = s
	}
	return m
}

// parseNote runs the content-tokenization cascade and resolves thread
// pointers.
func parseNote(ev *event.E) *Note {
	n := &Note{Blocks: Tokenize(string(ev.Content))}
	n.ShortenedBlocks, _ = Shorten(n.Blocks)
	n.Parent, n.Root = resolveThreadPointers(ev.Tags)
	return n
}

// resolveThreadPointers walks tags once: the parent is the last `e` tag,
// overridden by one marked "reply"; the root is the first `e` tag,
// overridden by one marked "root". The pointed-to
// author is recovered from the e tag's own position-3 pubkey, else the
// rank-matched p tag, else (for the root) the first p tag.
func resolveThreadPointers(tags *tag.S) (parent, root *ThreadPointer) {
	if tags == nil {
		return nil, nil
	}
	type eRef struct {
		id     string
		marker string
		author string
		rank   int
	}
	var eRefs []eRef
	var pTags []string
	rank := 0
	for _, t := range *tags {
		if t.Len() < 2 {
			continue
		}
		switch string(t.Key()) {
		case "e":
			ref := eRef{id: string(t.Value()), rank: rank}
			if t.Len() > 2 {
				ref.marker = string(t.T[2])
			}
			if t.Len() > 3 {
				ref.author = string(t.T[3])
			}
			eRefs = append(eRefs, ref)
			rank++
		case "p":
			pTags = append(pTags, string(t.Value()))
		}
	}
	if len(eRefs) == 0 {
		return nil, nil
	}

	parentRef := eRefs[len(eRefs)-1]
	for _, r := range eRefs {
		if r.marker == "reply" {
			parentRef = r
			break
		}
	}
	rootRef := eRefs[0]
	for _, r := range eRefs {
		if r.marker == "root" {
			rootRef = r
			break
		}
	}

	parent = &ThreadPointer{EventID: parentRef.id, Author: resolveAuthor(parentRef.author, parentRef.rank, pTags, false)}
	root = &ThreadPointer{EventID: rootRef.id, Author: resolveAuthor(rootRef.author, rootRef.rank, pTags, true)}
	return
}

func resolveAuthor(explicit string, rank int, pTags []string, isRoot bool) string {
	if explicit != "" && explicit != "reply" && explicit != "root" && explicit != "mention" {
		return explicit
	}
	if rank < len(pTags) {
		return pTags[rank]
	}
	if isRoot && len(pTags) > 0 {
		return pTags[0]
	}
	return ""
}

func parseContacts(ev *event.E) *Contacts {
	c := &Contacts{}
	if ev.Tags == nil {
		return c
	}
	for _, t := range *ev.Tags {
		if t.Len() < 2 || string(t.Key()) != "p" {
			continue
		}
		entry := ContactEntry{Pubkey: string(t.Value())}
		if t.Len() > 2 {
			entry.Relay = string(t.T[2])
		}
		if t.Len() > 3 {
			entry.Petname = string(t.T[3])
		}
		c.Follows = append(c.Follows, entry)
	}
	return c
}

func parseRepost(ev *event.E) *Repost {
	inner := event.New()
	if err := json.Unmarshal(ev.Content, inner); err != nil {
		return &Repost{}
	}
	return &Repost{RepostedEvent: Parse(inner)}
}

func parseReaction(ev *event.E) *Reaction {
	r := &Reaction{Category: ReactionLike}
	content := strings.TrimSpace(string(ev.Content))
	switch content {
	case "", "+":
		r.Category = ReactionLike
	case "-":
		r.Category = ReactionDislike
	default:
		if strings.HasPrefix(content, ":") && strings.HasSuffix(content, ":") {
			r.Category = ReactionCustomEmoji
			r.Emoji = content
		} else {
			r.Category = ReactionEmoji
			r.Emoji = content
		}
	}
	if ev.Tags == nil {
		return r
	}
	for _, t := range *ev.Tags {
		if t.Len() < 2 {
			continue
		}
		switch string(t.Key()) {
		case "e":
			r.TargetEvent = string(t.Value())
		case "p":
			r.TargetPubkey = string(t.Value())
		case "k":
			if kk, err := strconv.ParseUint(string(t.Value()), 10, 16); err == nil {
				v := uint16(kk)
				r.TargetKind = &v
			}
		case "a":
			r.ACoordinate = string(t.Value())
		case "emoji":
			if t.Len() > 2 {
				r.EmojiURL = string(t.T[2])
			}
		}
	}
	return r
}

func parseNutzap(ev *event.E) *Nutzap {
	n := &Nutzap{}
	var proofsJSON []json.RawMessage
	_ = json.Unmarshal(ev.Content, &proofsJSON)
	for _, raw := range proofsJSON {
		var p struct {
			Amount uint64 `json:"amount"`
			Secret string `json:"secret"`
			C      string `json:"C"`
			ID     string `json:"id"`
		}
		if json.Unmarshal(raw, &p) == nil {
			n.Proofs = append(n.Proofs, CashuProofRef{Amount: p.Amount, Secret: p.Secret, C: p.C, ID: p.ID})
		}
	}
	if ev.Tags == nil {
		return n
	}
	for _, t := range *ev.Tags {
		if t.Len() < 2 {
			continue
		}
		switch string(t.Key()) {
		case "u":
			n.MintURL = string(t.Value())
		case "p":
			n.Recipient = string(t.Value())
		}
	}
	return n
}
