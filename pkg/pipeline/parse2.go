package pipeline

import (
	"encoding/json"
	"strconv"

	"worker.orly.dev/pkg/encoders/event"
)

// parseZapReceipt validates a kind-9735 zap receipt against its embedded
// kind-9734 zap request and pulls a relay-hint list out of the request's
// own `relays` tag.
func parseZapReceipt(ev *event.E) *ZapReceipt {
	zr := &ZapReceipt{}
	var description string
	var receiptRecipient, receiptEventID, receiptAddr string
	if ev.Tags != nil {
		for _, t := range *ev.Tags {
			if t.Len() < 2 {
				continue
			}
			switch string(t.Key()) {
			case "description":
				description = string(t.Value())
			case "p":
				receiptRecipient = string(t.Value())
			case "P":
				zr.SenderPubkey = string(t.Value())
			case "e":
				receiptEventID = string(t.Value())
			case "a":
				receiptAddr = string(t.Value())
			case "bolt11":
				if msat, ok := bolt11AmountMsat(string(t.Value())); ok {
					zr.Amount = msat
				}
			case "preimage":
				zr.Preimage = string(t.Value())
			}
		}
	}
	zr.RecipientPubkey = receiptRecipient
	zr.ReferencedEvent = receiptEventID
	zr.ReferencedAddr = receiptAddr

	if description == "" {
		return zr
	}
	req := event.New()
	if json.Unmarshal([]byte(description), req) != nil {
		return zr
	}
	requestRecipient, requestEventID, requestAddr := "", "", ""
	if req.Tags != nil {
		for _, t := range *req.Tags {
			if t.Len() < 2 {
				continue
			}
			switch string(t.Key()) {
			case "amount":
				if v, err := strconv.ParseUint(string(t.Value()), 10, 64); err == nil {
					zr.Amount = v
				}
			case "p":
				requestRecipient = string(t.Value())
			case "e":
				requestEventID = string(t.Value())
			case "a":
				requestAddr = string(t.Value())
			case "relays":
				for _, r := range t.T[1:] {
					zr.RelayHints = append(zr.RelayHints, string(r))
				}
			}
		}
	}
	if zr.SenderPubkey == "" && len(req.Pubkey) > 0 {
		zr.SenderPubkey = hexString(req.Pubkey)
	}

	zr.Valid = requestRecipient != "" && requestRecipient == receiptRecipient
	if requestEventID != "" || receiptEventID != "" {
		zr.Valid = zr.Valid && requestEventID == receiptEventID
	}
	if requestAddr != "" || receiptAddr != "" {
		zr.Valid = zr.Valid && requestAddr == receiptAddr
	}
	return zr
}

func parseRelayList(ev *event.E) *RelayList {
	rl := &RelayList{}
	if ev.Tags == nil {
		return rl
	}
	for _, t := range *ev.Tags {
		if t.Len() < 2 || string(t.Key()) != "r" {
			continue
		}
		entry := RelayEntry{URL: string(t.Value()), Read: true, Write: true}
		if t.Len() > 2 {
			switch string(t.T[2]) {
			case "read":
				entry.Write = false
			case "write":
				entry.Read = false
			}
		}
		rl.Relays = append(rl.Relays, entry)
	}
	return rl
}

// parseNutzapInfo extracts the public kind-10019 nutzap-info event's
// mint/relay/pubkey tags, distinct from the private kind-17375 wallet
// event's encrypted payload.
func parseNutzapInfo(ev *event.E) *NutzapInfo {
	ni := &NutzapInfo{}
	if ev.Tags == nil {
		return ni
	}
	for _, t := range *ev.Tags {
		if t.Len() < 2 {
			continue
		}
		switch string(t.Key()) {
		case "mint":
			ni.Mints = append(ni.Mints, string(t.Value()))
		case "relay":
			ni.Relays = append(ni.Relays, string(t.Value()))
		case "pubkey":
			ni.P2PKLock = string(t.Value())
		}
	}
	return ni
}

// ApplyWalletDecryption fills a kind-17375 Wallet's fields from the signer's
// decrypted payload, which is expected to be JSON per nuts.cash's wallet
// content shape. ParsePipe calls this once the signer's NIP-44 decrypt
// succeeds; until then Wallet.Decrypted stays false.
func ApplyWalletDecryption(w *Wallet, plaintext []byte) {
	var payload struct {
		Mints     []string `json:"mints"`
		PrivKey   string   `json:"privkey"`
		PubKey    string   `json:"pubkey"`
		TrustInfo string   `json:"trust"`
	}
	if json.Unmarshal(plaintext, &payload) != nil {
		return
	}
	w.Mints = payload.Mints
	w.P2PKSec = payload.PrivKey
	w.P2PKPub = payload.PubKey
	w.TrustInfo = payload.TrustInfo
	w.Decrypted = true
}

func parseTokenEvent(ev *event.E, k uint16) *TokenEvent {
	te := &TokenEvent{}
	var payload struct {
		Mint    string          `json:"mint"`
		Proofs  []json.RawMessage `json:"proofs"`
		Deleted []string        `json:"del"`
	}
	if json.Unmarshal(ev.Content, &payload) == nil {
		te.MintURL = payload.Mint
		te.DeletedIDs = payload.Deleted
		for _, raw := range payload.Proofs {
			var p struct {
				Amount uint64 `json:"amount"`
				Secret string `json:"secret"`
				C      string `json:"C"`
				ID     string `json:"id"`
			}
			if json.Unmarshal(raw, &p) == nil {
				te.Proofs = append(te.Proofs, CashuProofRef{Amount: p.Amount, Secret: p.Secret, C: p.C, ID: p.ID})
			}
		}
	}
	if k != kindTokenHistory || ev.Tags == nil {
		return te
	}
	for _, t := range *ev.Tags {
		if t.Len() < 2 {
			continue
		}
		switch string(t.Key()) {
		case "direction":
			te.Direction = string(t.Value())
		case "amount":
			if v, err := strconv.ParseUint(string(t.Value()), 10, 64); err == nil {
				te.Amount = v
			}
		case "e":
			te.HistoryTag = append(te.HistoryTag, string(t.Value()))
		}
	}
	return te
}
