package pipeline

import (
	"strconv"
	"strings"

	"worker.orly.dev/pkg/encoders/bech32encoding"
)

// bolt11AmountMsat extracts the amount encoded in a bolt11 invoice's human
// readable part, a zap receipt's fallback source when no explicit amount
// tag is present. Bolt11 invoices are bech32-encoded with the classic
// (non-m) checksum, the same primitive NIP-19 entities use, so the shared
// codec's Decode is reused rather than adding a whole lightning-invoice
// library for one field.
func bolt11AmountMsat(invoice string) (msat uint64, ok bool) {
	hrp, _, err := bech32encoding.Decode(invoice)
	if err != nil {
		return 0, false
	}
	if !strings.HasPrefix(hrp, "ln") {
		return 0, false
	}
	rest := hrp[2:]
	for _, prefix := range []string{"bcrt", "bc", "tbs", "tb"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if rest == "" {
		return 0, false
	}
	multiplier := byte(0)
	digits := rest
	switch rest[len(rest)-1] {
	case 'm', 'u', 'n', 'p':
		multiplier = rest[len(rest)-1]
		digits = rest[:len(rest)-1]
	}
	if digits == "" {
		return 0, false
	}
	amount, perr := strconv.ParseUint(digits, 10, 64)
	if perr != nil {
		return 0, false
	}
	// 1 BTC = 10^11 millisatoshi.
	const btcToMsat = 100_000_000_000
	var divisor uint64 = 1
	switch multiplier {
	case 'm':
		divisor = 1_000
	case 'u':
		divisor = 1_000_000
	case 'n':
		divisor = 1_000_000_000
	case 'p':
		divisor = 1_000_000_000_000
	}
	return (amount * btcToMsat) / divisor, true
}
