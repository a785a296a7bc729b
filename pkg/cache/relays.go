package cache

import (
	"sort"

	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/hex"
)

// RelayListConfig supplies the fallback relay lists get_relays uses when no
// kind-10002 data exists for any author or p-tagged pubkey in the request.
type RelayListConfig struct {
	Indexer []string
	Default []string
}

const maxRelays = 15

// GetRelays determines target relays for a network-forwarded request:
// write relays from each author's latest kind-10002, read relays from each
// p-tagged pubkey's latest kind-10002, ranked by occurrence count then URL,
// capped at 15. When no 10002 data exists it falls back to the indexer list
// for kinds 0/3/10002 and the default list otherwise.
func (c *Cache) GetRelays(f *filter.F, cfg RelayListConfig) (urls []string) {
	counts := make(map[string]int)

	c.mu.RLock()
	if f.Authors != nil {
		for _, a := range f.Authors.T {
			if ev, ok := c.latestRelayList[hex.Enc(a)]; ok {
				for _, u := range relayURLs(ev, "write") {
					counts[u]++
				}
			}
		}
	}
	if f.Tags != nil {
		for _, want := range *f.Tags {
			if want.Len() < 2 {
				continue
			}
			key := want.Key()
			if len(key) != 2 || key[0] != '#' || key[1] != 'p' {
				continue
			}
			for _, pub := range want.T[1:] {
				if ev, ok := c.latestRelayList[hex.Enc(pub)]; ok {
					for _, u := range relayURLs(ev, "read") {
						counts[u]++
					}
				}
			}
		}
	}
	c.mu.RUnlock()

	if len(counts) == 0 {
		return fallbackRelays(f, cfg)
	}

	urls = make([]string, 0, len(counts))
	for u := range counts {
		urls = append(urls, u)
	}
	sort.Slice(
		urls, func(i, j int) bool {
			if counts[urls[i]] != counts[urls[j]] {
				return counts[urls[i]] > counts[urls[j]]
			}
			return urls[i] < urls[j]
		},
	)
	if len(urls) > maxRelays {
		urls = urls[:maxRelays]
	}
	return
}

// relayURLs extracts r-tag urls from a kind-10002 event matching the given
// direction ("read" or "write"); a tag with no marker counts for both.
func relayURLs(ev *event.E, direction string) (out []string) {
	if ev.Tags == nil {
		return
	}
	for _, t := range *ev.Tags {
		if t.Len() < 2 || string(t.Key()) != "r" {
			continue
		}
		marker := ""
		if t.Len() > 2 {
			marker = string(t.T[2])
		}
		if marker == "" || marker == direction {
			out = append(out, string(t.Value()))
		}
	}
	return
}

func fallbackRelays(f *filter.F, cfg RelayListConfig) []string {
	if f.Kinds != nil {
		for _, k := range f.Kinds.K {
			switch k.ToU16() {
			case 0, 3, 10002:
				return cfg.Indexer
			}
		}
	}
	return cfg.Default
}
