package cache

import (
	"sort"

	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/hex"
)

// Result is the outcome of QueryEvents: the matching events, newest first,
// and whether Limit truncated the full candidate set.
type Result struct {
	Events  event.S
	HasMore bool
}

// QueryEvents answers f against the indexes, building a candidate id set
// from whichever indexed constraints are present (union within one
// constraint, intersection across constraints), then applying f.Matches for
// the non-indexed predicates (since/until, prefix matching) before sorting
// and truncating.
func (c *Cache) QueryEvents(f *filter.F) (res Result, err error) {
	c.mu.RLock()
	candidates := c.candidateIDs(f)
	c.mu.RUnlock()

	var events event.S
	for _, id := range candidates {
		off, ok := c.lookupOffset(id)
		if !ok {
			continue
		}
		raw, rerr := c.Read(off)
		if rerr != nil {
			continue
		}
		ev, derr := recognize(raw)
		if derr != nil {
			continue
		}
		if !f.Matches(ev) {
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(
		events, func(i, j int) bool {
			return events[i].CreatedAt > events[j].CreatedAt
		},
	)

	if f.Limit != nil && int(*f.Limit) < len(events) {
		res.HasMore = true
		events = events[:*f.Limit]
	}
	res.Events = events
	return
}

func (c *Cache) lookupOffset(id string) (off Offset, ok bool) {
	c.mu.RLock()
	off, ok = c.byID[id]
	c.mu.RUnlock()
	return
}

// candidateIDs builds the pre-filter candidate set from whichever indexed
// constraints f carries. ids are not indexed here (they may be prefixes, not
// full ids, per NIP-01): the full by_id keyspace stands in for that
// constraint and f.Matches narrows it exactly during the predicate pass.
// Callers hold c.mu.RLock.
func (c *Cache) candidateIDs(f *filter.F) (out []string) {
	var sets [][]string
	if f.Kinds != nil && f.Kinds.Len() > 0 {
		var union []string
		for _, k := range f.Kinds.K {
			union = append(union, c.byKind[k.ToU16()]...)
		}
		sets = append(sets, union)
	}
	if f.Authors != nil && f.Authors.Len() > 0 && allFullKeys(f.Authors.T) {
		var union []string
		for _, a := range f.Authors.T {
			union = append(union, c.byPubkey[hex.Enc(a)]...)
		}
		sets = append(sets, union)
	}
	if f.Tags != nil && f.Tags.Len() > 0 {
		for _, want := range *f.Tags {
			if want.Len() < 2 {
				continue
			}
			key := want.Key()
			if len(key) != 2 || key[0] != '#' {
				continue
			}
			letter := key[1]
			idx, ok := c.byTag[letter]
			if !ok {
				continue
			}
			var union []string
			for _, v := range want.T[1:] {
				union = append(union, idx[string(v)]...)
			}
			sets = append(sets, union)
		}
	}

	if len(sets) == 0 {
		for id := range c.byID {
			out = append(out, id)
		}
		return
	}
	return intersect(sets)
}

// allFullKeys reports whether every entry is a complete 32-byte pubkey
// rather than a NIP-01 prefix, which is the only case the by_pubkey index
// can answer exactly.
func allFullKeys(keys [][]byte) bool {
	for _, k := range keys {
		if len(k) != 32 {
			return false
		}
	}
	return true
}

func intersect(sets [][]string) (out []string) {
	if len(sets) == 0 {
		return
	}
	counts := make(map[string]int)
	for _, set := range sets {
		seen := make(map[string]struct{}, len(set))
		for _, id := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
		}
	}
	for id, n := range counts {
		if n == len(sets) {
			out = append(out, id)
		}
	}
	return
}

// Request pairs a filter with the hybrid-routing flags query_events_and_
// requests dispatches on.
type Request struct {
	Filter     *filter.F
	NoCache    bool
	CacheFirst bool
}

// Routed is one Request's outcome: the events the cache already had, and
// whether it must also be forwarded to the network.
type Routed struct {
	Events           event.S
	ForwardToNetwork bool
}

// QueryEventsAndRequests implements the hybrid routing algorithm: each
// request in batch is answered from the cache unless NoCache is set, and is
// marked for network forwarding when CacheFirst is false or the cache
// returned nothing.
func (c *Cache) QueryEventsAndRequests(batch []Request) (out []Routed, err error) {
	out = make([]Routed, len(batch))
	for i, req := range batch {
		if req.NoCache {
			out[i] = Routed{ForwardToNetwork: true}
			continue
		}
		res, qerr := c.QueryEvents(req.Filter)
		if qerr != nil {
			err = ErrStorage
			out[i] = Routed{ForwardToNetwork: true}
			continue
		}
		out[i] = Routed{
			Events:           res.Events,
			ForwardToNetwork: !req.CacheFirst || len(res.Events) == 0,
		}
	}
	return
}
