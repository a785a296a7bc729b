package pipeline

import (
	"testing"

	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/tag"
)

func TestDeduplicateMergesRelaysForIdenticalFilter(t *testing.T) {
	f1 := filter.New()
	f1.Ids = tag.NewFromAny("abc")
	f2 := filter.New()
	f2.Ids = tag.NewFromAny("abc")

	reqs := []Request{
		{Filter: f1, Relays: []string{"wss://a.example"}, CacheFirst: true},
		{Filter: f2, Relays: []string{"wss://b.example"}, CacheFirst: true},
	}
	out := Deduplicate(reqs)
	if len(out) != 1 {
		t.Fatalf("expected the two identical filters to merge, got %d", len(out))
	}
	if len(out[0].Relays) != 2 {
		t.Fatalf("expected merged relays from both requests, got %v", out[0].Relays)
	}
}

func TestDeduplicateDoesNotMergeDifferingLimit(t *testing.T) {
	limA := uint(1)
	limB := uint(5)
	f1 := filter.New()
	f1.Ids = tag.NewFromAny("abc")
	f1.Limit = &limA
	f2 := filter.New()
	f2.Ids = tag.NewFromAny("abc")
	f2.Limit = &limB

	reqs := []Request{
		{Filter: f1, CacheFirst: true},
		{Filter: f2, CacheFirst: true},
	}
	out := Deduplicate(reqs)
	if len(out) != 2 {
		t.Fatalf("expected differing limits to stay distinct, got %d", len(out))
	}
}

func TestDeduplicateKeepsDistinctFilters(t *testing.T) {
	f1 := filter.New()
	f1.Ids = tag.NewFromAny("abc")
	f2 := filter.New()
	f2.Ids = tag.NewFromAny("def")

	out := Deduplicate([]Request{{Filter: f1}, {Filter: f2}})
	if len(out) != 2 {
		t.Fatalf("expected 2 distinct requests, got %d", len(out))
	}
}
