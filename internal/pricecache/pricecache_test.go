package pricecache

import (
	"testing"
	"time"

	"github.com/palmoil/agent/internal/model"
)

func TestSetRejectsInvalidQuotes(t *testing.T) {
	c := New()
	cases := []model.Price{
		{Bid: 0, Ask: 1},
		{Bid: -1, Ask: 1},
		{Bid: 2, Ask: 1},
	}
	for _, p := range cases {
		if c.Set(1, p) {
			t.Errorf("Set(%+v) = true, want rejected", p)
		}
	}
	if _, ok := c.Get(1); ok {
		t.Error("Get() found a value after only invalid writes")
	}
}

func TestSetRoundTripsLastValidValue(t *testing.T) {
	c := New()
	now := time.Now()
	c.Set(1, model.Price{Bid: 10, Ask: 10.5, Timestamp: now})
	c.Set(1, model.Price{Bid: 11, Ask: 11.5, Timestamp: now.Add(time.Second)})

	got, ok := c.Get(1)
	if !ok || got.Bid != 11 {
		t.Fatalf("Get() = %+v, %v; want bid=11", got, ok)
	}
}

func TestStale(t *testing.T) {
	c := New()
	now := time.Now()
	if !c.Stale(1, time.Second, now) {
		t.Error("Stale() = false for missing symbol, want true")
	}
	c.Set(1, model.Price{Bid: 1, Ask: 1, Timestamp: now.Add(-10 * time.Second)})
	if !c.Stale(1, time.Second, now) {
		t.Error("Stale() = false for old quote, want true")
	}
	c.Set(1, model.Price{Bid: 1, Ask: 1, Timestamp: now})
	if c.Stale(1, time.Second, now) {
		t.Error("Stale() = true for fresh quote, want false")
	}
}
