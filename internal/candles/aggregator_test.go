package candles

import (
	"testing"
	"time"
)

func TestAggregatorClosesBucketOnBoundaryCross(t *testing.T) {
	a := NewAggregator(time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, closed := a.Add(10, base); closed {
		t.Fatal("first tick should not close a bucket")
	}
	if _, closed := a.Add(12, base.Add(30*time.Second)); closed {
		t.Fatal("tick in same bucket should not close it")
	}

	completed, closed := a.Add(9, base.Add(61*time.Second))
	if !closed {
		t.Fatal("tick in next bucket should close the previous one")
	}
	if completed.Open != 10 || completed.High != 12 || completed.Low != 10 || completed.Close != 12 {
		t.Errorf("completed candle = %+v, want O10 H12 L10 C12", completed)
	}
}

func TestAggregatorFlushReturnsInProgressBar(t *testing.T) {
	a := NewAggregator(time.Minute)
	if _, ok := a.Flush(); ok {
		t.Fatal("Flush() before any tick should report false")
	}
	a.Add(5, time.Now())
	c, ok := a.Flush()
	if !ok || c.Close != 5 {
		t.Errorf("Flush() = %+v, %v; want close=5, true", c, ok)
	}
}
