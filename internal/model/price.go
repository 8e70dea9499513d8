package model

import (
	"fmt"
	"time"
)

// Price is a bid/ask quote for a symbol at a point in time.
type Price struct {
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Valid reports whether the quote is well-formed: bid strictly positive and
// ask at least bid.
func (p Price) Valid() bool {
	return p.Bid > 0 && p.Ask >= p.Bid
}

// ValidatePrice returns an error describing why a price is invalid, or nil.
func ValidatePrice(p Price) error {
	if p.Bid <= 0 {
		return fmt.Errorf("invalid price: bid %.8f must be > 0", p.Bid)
	}
	if p.Ask < p.Bid {
		return fmt.Errorf("invalid price: ask %.8f must be >= bid %.8f", p.Ask, p.Bid)
	}
	return nil
}

// Mid returns the midpoint of bid/ask.
func (p Price) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}
