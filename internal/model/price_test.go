package model

import "testing"

func TestPriceValid(t *testing.T) {
	cases := []struct {
		name  string
		price Price
		want  bool
	}{
		{"normal", Price{Bid: 14.10, Ask: 14.12}, true},
		{"ask_equals_bid", Price{Bid: 14.10, Ask: 14.10}, true},
		{"ask_below_bid", Price{Bid: 14.10, Ask: 14.09}, false},
		{"zero_bid", Price{Bid: 0, Ask: 14.10}, false},
		{"negative_bid", Price{Bid: -1, Ask: 14.10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.price.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
			err := ValidatePrice(tc.price)
			if tc.want && err != nil {
				t.Errorf("ValidatePrice() unexpected error: %v", err)
			}
			if !tc.want && err == nil {
				t.Errorf("ValidatePrice() expected error, got nil")
			}
		})
	}
}
