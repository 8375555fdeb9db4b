// Package money holds the pure currency helpers consumed by bidding logic.
// Amounts are integer minor units; display follows the Indian numbering
// system (lakh = 1e5, crore = 1e7).
package money

import (
	"strconv"
	"strings"
)

const (
	lakh  = 100_000
	crore = 10_000_000
)

// FormatAmount renders an amount in minor units for display: crores with a
// "Cr" suffix, lakhs with an "L" suffix, anything smaller as the raw value.
func FormatAmount(amount int64) string {
	switch {
	case amount >= crore:
		return trimmed(float64(amount)/crore) + " Cr"
	case amount >= lakh:
		return trimmed(float64(amount)/lakh) + " L"
	default:
		return strconv.FormatInt(amount, 10)
	}
}

// BidIncrement returns the next bid step for a current amount: 25 L below
// the 2 Cr mark, 1 Cr above it.
func BidIncrement(current int64) int64 {
	if current < 2*crore {
		return 25 * lakh
	}
	return crore
}

// trimmed formats with up to two decimals, dropping trailing zeros so
// "2.50" reads "2.5" and "75.00" reads "75".
func trimmed(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
