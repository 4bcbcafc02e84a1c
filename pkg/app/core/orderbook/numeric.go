package orderbook

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NumericMode selects how prices and quantities are represented inside a book.
//
// Exact keeps every value as an arbitrary-precision decimal and is the default.
// Float64 is a reduced-precision mode: each price, share count and quote is
// rounded through a float64 when it enters the book, so comparisons behave like
// a binary floating point engine would. Use it only to reproduce results from
// float-based systems.
type NumericMode int8

const (
	Exact NumericMode = iota
	Float64
)

func (m NumericMode) String() string {
	if m == Float64 {
		return "float64"
	}
	return "exact"
}

func ParseNumericMode(s string) (NumericMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact", "decimal":
		return Exact, nil
	case "float", "float64":
		return Float64, nil
	default:
		return Exact, fmt.Errorf("unknown numeric mode %q", s)
	}
}

// Normalize returns d in the representation this mode uses.
func (m NumericMode) Normalize(d decimal.Decimal) decimal.Decimal {
	if m == Float64 {
		return decimal.NewFromFloat(d.InexactFloat64())
	}
	return d
}

// MarketPolicy decides what happens to market orders at insertion.
type MarketPolicy int8

const (
	// QueueForNextQuote holds market orders until the next ApplyQuote and fills
	// them at that quote.
	QueueForNextQuote MarketPolicy = iota
	// FillAgainstLastQuote fills market orders at insertion against the most
	// recently applied quote and rejects them when the symbol was never quoted.
	FillAgainstLastQuote
)

func (p MarketPolicy) String() string {
	if p == FillAgainstLastQuote {
		return "immediate"
	}
	return "queue"
}

func ParseMarketPolicy(s string) (MarketPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "queue", "next":
		return QueueForNextQuote, nil
	case "immediate", "last":
		return FillAgainstLastQuote, nil
	default:
		return QueueForNextQuote, fmt.Errorf("unknown market policy %q", s)
	}
}
