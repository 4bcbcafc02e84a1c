package orderbook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrOrderNotFound    = errors.New("order not found")
	ErrNoQuoteAvailable = errors.New("no quote available")
)

// OrderType combines side and execution style.
type OrderType int8

const (
	MarketBuy OrderType = iota + 1
	MarketSell
	LimitBuy
	LimitSell
	StopBuy
	StopSell
)

var orderTypeNames = map[OrderType]string{
	MarketBuy:  "MarketBuy",
	MarketSell: "MarketSell",
	LimitBuy:   "LimitBuy",
	LimitSell:  "LimitSell",
	StopBuy:    "StopBuy",
	StopSell:   "StopSell",
}

func (t OrderType) String() string {
	if s, ok := orderTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("OrderType(%d)", int8(t))
}

// ParseOrderType accepts the String form, case-insensitive.
func ParseOrderType(s string) (OrderType, error) {
	for t, name := range orderTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, s)
}

func (t OrderType) IsBuy() bool    { return t == MarketBuy || t == LimitBuy || t == StopBuy }
func (t OrderType) IsMarket() bool { return t == MarketBuy || t == MarketSell }
func (t OrderType) IsLimit() bool  { return t == LimitBuy || t == LimitSell }
func (t OrderType) IsStop() bool   { return t == StopBuy || t == StopSell }

// MarshalText lets order types travel as strings in JSON.
func (t OrderType) MarshalText() ([]byte, error) {
	if _, ok := orderTypeNames[t]; !ok {
		return nil, fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, int8(t))
	}
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	parsed, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Status tracks where an order is in its lifecycle. Filled and Cancelled are terminal.
type Status int8

const (
	Resting Status = iota + 1
	Queued
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Resting:
		return "Resting"
	case Queued:
		return "Queued"
	case Filled:
		return "Filled"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Order struct {
	ID     uint64           `json:"id"`
	Type   OrderType        `json:"type"`
	Symbol string           `json:"symbol"`
	Shares decimal.Decimal  `json:"shares"`
	Price  *decimal.Decimal `json:"price,omitempty"` // nil for market orders
	Seq    uint64           `json:"-"`               // insertion sequence within the book
}

// Validate checks the shares/price combination for the order type.
func (o *Order) Validate() error {
	if _, ok := orderTypeNames[o.Type]; !ok {
		return fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, int8(o.Type))
	}
	if o.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	if !o.Shares.IsPositive() {
		return fmt.Errorf("%w: shares must be positive, got %s", ErrInvalidOrder, o.Shares)
	}
	if o.Type.IsMarket() {
		if o.Price != nil {
			return fmt.Errorf("%w: %s must not carry a price", ErrInvalidOrder, o.Type)
		}
		return nil
	}
	if o.Price == nil {
		return fmt.Errorf("%w: %s requires a price", ErrInvalidOrder, o.Type)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, *o.Price)
	}
	return nil
}

// ParseOrder builds an order from text fields. Prices and shares are parsed once
// and kept in exact form. An empty price means "no price".
func ParseOrder(orderType, symbol, shares, price string) (Order, error) {
	t, err := ParseOrderType(orderType)
	if err != nil {
		return Order{}, err
	}
	qty, err := decimal.NewFromString(shares)
	if err != nil {
		return Order{}, fmt.Errorf("%w: shares %q: %v", ErrInvalidOrder, shares, err)
	}
	o := Order{Type: t, Symbol: symbol, Shares: qty}
	if price != "" {
		p, err := decimal.NewFromString(price)
		if err != nil {
			return Order{}, fmt.Errorf("%w: price %q: %v", ErrInvalidOrder, price, err)
		}
		o.Price = &p
	}
	return o, o.Validate()
}

// Constructors used by strategies and tests.

func NewMarketBuy(symbol string, shares decimal.Decimal) Order {
	return Order{Type: MarketBuy, Symbol: symbol, Shares: shares}
}

func NewMarketSell(symbol string, shares decimal.Decimal) Order {
	return Order{Type: MarketSell, Symbol: symbol, Shares: shares}
}

func NewLimitBuy(symbol string, shares, price decimal.Decimal) Order {
	return Order{Type: LimitBuy, Symbol: symbol, Shares: shares, Price: &price}
}

func NewLimitSell(symbol string, shares, price decimal.Decimal) Order {
	return Order{Type: LimitSell, Symbol: symbol, Shares: shares, Price: &price}
}

func NewStopBuy(symbol string, shares, trigger decimal.Decimal) Order {
	return Order{Type: StopBuy, Symbol: symbol, Shares: shares, Price: &trigger}
}

func NewStopSell(symbol string, shares, trigger decimal.Decimal) Order {
	return Order{Type: StopSell, Symbol: symbol, Shares: shares, Price: &trigger}
}

// Fill is one fully executed order. The exchange turns fills into ledger trades.
type Fill struct {
	OrderID uint64
	Type    OrderType
	Symbol  string
	Price   decimal.Decimal
	Shares  decimal.Decimal
}
