// Package models provides domain models for the trading simulator.
package models

import (
	"time"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderKind represents the kind of an order.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// ProductType represents the product type of an equity order.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY" // may be net short, squared off same day
	ProductDelivery ProductType = "DELIVERY" // held beyond the day, never net short
)

// OrderStatus represents the lifecycle state of an order.
// FILLED and CANCELLED are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// Segment represents the market segment of an instrument.
type Segment string

const (
	SegmentEquity Segment = "EQ"
	SegmentIndex  Segment = "INDEX"
)

// Instrument represents a tradeable symbol.
type Instrument struct {
	Symbol  string  `db:"symbol"`
	Name    string  `db:"name"`
	Segment Segment `db:"segment"`
	Active  bool    `db:"active"`
}

// Account holds a user's virtual cash balances. The equity and F&O
// balances are independent; execution engines are the only writers.
type Account struct {
	UserID        string    `db:"user_id"`
	EquityBalance float64   `db:"equity_balance"`
	FnoBalance    float64   `db:"fno_balance"`
	CreatedAt     time.Time `db:"created_at"`
}

// Order represents an equity order.
type Order struct {
	ID           string      `db:"id"`
	UserID       string      `db:"user_id"`
	Symbol       string      `db:"symbol"`
	Side         OrderSide   `db:"side"`
	Kind         OrderKind   `db:"kind"`
	Product      ProductType `db:"product"`
	Quantity     int         `db:"quantity"`
	LimitPrice   float64     `db:"limit_price"`
	Status       OrderStatus `db:"status"`
	FilledQty    int         `db:"filled_qty"`
	AvgFillPrice float64     `db:"avg_fill_price"`
	Reason       string      `db:"reason"`
	PlacedAt     time.Time   `db:"placed_at"`
	FilledAt     *time.Time  `db:"filled_at"`
	CancelledAt  *time.Time  `db:"cancelled_at"`
}

// Trade is an immutable fill record. One Trade per fill event; the core
// never updates or deletes it.
type Trade struct {
	ID         string    `db:"id"`
	OrderID    string    `db:"order_id"`
	UserID     string    `db:"user_id"`
	Symbol     string    `db:"symbol"`
	Side       OrderSide `db:"side"`
	Quantity   int       `db:"quantity"`
	Price      float64   `db:"price"`
	Total      float64   `db:"total"`
	ExecutedAt time.Time `db:"executed_at"`
}

// OrderSpec is the caller-facing request used to place an order.
type OrderSpec struct {
	Symbol     string
	Side       OrderSide
	Kind       OrderKind
	Product    ProductType
	Quantity   int
	LimitPrice float64 // required for LIMIT, ignored for MARKET
}

// FillResult reports the outcome of a synchronous order placement.
type FillResult struct {
	OrderID  string
	Status   OrderStatus
	Filled   int
	AvgPrice float64
}

// CancelResult reports the outcome of a cancel request. An already
// terminal order is not eligible; that is a reported condition, not an
// error.
type CancelResult struct {
	OrderID  string
	Eligible bool
	Reason   string
}
