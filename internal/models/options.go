package models

import (
	"fmt"
	"strings"
	"time"
)

// OptionType represents the type of an index option.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// OptionContract identifies an index option contract. It is a value
// type: two contracts are equal iff all four fields match.
type OptionContract struct {
	Underlying string     `db:"underlying"`
	Strike     float64    `db:"strike"`
	Type       OptionType `db:"option_type"`
	Expiry     time.Time  `db:"expiry"`
}

// Symbol renders the conventional contract name, e.g.
// NIFTY24JAN19500CE.
func (c OptionContract) Symbol() string {
	return fmt.Sprintf("%s%s%.0f%s", c.Underlying, strings.ToUpper(c.Expiry.Format("06Jan")), c.Strike, c.Type)
}

// Expired reports whether the contract's expiry has passed at t.
func (c OptionContract) Expired(t time.Time) bool {
	return t.After(c.Expiry)
}

// FnoPosition represents an open option position, one row per
// (user, contract). Quantity is signed: positive is long (bought),
// negative is short (sold).
type FnoPosition struct {
	ID         string     `db:"id"`
	UserID     string     `db:"user_id"`
	Underlying string     `db:"underlying"`
	Strike     float64    `db:"strike"`
	Type       OptionType `db:"option_type"`
	Expiry     time.Time  `db:"expiry"`
	Quantity   int        `db:"quantity"`
	AvgPremium float64    `db:"avg_premium"`
	IsExpired  bool       `db:"is_expired"`
	IsSettled  bool       `db:"is_settled"`
}

// Contract returns the position's contract identity.
func (p *FnoPosition) Contract() OptionContract {
	return OptionContract{
		Underlying: p.Underlying,
		Strike:     p.Strike,
		Type:       p.Type,
		Expiry:     p.Expiry,
	}
}

// Flat reports whether the position quantity has returned to zero.
func (p *FnoPosition) Flat() bool {
	return p.Quantity == 0
}

// OptionQuote is a priced contract in an option chain.
type OptionQuote struct {
	Contract OptionContract
	Spot     float64
	Premium  float64
}

// PositionView decorates a position with live pricing for display.
type PositionView struct {
	Symbol       string
	Product      string
	Quantity     int
	AvgPrice     float64
	LTP          float64
	PnL          float64
	PositionID   string
}
