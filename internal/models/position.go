package models

import "fmt"

// EquityPosition represents an open equity position, one row per
// (user, symbol, product). Quantity is signed: positive is long,
// negative is short. A DELIVERY position is never negative; the
// constructor and Apply enforce that, callers do not re-check it.
type EquityPosition struct {
	ID       string      `db:"id"`
	UserID   string      `db:"user_id"`
	Symbol   string      `db:"symbol"`
	Product  ProductType `db:"product"`
	Quantity int         `db:"quantity"`
	AvgPrice float64     `db:"avg_price"`
}

// NewEquityPosition creates a position from a first fill.
func NewEquityPosition(userID, symbol string, product ProductType, qty int, price float64) (*EquityPosition, error) {
	if qty == 0 {
		return nil, fmt.Errorf("position quantity must be non-zero")
	}
	if price < 0 {
		return nil, fmt.Errorf("average price must be non-negative, got %.2f", price)
	}
	if product == ProductDelivery && qty < 0 {
		return nil, fmt.Errorf("delivery position cannot be short (qty %d)", qty)
	}
	return &EquityPosition{
		UserID:   userID,
		Symbol:   symbol,
		Product:  product,
		Quantity: qty,
		AvgPrice: price,
	}, nil
}

// Apply folds a fill of signed quantity delta at the given price into
// the position. Same-direction legs recompute the average price as the
// size-weighted average; opposite-direction legs reduce toward zero and
// keep the entry average. A crossing delta flips the position and the
// remainder becomes a fresh leg at the fill price.
func (p *EquityPosition) Apply(delta int, price float64) error {
	if delta == 0 {
		return fmt.Errorf("fill delta must be non-zero")
	}
	newQty := p.Quantity + delta
	if p.Product == ProductDelivery && newQty < 0 {
		return fmt.Errorf("delivery position cannot go short (qty %d + delta %d)", p.Quantity, delta)
	}

	switch {
	case sameSign(p.Quantity, delta):
		oldAbs := abs(p.Quantity)
		addAbs := abs(delta)
		p.AvgPrice = (p.AvgPrice*float64(oldAbs) + price*float64(addAbs)) / float64(oldAbs+addAbs)
	case sameSign(p.Quantity, newQty) || newQty == 0:
		// reduced toward zero, entry average unchanged
	default:
		// crossed zero: the overshoot is a new leg at the fill price
		p.AvgPrice = price
	}
	p.Quantity = newQty
	return nil
}

// Flat reports whether the position has returned to exactly zero and
// should be deleted from the ledger.
func (p *EquityPosition) Flat() bool {
	return p.Quantity == 0
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
