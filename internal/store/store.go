// Package store provides sqlite-backed persistence for accounts,
// orders, trades and position ledgers.
package store

import (
	"time"

	"tradesim/internal/models"
)

// OrderFilter represents filters for querying orders.
type OrderFilter struct {
	UserID string
	Symbol string
	Status models.OrderStatus
	Limit  int
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	UserID    string
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
