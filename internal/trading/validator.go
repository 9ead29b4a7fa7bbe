// Package trading implements order validation, execution and
// settlement against the virtual ledgers.
package trading

import (
	"context"

	apperrors "tradesim/internal/errors"
	"tradesim/internal/market"
	"tradesim/internal/models"
	"tradesim/internal/store"
)

// Validator checks a proposed order against business rules before any
// mutation. It has no side effects; the engines re-verify balance and
// holdings at fill time because price and ledger state may move
// between validation and execution.
type Validator struct {
	store  *store.Store
	prices market.PriceSource
}

// NewValidator creates a validator.
func NewValidator(s *store.Store, prices market.PriceSource) *Validator {
	return &Validator{store: s, prices: prices}
}

// Validate checks the proposed order for userID.
func (v *Validator) Validate(ctx context.Context, userID string, spec models.OrderSpec) error {
	if spec.Quantity <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidQuantity, "got %d", spec.Quantity)
	}
	if spec.Kind == models.OrderKindLimit && spec.LimitPrice <= 0 {
		return apperrors.ErrMissingLimitPrice
	}

	instrument, err := v.store.GetInstrument(ctx, spec.Symbol)
	if err != nil {
		return err
	}
	if !instrument.Active {
		return apperrors.Wrapf(apperrors.ErrUnknownSymbol, "%s is inactive", spec.Symbol)
	}

	switch spec.Side {
	case models.OrderSideBuy:
		return v.validateBuy(ctx, userID, spec)
	case models.OrderSideSell:
		return v.validateSell(ctx, userID, spec)
	}
	return nil
}

// validateBuy estimates the cost at the limit price (LIMIT) or the
// current market price (MARKET) and checks it against the equity
// balance. Covering a short is not free: the estimate is the full
// notional either way, only the reported message differs.
func (v *Validator) validateBuy(ctx context.Context, userID string, spec models.OrderSpec) error {
	price := spec.LimitPrice
	if spec.Kind == models.OrderKindMarket {
		var err error
		price, err = v.prices.GetPrice(ctx, spec.Symbol)
		if err != nil {
			return err
		}
	}
	cost := price * float64(spec.Quantity)

	acct, err := v.store.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if acct.EquityBalance >= cost {
		return nil
	}

	pos, err := v.store.GetEquityPosition(ctx, userID, spec.Symbol, spec.Product)
	if err != nil {
		return err
	}
	if pos != nil && pos.Quantity < 0 {
		return apperrors.Wrapf(apperrors.ErrInsufficientBalance,
			"covering a short costs full notional ₹%.2f, available ₹%.2f", cost, acct.EquityBalance)
	}
	return apperrors.Wrapf(apperrors.ErrInsufficientBalance,
		"need ₹%.2f, available ₹%.2f", cost, acct.EquityBalance)
}

// validateSell requires DELIVERY sells to be backed by holdings.
// INTRADAY sells are always permitted: they may open or extend a
// short.
func (v *Validator) validateSell(ctx context.Context, userID string, spec models.OrderSpec) error {
	if spec.Product != models.ProductDelivery {
		return nil
	}
	pos, err := v.store.GetEquityPosition(ctx, userID, spec.Symbol, models.ProductDelivery)
	if err != nil {
		return err
	}
	if pos == nil || pos.Quantity < spec.Quantity {
		held := 0
		if pos != nil {
			held = pos.Quantity
		}
		return apperrors.Wrapf(apperrors.ErrInsufficientHoldings,
			"hold %d of %s, selling %d", held, spec.Symbol, spec.Quantity)
	}
	return nil
}
