package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	apperrors "tradesim/internal/errors"
	"tradesim/internal/market"
	"tradesim/internal/models"
	"tradesim/internal/store"
)

// EquityEngine fills market orders synchronously and matches resting
// limit orders against refreshed prices. Every fill runs as one
// transaction: balance delta, position upsert-or-delete, trade insert
// and order status update commit together or not at all.
type EquityEngine struct {
	store     *store.Store
	prices    market.PriceSource
	gate      *market.HoursGate
	validator *Validator
	log       zerolog.Logger
	Now       func() time.Time
}

// NewEquityEngine creates an equity execution engine.
func NewEquityEngine(s *store.Store, prices market.PriceSource, gate *market.HoursGate, logger zerolog.Logger) *EquityEngine {
	return &EquityEngine{
		store:     s,
		prices:    prices,
		gate:      gate,
		validator: NewValidator(s, prices),
		log:       logger.With().Str("component", "equity_engine").Logger(),
		Now:       time.Now,
	}
}

// PlaceOrder is the single entry point for equity orders. MARKET
// orders require an open market and fill (or cancel) synchronously.
// LIMIT orders are accepted any time and rest as PENDING until the
// matching sweep fills them or the owner cancels.
func (e *EquityEngine) PlaceOrder(ctx context.Context, userID string, spec models.OrderSpec) (*models.FillResult, error) {
	if spec.Kind == models.OrderKindMarket {
		if verdict := e.gate.CheckAt(market.SessionEquity, e.Now()); !verdict.Open {
			return nil, apperrors.Wrap(apperrors.ErrMarketClosed, verdict.Reason)
		}
	}

	if err := e.validator.Validate(ctx, userID, spec); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		Kind:       spec.Kind,
		Product:    spec.Product,
		Quantity:   spec.Quantity,
		LimitPrice: spec.LimitPrice,
		Status:     models.OrderPending,
		PlacedAt:   e.Now().UTC(),
	}
	if err := e.store.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	if spec.Kind == models.OrderKindLimit {
		e.log.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).
			Float64("limit", order.LimitPrice).Msg("limit order resting")
		return &models.FillResult{OrderID: order.ID, Status: models.OrderPending}, nil
	}

	price, err := e.prices.GetPrice(ctx, order.Symbol)
	if err != nil {
		return e.cancelAfterFailure(ctx, order, err)
	}
	if err := e.fill(ctx, order, price); err != nil {
		return e.cancelAfterFailure(ctx, order, err)
	}

	e.log.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).
		Str("side", string(order.Side)).Int("qty", order.Quantity).
		Float64("price", price).Msg("market order filled")
	return &models.FillResult{
		OrderID:  order.ID,
		Status:   models.OrderFilled,
		Filled:   order.Quantity,
		AvgPrice: price,
	}, nil
}

// cancelAfterFailure marks the order CANCELLED with the failure reason
// after the fill transaction has rolled back, then reports the
// original failure.
func (e *EquityEngine) cancelAfterFailure(ctx context.Context, order *models.Order, cause error) (*models.FillResult, error) {
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return e.store.MarkOrderCancelledTx(ctx, tx, order.ID, cause.Error(), e.Now())
	})
	if err != nil {
		e.log.Error().Err(err).Str("order_id", order.ID).Msg("failed to cancel order after fill failure")
	}
	return &models.FillResult{OrderID: order.ID, Status: models.OrderCancelled},
		apperrors.NewOrderError(order.ID, order.Symbol, string(order.Side), cause)
}

// fill applies the order at price inside one transaction. The balance
// guard re-verifies funds against current state, so a price or balance
// move since validation rolls everything back.
func (e *EquityEngine) fill(ctx context.Context, order *models.Order, price float64) error {
	return e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.applyLedger(ctx, tx, order, price); err != nil {
			return err
		}

		now := e.Now().UTC()
		trade := &models.Trade{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			UserID:     order.UserID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Quantity:   order.Quantity,
			Price:      price,
			Total:      price * float64(order.Quantity),
			ExecutedAt: now,
		}
		if err := e.store.InsertTradeTx(ctx, tx, trade); err != nil {
			return err
		}
		return e.store.MarkOrderFilledTx(ctx, tx, order.ID, order.Quantity, price, now)
	})
}

// applyLedger implements the fill rules for both sides.
//
// BUY always debits full notional, including when it covers a short:
// the short's entry already credited the sale proceeds. SELL credits
// full notional whether it reduces a long or opens an INTRADAY short.
// A DELIVERY sell beyond held quantity is rejected here again even
// though validation checked it, because holdings may have moved.
func (e *EquityEngine) applyLedger(ctx context.Context, tx *sqlx.Tx, order *models.Order, price float64) error {
	qty := order.Quantity
	notional := price * float64(qty)

	pos, err := e.store.GetEquityPositionTx(ctx, tx, order.UserID, order.Symbol, order.Product)
	if err != nil {
		return err
	}

	var delta int
	switch order.Side {
	case models.OrderSideBuy:
		if err := e.store.AdjustEquityBalanceTx(ctx, tx, order.UserID, -notional); err != nil {
			return err
		}
		delta = qty
	case models.OrderSideSell:
		held := 0
		if pos != nil {
			held = pos.Quantity
		}
		if held < qty && order.Product == models.ProductDelivery {
			return apperrors.Wrapf(apperrors.ErrInsufficientHoldings,
				"hold %d of %s, selling %d", held, order.Symbol, qty)
		}
		if err := e.store.AdjustEquityBalanceTx(ctx, tx, order.UserID, notional); err != nil {
			return err
		}
		delta = -qty
	}

	if pos == nil {
		pos, err = models.NewEquityPosition(order.UserID, order.Symbol, order.Product, delta, price)
		if err != nil {
			return err
		}
		pos.ID = uuid.NewString()
	} else if err := pos.Apply(delta, price); err != nil {
		return err
	}

	if pos.Flat() {
		return e.store.DeleteEquityPositionTx(ctx, tx, order.UserID, order.Symbol, order.Product)
	}
	return e.store.UpsertEquityPositionTx(ctx, tx, pos)
}

// CancelOrder cancels a PENDING order owned by userID. Cancelling an
// already terminal order is not an error: the result reports the order
// as not eligible.
func (e *EquityEngine) CancelOrder(ctx context.Context, userID, orderID string) (*models.CancelResult, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperrors.Wrapf(apperrors.ErrPositionNotFound, "order %s", orderID)
	}
	if order.Status.IsTerminal() {
		return &models.CancelResult{
			OrderID: orderID,
			Reason:  "order is already " + string(order.Status),
		}, nil
	}

	err = e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return e.store.MarkOrderCancelledTx(ctx, tx, orderID, "cancelled by user", e.Now())
	})
	if err != nil {
		// Lost the race against a concurrent fill; report not eligible.
		if apperrors.Is(err, apperrors.ErrTransactionAborted) {
			return &models.CancelResult{OrderID: orderID, Reason: "order already resolved"}, nil
		}
		return nil, err
	}

	e.log.Info().Str("order_id", orderID).Msg("order cancelled")
	return &models.CancelResult{OrderID: orderID, Eligible: true}, nil
}

// Positions returns the user's equity positions decorated with live
// P&L. A symbol without a quote is returned with zero LTP rather than
// failing the whole view.
func (e *EquityEngine) Positions(ctx context.Context, userID string) ([]models.PositionView, error) {
	positions, err := e.store.ListEquityPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]models.PositionView, 0, len(positions))
	for _, pos := range positions {
		view := models.PositionView{
			Symbol:     pos.Symbol,
			Product:    string(pos.Product),
			Quantity:   pos.Quantity,
			AvgPrice:   pos.AvgPrice,
			PositionID: pos.ID,
		}
		if ltp, err := e.prices.GetPrice(ctx, pos.Symbol); err == nil {
			view.LTP = ltp
			view.PnL = (ltp - pos.AvgPrice) * float64(pos.Quantity)
		}
		views = append(views, view)
	}
	return views, nil
}
