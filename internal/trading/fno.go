package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"tradesim/internal/config"
	apperrors "tradesim/internal/errors"
	"tradesim/internal/market"
	"tradesim/internal/models"
	"tradesim/internal/store"
)

// FnoEngine executes index option trades and settles positions
// against the F&O cash balance. Each trade, close or per-position
// settlement is one transaction.
type FnoEngine struct {
	store   *store.Store
	prices  market.PriceSource
	pricing *PricingEngine
	gate    *market.HoursGate
	log     zerolog.Logger
	Now     func() time.Time
}

// NewFnoEngine creates an F&O execution engine.
func NewFnoEngine(s *store.Store, prices market.PriceSource, pricing *PricingEngine, gate *market.HoursGate, logger zerolog.Logger) *FnoEngine {
	return &FnoEngine{
		store:   s,
		prices:  prices,
		pricing: pricing,
		gate:    gate,
		log:     logger.With().Str("component", "fno_engine").Logger(),
		Now:     time.Now,
	}
}

// FnoTradeResult reports the outcome of an option trade.
type FnoTradeResult struct {
	Contract models.OptionContract
	Side     models.OrderSide
	Quantity int
	Premium  float64
	// RealizedPnL is the P&L credited or debited by the closing
	// portion of the trade, zero for pure opens.
	RealizedPnL float64
}

// Trade executes a BUY or SELL of qty units of the contract at the
// current computed premium. Same-direction trades open or extend the
// position; opposite-direction trades reduce it, and a quantity beyond
// the open position reverses it in two legs.
func (e *FnoEngine) Trade(ctx context.Context, userID string, c models.OptionContract, side models.OrderSide, qty int) (*FnoTradeResult, error) {
	if qty <= 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidQuantity, "got %d", qty)
	}
	spec, err := e.pricing.IndexSpec(c.Underlying)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	if verdict := e.gate.CheckAt(market.SessionFno, now); !verdict.Open {
		return nil, apperrors.Wrap(apperrors.ErrMarketClosed, verdict.Reason)
	}
	if c.Expired(now) {
		return nil, apperrors.Wrapf(apperrors.ErrContractExpired, "%s expired %s", c.Symbol(), c.Expiry.Format(time.RFC3339))
	}

	spot, err := e.prices.GetPrice(ctx, c.Underlying)
	if err != nil {
		return nil, err
	}
	premium, err := e.pricing.Premium(c, spot)
	if err != nil {
		return nil, err
	}

	delta := qty
	if side == models.OrderSideSell {
		delta = -qty
	}

	result := &FnoTradeResult{Contract: c, Side: side, Quantity: qty, Premium: premium}
	err = e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		pos, err := e.store.GetFnoPositionTx(ctx, tx, userID, c)
		if err != nil {
			return err
		}

		switch {
		case pos == nil || sameSign(pos.Quantity, delta):
			err = e.openLeg(ctx, tx, userID, c, spec, pos, delta, premium)
		case qty <= abs(pos.Quantity):
			result.RealizedPnL, err = e.reduceLeg(ctx, tx, pos, delta, premium)
		default:
			// Reversal: flatten the open quantity, then open the
			// remainder in the opposite direction.
			closeQty := -pos.Quantity
			result.RealizedPnL, err = e.reduceLeg(ctx, tx, pos, closeQty, premium)
			if err == nil {
				err = e.openLeg(ctx, tx, userID, c, spec, nil, delta-closeQty, premium)
			}
		}
		if err != nil {
			return err
		}
		return e.recordTradeTx(ctx, tx, userID, c, side, qty, premium)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("contract", c.Symbol()).Str("side", string(side)).
		Int("qty", qty).Float64("premium", premium).
		Float64("pnl", result.RealizedPnL).Msg("fno trade executed")
	return result, nil
}

// openLeg opens or extends a position. A BUY debits the full premium;
// a SELL credits the premium received minus the margin requirement, so
// going short debits net margin rather than crediting full notional.
func (e *FnoEngine) openLeg(ctx context.Context, tx *sqlx.Tx, userID string, c models.OptionContract, spec config.IndexSpec, pos *models.FnoPosition, delta int, premium float64) error {
	qty := abs(delta)
	notional := premium * float64(qty)

	var cash float64
	if delta > 0 {
		cash = -notional
	} else {
		cash = notional - e.pricing.Margin(spec, premium, qty)
	}
	if err := e.store.AdjustFnoBalanceTx(ctx, tx, userID, cash); err != nil {
		return err
	}

	if pos == nil {
		pos = &models.FnoPosition{
			ID:         uuid.NewString(),
			UserID:     userID,
			Underlying: c.Underlying,
			Strike:     c.Strike,
			Type:       c.Type,
			Expiry:     c.Expiry,
			Quantity:   delta,
			AvgPremium: premium,
		}
	} else {
		oldAbs := abs(pos.Quantity)
		pos.AvgPremium = (pos.AvgPremium*float64(oldAbs) + premium*float64(qty)) / float64(oldAbs+qty)
		pos.Quantity += delta
	}
	return e.store.UpsertFnoPositionTx(ctx, tx, pos)
}

// reduceLeg closes part or all of a position at the given premium.
// Only the P&L moves cash: (premium - avgPremium) * signed quantity
// being closed. delta has the opposite sign of pos.Quantity.
func (e *FnoEngine) reduceLeg(ctx context.Context, tx *sqlx.Tx, pos *models.FnoPosition, delta int, premium float64) (float64, error) {
	closedSigned := -delta // the signed quantity leaving the book
	pnl := (premium - pos.AvgPremium) * float64(closedSigned)

	if err := e.store.AdjustFnoBalanceTx(ctx, tx, pos.UserID, pnl); err != nil {
		return 0, err
	}

	pos.Quantity += delta
	if pos.Flat() {
		return pnl, e.store.DeleteFnoPositionTx(ctx, tx, pos.ID)
	}
	return pnl, e.store.UpsertFnoPositionTx(ctx, tx, pos)
}

// ClosePosition flattens a position at the current premium and returns
// the realized P&L. Positions past expiry belong to the settlement
// sweep and are rejected here.
func (e *FnoEngine) ClosePosition(ctx context.Context, userID, positionID string) (float64, error) {
	pos, err := e.store.GetFnoPositionByID(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if pos.UserID != userID || pos.IsSettled {
		return 0, apperrors.Wrapf(apperrors.ErrPositionNotFound, "fno position %s", positionID)
	}
	now := e.Now()
	if pos.Contract().Expired(now) {
		return 0, apperrors.Wrapf(apperrors.ErrContractExpired, "%s awaits settlement", pos.Contract().Symbol())
	}

	spot, err := e.prices.GetPrice(ctx, pos.Underlying)
	if err != nil {
		return 0, err
	}
	premium, err := e.pricing.Premium(pos.Contract(), spot)
	if err != nil {
		return 0, err
	}

	side := models.OrderSideSell
	if pos.Quantity < 0 {
		side = models.OrderSideBuy
	}

	var pnl float64
	err = e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := e.store.GetFnoPositionTx(ctx, tx, userID, pos.Contract())
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.Wrapf(apperrors.ErrPositionNotFound, "fno position %s", positionID)
		}
		closeQty := abs(current.Quantity)
		pnl, err = e.reduceLeg(ctx, tx, current, -current.Quantity, premium)
		if err != nil {
			return err
		}
		return e.recordTradeTx(ctx, tx, userID, pos.Contract(), side, closeQty, premium)
	})
	if err != nil {
		return 0, err
	}

	e.log.Info().Str("contract", pos.Contract().Symbol()).Float64("pnl", pnl).Msg("fno position closed")
	return pnl, nil
}

// SettleExpired runs the expiry settlement sweep. Every open,
// unsettled position past expiry is valued at intrinsic-only
// settlement price and its P&L applied in the same transaction that
// flags it settled, so a crash can neither credit twice nor credit
// without marking. One position's failure does not block the rest.
// Pass an empty userID to sweep all users.
func (e *FnoEngine) SettleExpired(ctx context.Context, userID string) (int, error) {
	now := e.Now()
	positions, err := e.store.ListSettleableFnoPositions(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range positions {
		pos := &positions[i]
		spot, err := e.prices.GetPrice(ctx, pos.Underlying)
		if err != nil {
			e.log.Warn().Err(err).Str("contract", pos.Contract().Symbol()).
				Msg("skipping settlement, price unavailable")
			continue
		}
		settlePx := e.pricing.SettlementPrice(pos.Contract(), spot)
		pnl := (settlePx - pos.AvgPremium) * float64(pos.Quantity)

		err = e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			ok, err := e.store.MarkFnoSettledTx(ctx, tx, pos.ID)
			if err != nil {
				return err
			}
			if !ok {
				// Already settled by a concurrent sweep; no cash moves.
				return nil
			}
			return e.store.AdjustFnoBalanceTx(ctx, tx, pos.UserID, pnl)
		})
		if err != nil {
			e.log.Error().Err(err).Str("contract", pos.Contract().Symbol()).
				Msg("settlement failed for position")
			continue
		}
		settled++
		e.log.Info().Str("contract", pos.Contract().Symbol()).
			Float64("settlement_price", settlePx).Float64("pnl", pnl).
			Msg("position settled at expiry")
	}
	return settled, nil
}

// Positions settles any of the user's expired positions, then returns
// the active ones decorated with live premium and unrealized P&L.
func (e *FnoEngine) Positions(ctx context.Context, userID string) ([]models.PositionView, error) {
	if _, err := e.SettleExpired(ctx, userID); err != nil {
		return nil, err
	}

	positions, err := e.store.ListOpenFnoPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]models.PositionView, 0, len(positions))
	for _, pos := range positions {
		view := models.PositionView{
			Symbol:     pos.Contract().Symbol(),
			Product:    "OPT",
			Quantity:   pos.Quantity,
			AvgPrice:   pos.AvgPremium,
			PositionID: pos.ID,
		}
		if spot, err := e.prices.GetPrice(ctx, pos.Underlying); err == nil {
			if premium, err := e.pricing.Premium(pos.Contract(), spot); err == nil {
				view.LTP = premium
				view.PnL = (premium - pos.AvgPremium) * float64(pos.Quantity)
			}
		}
		views = append(views, view)
	}
	return views, nil
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

// recordTradeTx appends the fill to the immutable trade history inside
// the trade's own transaction. F&O fills have no equity order, so the
// order reference is empty.
func (e *FnoEngine) recordTradeTx(ctx context.Context, tx *sqlx.Tx, userID string, c models.OptionContract, side models.OrderSide, qty int, premium float64) error {
	return e.store.InsertTradeTx(ctx, tx, &models.Trade{
		ID:         uuid.NewString(),
		UserID:     userID,
		Symbol:     c.Symbol(),
		Side:       side,
		Quantity:   qty,
		Price:      premium,
		Total:      premium * float64(qty),
		ExecutedAt: e.Now().UTC(),
	})
}
