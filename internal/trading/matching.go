package trading

import (
	"context"

	apperrors "tradesim/internal/errors"
	"tradesim/internal/market"
)

// MatchReport summarizes one matching pass over a symbol.
type MatchReport struct {
	Symbol    string
	Price     float64
	Filled    int
	Cancelled int
}

// MatchSymbol runs one limit-matching pass for a symbol. Nothing fills
// outside market hours. The price is fetched once; BUY candidates with
// limit >= price fill in (limit desc, placed asc) order and SELL
// candidates with limit <= price in (limit asc, placed asc) order, so
// price-time priority holds. Each order fills in its own transaction
// at the current market price, not the order's limit price, and one
// order's failure cancels that order only.
func (e *EquityEngine) MatchSymbol(ctx context.Context, symbol string) (*MatchReport, error) {
	if verdict := e.gate.CheckAt(market.SessionEquity, e.Now()); !verdict.Open {
		return nil, apperrors.Wrap(apperrors.ErrMarketClosed, verdict.Reason)
	}

	price, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	report := &MatchReport{Symbol: symbol, Price: price}

	buys, err := e.store.PendingBuyLimitOrders(ctx, symbol, price)
	if err != nil {
		return nil, err
	}
	sells, err := e.store.PendingSellLimitOrders(ctx, symbol, price)
	if err != nil {
		return nil, err
	}

	for _, order := range append(buys, sells...) {
		order := order
		if err := e.fill(ctx, &order, price); err != nil {
			report.Cancelled++
			e.log.Warn().Err(err).Str("order_id", order.ID).Str("symbol", symbol).
				Msg("limit fill failed, cancelling order")
			_, _ = e.cancelAfterFailure(ctx, &order, err)
			continue
		}
		report.Filled++
		e.log.Info().Str("order_id", order.ID).Str("symbol", symbol).
			Float64("limit", order.LimitPrice).Float64("price", price).
			Msg("limit order matched")
	}
	return report, nil
}

// MatchAll runs a matching pass over every symbol that has resting
// limit orders. A symbol whose price is unavailable is skipped without
// blocking the rest of the sweep; market-closed gates the whole pass.
func (e *EquityEngine) MatchAll(ctx context.Context) ([]MatchReport, error) {
	if verdict := e.gate.CheckAt(market.SessionEquity, e.Now()); !verdict.Open {
		return nil, apperrors.Wrap(apperrors.ErrMarketClosed, verdict.Reason)
	}

	symbols, err := e.store.PendingLimitSymbols(ctx)
	if err != nil {
		return nil, err
	}

	var reports []MatchReport
	for _, symbol := range symbols {
		report, err := e.MatchSymbol(ctx, symbol)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrPriceUnavailable) {
				e.log.Warn().Str("symbol", symbol).Msg("skipping match pass, price unavailable")
				continue
			}
			return reports, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}
