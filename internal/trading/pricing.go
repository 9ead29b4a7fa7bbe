package trading

import (
	"math"
	"time"

	"tradesim/internal/config"
	apperrors "tradesim/internal/errors"
	"tradesim/internal/market"
	"tradesim/internal/models"
)

// PricingEngine is the stateless option premium and contract
// calculator. Premium is intrinsic value plus a fixed per-index time
// value, floored at a small minimum; it is deliberately not
// volatility- or decay-sensitive.
type PricingEngine struct {
	fno     config.FnoConfig
	indexes map[string]config.IndexSpec
	Now     func() time.Time
}

// NewPricingEngine creates a pricing engine from configuration.
func NewPricingEngine(fno config.FnoConfig, indexes map[string]config.IndexSpec) *PricingEngine {
	return &PricingEngine{fno: fno, indexes: indexes, Now: time.Now}
}

// IndexSpec returns the contract parameters for an underlying index.
func (e *PricingEngine) IndexSpec(underlying string) (config.IndexSpec, error) {
	spec, ok := e.indexes[underlying]
	if !ok {
		return config.IndexSpec{}, apperrors.Wrapf(apperrors.ErrUnknownSymbol, "no index spec for %s", underlying)
	}
	return spec, nil
}

// Intrinsic returns the in-the-money portion of the contract's value
// at the given spot, never negative.
func (e *PricingEngine) Intrinsic(c models.OptionContract, spot float64) float64 {
	switch c.Type {
	case models.OptionCall:
		return math.Max(spot-c.Strike, 0)
	case models.OptionPut:
		return math.Max(c.Strike-spot, 0)
	}
	return 0
}

// Premium quotes the contract at the given spot: intrinsic plus the
// index's fixed time value, floored so no contract ever prices at
// zero.
func (e *PricingEngine) Premium(c models.OptionContract, spot float64) (float64, error) {
	spec, err := e.IndexSpec(c.Underlying)
	if err != nil {
		return 0, err
	}
	premium := e.Intrinsic(c, spot) + spec.TimeValue
	return math.Max(premium, e.fno.MinPremium), nil
}

// SettlementPrice values the contract at or after expiry: intrinsic
// only, time value excluded. Out-of-the-money contracts settle at
// zero.
func (e *PricingEngine) SettlementPrice(c models.OptionContract, spot float64) float64 {
	return e.Intrinsic(c, spot)
}

// ATMStrike rounds the spot to the index's nearest strike interval.
func (e *PricingEngine) ATMStrike(underlying string, spot float64) (float64, error) {
	spec, err := e.IndexSpec(underlying)
	if err != nil {
		return 0, err
	}
	return math.Round(spot/spec.StrikeInterval) * spec.StrikeInterval, nil
}

// StrikeLadder generates strikes around at-the-money, a fixed count
// above and below at the index's interval, ascending.
func (e *PricingEngine) StrikeLadder(underlying string, spot float64) ([]float64, error) {
	spec, err := e.IndexSpec(underlying)
	if err != nil {
		return nil, err
	}
	atm, _ := e.ATMStrike(underlying, spot)

	strikes := make([]float64, 0, 2*e.fno.StrikeCount+1)
	for i := -e.fno.StrikeCount; i <= e.fno.StrikeCount; i++ {
		strikes = append(strikes, atm+float64(i)*spec.StrikeInterval)
	}
	return strikes, nil
}

// NextExpiry returns the next weekly expiry: Thursday at market close
// IST. On a Thursday before the close cutoff, expiry is today.
func (e *PricingEngine) NextExpiry(now time.Time) time.Time {
	ist := now.In(market.IndiaLocation)

	daysAhead := (int(time.Thursday) - int(ist.Weekday()) + 7) % 7
	candidate := market.CloseTime(ist.AddDate(0, 0, daysAhead))
	if !ist.Before(candidate) {
		candidate = market.CloseTime(ist.AddDate(0, 0, daysAhead+7))
	}
	return candidate
}

// Margin computes the collateral required to hold a short option
// position: the configured fraction of premium value, with a fixed
// per-lot floor.
func (e *PricingEngine) Margin(spec config.IndexSpec, premium float64, qty int) float64 {
	notional := premium * float64(qty)
	lots := (qty + spec.LotSize - 1) / spec.LotSize
	return math.Max(e.fno.MarginPercent*notional, spec.MinMarginPerLot*float64(lots))
}

// Chain quotes the full strike ladder for an underlying at the next
// expiry.
func (e *PricingEngine) Chain(underlying string, spot float64) ([]models.OptionQuote, error) {
	strikes, err := e.StrikeLadder(underlying, spot)
	if err != nil {
		return nil, err
	}
	expiry := e.NextExpiry(e.Now())

	quotes := make([]models.OptionQuote, 0, 2*len(strikes))
	for _, strike := range strikes {
		for _, optType := range []models.OptionType{models.OptionCall, models.OptionPut} {
			contract := models.OptionContract{
				Underlying: underlying,
				Strike:     strike,
				Type:       optType,
				Expiry:     expiry,
			}
			premium, err := e.Premium(contract, spot)
			if err != nil {
				return nil, err
			}
			quotes = append(quotes, models.OptionQuote{Contract: contract, Spot: spot, Premium: premium})
		}
	}
	return quotes, nil
}
