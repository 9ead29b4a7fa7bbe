package market

import (
	"context"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradesim/internal/errors"
)

// KitePriceSource is a PriceSource backed by the Kite Connect LTP API.
// Symbols are exchange-qualified, e.g. "NSE:RELIANCE" or
// "NSE:NIFTY 50"; Resolve maps bare simulator symbols to that form.
type KitePriceSource struct {
	client  *kiteconnect.Client
	Resolve func(symbol string) string
}

// NewKitePriceSource creates a source from an API key and an access
// token obtained out of band.
func NewKitePriceSource(apiKey, accessToken string) *KitePriceSource {
	client := kiteconnect.New(apiKey)
	client.SetAccessToken(accessToken)
	return &KitePriceSource{
		client: client,
		Resolve: func(symbol string) string {
			return "NSE:" + symbol
		},
	}
}

// GetPrice returns the last traded price for symbol. Any upstream
// failure or missing quote reports ErrPriceUnavailable; the engines do
// not distinguish transport failures from unknown instruments.
func (k *KitePriceSource) GetPrice(_ context.Context, symbol string) (float64, error) {
	instrument := k.Resolve(symbol)
	ltp, err := k.client.GetLTP(instrument)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrPriceUnavailable, "kite ltp %s: %v", instrument, err)
	}
	q, ok := ltp[instrument]
	if !ok || q.LastPrice <= 0 {
		return 0, errors.Wrapf(errors.ErrPriceUnavailable, "no ltp for %s", instrument)
	}
	return q.LastPrice, nil
}
