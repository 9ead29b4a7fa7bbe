// Package cli provides the command-line interface for the simulator.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradesim/internal/config"
	apperrors "tradesim/internal/errors"
	"tradesim/internal/market"
	"tradesim/internal/models"
	"tradesim/internal/store"
	"tradesim/internal/trading"
)

// Version information
const Version = "0.1.0"

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   *store.Store
	Prices  market.PriceSource
	Gate    *market.HoursGate
	Pricing *trading.PricingEngine
	Equity  *trading.EquityEngine
	Fno     *trading.FnoEngine

	userID string
}

// NewRootCmd creates the root command and wires the engines.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{Config: cfg, Logger: logger}

	root := &cobra.Command{
		Use:           "tradesim",
		Short:         "Virtual stock and index-options trading simulator",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Store != nil {
				app.Store.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&app.userID, "user", "demo", "account to trade as")

	root.AddCommand(
		newAccountCmd(app),
		newBuyCmd(app),
		newSellCmd(app),
		newOrdersCmd(app),
		newCancelCmd(app),
		newTradesCmd(app),
		newPositionsCmd(app),
		newChainCmd(app),
		newOptionCmd(app),
		newSweepCmd(app),
	)
	return root
}

// init opens the store, seeds instruments, picks the price source and
// builds the engines.
func (a *App) init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.Config.Database.Path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	s, err := store.Open(a.Config.Database.Path)
	if err != nil {
		return err
	}
	a.Store = s

	if err := s.SeedInstruments(ctx, defaultInstruments(a.Config)); err != nil {
		return err
	}

	if a.Config.Kite.APIKey != "" && a.Config.Kite.AccessToken != "" {
		a.Prices = market.NewKitePriceSource(a.Config.Kite.APIKey, a.Config.Kite.AccessToken)
		a.Logger.Debug().Msg("using kite price source")
	} else {
		a.Prices = market.NewStaticPriceSource(a.Config.Quotes)
		a.Logger.Debug().Msg("using seeded demo quotes")
	}

	a.Gate = market.NewHoursGate()
	a.Pricing = trading.NewPricingEngine(a.Config.Fno, a.Config.Indexes)
	a.Equity = trading.NewEquityEngine(a.Store, a.Prices, a.Gate, a.Logger)
	a.Fno = trading.NewFnoEngine(a.Store, a.Prices, a.Pricing, a.Gate, a.Logger)
	return nil
}

// ensureAccount provisions the acting account on first use with the
// configured signup balances.
func (a *App) ensureAccount(ctx context.Context) error {
	_, err := a.Store.GetAccount(ctx, a.userID)
	if err == nil {
		return nil
	}
	if !apperrors.Is(err, apperrors.ErrPositionNotFound) {
		return err
	}
	return a.Store.CreateAccount(ctx, a.userID,
		a.Config.Account.StartingEquityBalance,
		a.Config.Account.StartingFnoBalance)
}

func defaultInstruments(cfg *config.Config) []models.Instrument {
	instruments := []models.Instrument{
		{Symbol: "RELIANCE", Name: "Reliance Industries", Segment: models.SegmentEquity, Active: true},
		{Symbol: "TCS", Name: "Tata Consultancy Services", Segment: models.SegmentEquity, Active: true},
		{Symbol: "INFY", Name: "Infosys", Segment: models.SegmentEquity, Active: true},
		{Symbol: "HDFCBANK", Name: "HDFC Bank", Segment: models.SegmentEquity, Active: true},
		{Symbol: "ICICIBANK", Name: "ICICI Bank", Segment: models.SegmentEquity, Active: true},
		{Symbol: "SBIN", Name: "State Bank of India", Segment: models.SegmentEquity, Active: true},
	}
	for name := range cfg.Indexes {
		instruments = append(instruments, models.Instrument{
			Symbol: name, Name: name, Segment: models.SegmentIndex, Active: true,
		})
	}
	return instruments
}
