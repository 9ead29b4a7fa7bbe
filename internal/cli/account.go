package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tradesim/pkg/utils"
)

func newAccountCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show cash balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.ensureAccount(ctx); err != nil {
				return err
			}
			acct, err := app.Store.GetAccount(ctx, app.userID)
			if err != nil {
				return err
			}
			fmt.Printf("user:           %s\n", acct.UserID)
			fmt.Printf("equity balance: %s\n", utils.FormatIndianCurrency(acct.EquityBalance))
			fmt.Printf("f&o balance:    %s\n", utils.FormatIndianCurrency(acct.FnoBalance))
			return nil
		},
	}
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show open positions with live P&L",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.ensureAccount(ctx); err != nil {
				return err
			}

			equity, err := app.Equity.Positions(ctx, app.userID)
			if err != nil {
				return err
			}
			// Runs the user's expiry settlement sweep before listing.
			fno, err := app.Fno.Positions(ctx, app.userID)
			if err != nil {
				return err
			}

			if len(equity)+len(fno) == 0 {
				fmt.Println("no open positions")
				return nil
			}
			for _, v := range append(equity, fno...) {
				fmt.Printf("%-24s %-8s qty %-7s avg %-12s ltp %-12s pnl %s  [%s]\n",
					v.Symbol, v.Product, utils.FormatQuantity(v.Quantity),
					utils.FormatIndianCurrency(v.AvgPrice),
					utils.FormatIndianCurrency(v.LTP),
					utils.FormatPnL(v.PnL), v.PositionID)
			}
			return nil
		},
	}
}
