package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tradesim/internal/models"
	"tradesim/pkg/utils"
)

func newChainCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chain INDEX",
		Short: "Show the option chain for an index at the next expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			underlying := strings.ToUpper(args[0])
			spot, err := app.Prices.GetPrice(cmd.Context(), underlying)
			if err != nil {
				return err
			}
			quotes, err := app.Pricing.Chain(underlying, spot)
			if err != nil {
				return err
			}

			fmt.Printf("%s spot %s, expiry %s\n", underlying,
				utils.FormatIndianCurrency(spot),
				quotes[0].Contract.Expiry.Format("Mon 02 Jan 15:04"))
			for i := 0; i+1 < len(quotes); i += 2 {
				call, put := quotes[i], quotes[i+1]
				fmt.Printf("  %8.0f   CE %-10.2f PE %-10.2f\n",
					call.Contract.Strike, call.Premium, put.Premium)
			}
			return nil
		},
	}
}

func newOptionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "option",
		Short: "Trade index options",
	}
	cmd.AddCommand(
		newOptionTradeCmd(app, models.OrderSideBuy),
		newOptionTradeCmd(app, models.OrderSideSell),
		newOptionCloseCmd(app),
	)
	return cmd
}

func newOptionTradeCmd(app *App, side models.OrderSide) *cobra.Command {
	use := strings.ToLower(string(side))
	short := "Buy an option contract"
	if side == models.OrderSideSell {
		short = "Sell (write) an option contract"
	}
	return &cobra.Command{
		Use:   use + " INDEX STRIKE CE|PE QTY",
		Short: short,
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.ensureAccount(ctx); err != nil {
				return err
			}

			strike, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid strike %q", args[1])
			}
			optType := models.OptionType(strings.ToUpper(args[2]))
			if optType != models.OptionCall && optType != models.OptionPut {
				return fmt.Errorf("option type must be CE or PE, got %q", args[2])
			}
			qty, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[3])
			}

			contract := models.OptionContract{
				Underlying: strings.ToUpper(args[0]),
				Strike:     strike,
				Type:       optType,
				Expiry:     app.Pricing.NextExpiry(app.Pricing.Now()),
			}
			result, err := app.Fno.Trade(ctx, app.userID, contract, side, qty)
			if err != nil {
				return err
			}

			fmt.Printf("%s %d %s @ premium %.2f\n", side, qty, contract.Symbol(), result.Premium)
			if result.RealizedPnL != 0 {
				fmt.Printf("realized P&L: %s\n", utils.FormatPnL(result.RealizedPnL))
			}
			return nil
		},
	}
}

func newOptionCloseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "close POSITION_ID",
		Short: "Close an open option position at the current premium",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pnl, err := app.Fno.ClosePosition(cmd.Context(), app.userID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("closed, realized P&L %s\n", utils.FormatPnL(pnl))
			return nil
		},
	}
}
