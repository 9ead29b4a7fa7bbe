package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// The sweeps are driven externally (a timer in a real deployment);
// these commands are that caller.
func newSweepCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run matching and settlement sweeps",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "match [SYMBOL]",
		Short: "Match resting limit orders against current prices",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				report, err := app.Equity.MatchSymbol(ctx, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("%s @ %.2f: %d filled, %d cancelled\n",
					report.Symbol, report.Price, report.Filled, report.Cancelled)
				return nil
			}
			reports, err := app.Equity.MatchAll(ctx)
			if err != nil {
				return err
			}
			for _, r := range reports {
				fmt.Printf("%s @ %.2f: %d filled, %d cancelled\n", r.Symbol, r.Price, r.Filled, r.Cancelled)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "expiry",
		Short: "Settle expired option positions for all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settled, err := app.Fno.SettleExpired(cmd.Context(), "")
			if err != nil {
				return err
			}
			fmt.Printf("settled %d positions\n", settled)
			return nil
		},
	})

	return cmd
}
