package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tradesim/internal/models"
	"tradesim/internal/store"
	"tradesim/pkg/utils"
)

func newBuyCmd(app *App) *cobra.Command {
	return newOrderCmd(app, models.OrderSideBuy)
}

func newSellCmd(app *App) *cobra.Command {
	return newOrderCmd(app, models.OrderSideSell)
}

func newOrderCmd(app *App, side models.OrderSide) *cobra.Command {
	var (
		limitPrice float64
		product    string
	)

	use := strings.ToLower(string(side))
	short := "Buy an equity"
	if side == models.OrderSideSell {
		short = "Sell an equity"
	}
	cmd := &cobra.Command{
		Use:   use + " SYMBOL QTY",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.ensureAccount(ctx); err != nil {
				return err
			}

			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}

			spec := models.OrderSpec{
				Symbol:   strings.ToUpper(args[0]),
				Side:     side,
				Kind:     models.OrderKindMarket,
				Product:  models.ProductType(strings.ToUpper(product)),
				Quantity: qty,
			}
			if limitPrice > 0 {
				spec.Kind = models.OrderKindLimit
				spec.LimitPrice = limitPrice
			}

			result, err := app.Equity.PlaceOrder(ctx, app.userID, spec)
			if err != nil {
				return err
			}
			switch result.Status {
			case models.OrderFilled:
				fmt.Printf("FILLED %s %d %s @ %s (order %s)\n",
					side, result.Filled, spec.Symbol,
					utils.FormatIndianCurrency(result.AvgPrice), result.OrderID)
			case models.OrderPending:
				fmt.Printf("RESTING %s %d %s limit %s (order %s)\n",
					side, qty, spec.Symbol,
					utils.FormatIndianCurrency(spec.LimitPrice), result.OrderID)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&limitPrice, "limit", 0, "rest as a limit order at this price")
	cmd.Flags().StringVar(&product, "product", string(models.ProductDelivery), "INTRADAY or DELIVERY")
	return cmd
}

func newOrdersCmd(app *App) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := app.Store.GetOrders(cmd.Context(), storeOrderFilter(app.userID, status))
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				fmt.Println("no orders")
				return nil
			}
			for _, o := range orders {
				line := fmt.Sprintf("%s  %-9s %-4s %-6s %-10s qty %s",
					o.PlacedAt.Format("2006-01-02 15:04"), o.Status, o.Side, o.Kind,
					o.Symbol, utils.FormatQuantity(o.Quantity))
				if o.Kind == models.OrderKindLimit {
					line += " limit " + utils.FormatIndianCurrency(o.LimitPrice)
				}
				if o.Status == models.OrderFilled {
					line += " @ " + utils.FormatIndianCurrency(o.AvgFillPrice)
				}
				if o.Reason != "" {
					line += "  (" + o.Reason + ")"
				}
				fmt.Printf("%s  %s\n", line, o.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING, FILLED, CANCELLED)")
	return cmd
}

func newCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.Equity.CancelOrder(cmd.Context(), app.userID, args[0])
			if err != nil {
				return err
			}
			if !result.Eligible {
				fmt.Printf("not cancelled: %s\n", result.Reason)
				return nil
			}
			fmt.Printf("cancelled %s\n", result.OrderID)
			return nil
		},
	}
}

func newTradesCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show trade history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trades, err := app.Store.GetTrades(cmd.Context(), tradeFilter(app.userID, limit))
			if err != nil {
				return err
			}
			if len(trades) == 0 {
				fmt.Println("no trades")
				return nil
			}
			for _, t := range trades {
				fmt.Printf("%s  %-4s %-22s qty %-6s @ %-12s total %s\n",
					t.ExecutedAt.Format("2006-01-02 15:04"), t.Side, t.Symbol,
					utils.FormatQuantity(t.Quantity),
					utils.FormatIndianCurrency(t.Price),
					utils.FormatIndianCurrency(t.Total))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum trades to show")
	return cmd
}

func storeOrderFilter(userID, status string) store.OrderFilter {
	return store.OrderFilter{
		UserID: userID,
		Status: models.OrderStatus(strings.ToUpper(status)),
	}
}

func tradeFilter(userID string, limit int) store.TradeFilter {
	return store.TradeFilter{UserID: userID, Limit: limit}
}
