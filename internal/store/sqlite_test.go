package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "tradesim/internal/errors"
	"tradesim/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store, userID string, equityBal, fnoBal float64) {
	t.Helper()
	if err := s.CreateAccount(context.Background(), userID, equityBal, fnoBal); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
}

func pendingOrder(userID, symbol string) *models.Order {
	return &models.Order{
		ID:       "ord-" + symbol + "-" + userID,
		UserID:   userID,
		Symbol:   symbol,
		Side:     models.OrderSideBuy,
		Kind:     models.OrderKindLimit,
		Product:  models.ProductDelivery,
		Quantity: 10,
		Status:   models.OrderPending,
		PlacedAt: time.Now().UTC(),
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "u1", 1000, 0)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.AdjustEquityBalanceTx(ctx, tx, "u1", -600); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the injected failure", err)
	}

	acct, err := s.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.EquityBalance != 1000 {
		t.Errorf("balance = %v, want the debit rolled back", acct.EquityBalance)
	}
}

func TestAdjustBalanceGuardsAgainstOverdraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "u1", 1000, 500)

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.AdjustEquityBalanceTx(ctx, tx, "u1", -1001)
	})
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("equity err = %v, want ErrInsufficientBalance", err)
	}

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.AdjustFnoBalanceTx(ctx, tx, "u1", -501)
	})
	if !apperrors.Is(err, apperrors.ErrInsufficientMargin) {
		t.Fatalf("fno err = %v, want ErrInsufficientMargin", err)
	}

	// Draining to exactly zero is allowed.
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.AdjustEquityBalanceTx(ctx, tx, "u1", -1000)
	})
	if err != nil {
		t.Fatalf("drain to zero: %v", err)
	}

	acct, err := s.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.EquityBalance != 0 || acct.FnoBalance != 500 {
		t.Errorf("balances = %v / %v, want 0 / 500", acct.EquityBalance, acct.FnoBalance)
	}
}

func TestOrderStatusTransitionsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := pendingOrder("u1", "RELIANCE")
	if err := s.InsertOrder(ctx, order); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	now := time.Now()
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.MarkOrderFilledTx(ctx, tx, order.ID, 10, 2500, now)
	})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}

	// A second transition on the resolved order aborts.
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.MarkOrderCancelledTx(ctx, tx, order.ID, "late cancel", now)
	})
	if !apperrors.Is(err, apperrors.ErrTransactionAborted) {
		t.Fatalf("cancel after fill err = %v, want ErrTransactionAborted", err)
	}
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.MarkOrderFilledTx(ctx, tx, order.ID, 10, 2500, now)
	})
	if !apperrors.Is(err, apperrors.ErrTransactionAborted) {
		t.Fatalf("double fill err = %v, want ErrTransactionAborted", err)
	}

	got, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != models.OrderFilled || got.FilledQty != 10 || got.AvgFillPrice != 2500 {
		t.Errorf("order = %+v, want FILLED 10 @ 2500", got)
	}
	if got.FilledAt == nil {
		t.Error("filled_at not recorded")
	}
}

func TestPendingLimitOrderPriceTimeOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	insert := func(id string, side models.OrderSide, limit float64, placed time.Time) {
		o := pendingOrder("u1", "RELIANCE")
		o.ID = id
		o.Side = side
		o.LimitPrice = limit
		o.PlacedAt = placed
		if err := s.InsertOrder(ctx, o); err != nil {
			t.Fatalf("InsertOrder %s: %v", id, err)
		}
	}

	insert("buy-low", models.OrderSideBuy, 2450, base)
	insert("buy-high-late", models.OrderSideBuy, 2480, base.Add(time.Minute))
	insert("buy-high-early", models.OrderSideBuy, 2480, base)
	insert("buy-under", models.OrderSideBuy, 2300, base)
	insert("sell-high", models.OrderSideSell, 2550, base)
	insert("sell-low", models.OrderSideSell, 2500, base.Add(time.Minute))

	buys, err := s.PendingBuyLimitOrders(ctx, "RELIANCE", 2400)
	if err != nil {
		t.Fatalf("PendingBuyLimitOrders: %v", err)
	}
	wantBuys := []string{"buy-high-early", "buy-high-late", "buy-low"}
	if len(buys) != len(wantBuys) {
		t.Fatalf("buys = %d orders, want %d", len(buys), len(wantBuys))
	}
	for i, want := range wantBuys {
		if buys[i].ID != want {
			t.Errorf("buys[%d] = %s, want %s", i, buys[i].ID, want)
		}
	}

	sells, err := s.PendingSellLimitOrders(ctx, "RELIANCE", 2560)
	if err != nil {
		t.Fatalf("PendingSellLimitOrders: %v", err)
	}
	wantSells := []string{"sell-low", "sell-high"}
	if len(sells) != len(wantSells) {
		t.Fatalf("sells = %d orders, want %d", len(sells), len(wantSells))
	}
	for i, want := range wantSells {
		if sells[i].ID != want {
			t.Errorf("sells[%d] = %s, want %s", i, sells[i].ID, want)
		}
	}
}

func TestMarkFnoSettledIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := &models.FnoPosition{
		ID: "pos1", UserID: "u1", Underlying: "NIFTY", Strike: 19500,
		Type: models.OptionCall, Expiry: time.Date(2024, 1, 11, 10, 0, 0, 0, time.UTC),
		Quantity: 50, AvgPremium: 20,
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.UpsertFnoPositionTx(ctx, tx, pos)
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var first, second bool
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		first, err = s.MarkFnoSettledTx(ctx, tx, pos.ID)
		return err
	})
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		second, err = s.MarkFnoSettledTx(ctx, tx, pos.ID)
		return err
	})
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !first || second {
		t.Errorf("settle flags = %v, %v; want first true, second false", first, second)
	}
}

func TestListSettleableFnoPositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	asOf := time.Date(2024, 1, 12, 10, 0, 0, 0, time.UTC)
	mk := func(id, user string, expiry time.Time, settled bool) {
		pos := &models.FnoPosition{
			ID: id, UserID: user, Underlying: "NIFTY", Strike: 19500,
			Type: models.OptionCall, Expiry: expiry, Quantity: 50, AvgPremium: 20,
			IsExpired: settled, IsSettled: settled,
		}
		err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
			return s.UpsertFnoPositionTx(ctx, tx, pos)
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	mk("past", "u1", asOf.Add(-24*time.Hour), false)
	mk("future", "u1", asOf.Add(24*time.Hour), false)
	mk("done", "u2", asOf.Add(-24*time.Hour), true)
	mk("other-user", "u3", asOf.Add(-48*time.Hour), false)

	all, err := s.ListSettleableFnoPositions(ctx, "", asOf)
	if err != nil {
		t.Fatalf("ListSettleableFnoPositions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all users = %d positions, want past and other-user", len(all))
	}

	mine, err := s.ListSettleableFnoPositions(ctx, "u1", asOf)
	if err != nil {
		t.Fatalf("ListSettleableFnoPositions(u1): %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "past" {
		t.Fatalf("u1 = %+v, want only the past position", mine)
	}
}

func TestGetAccountMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetAccount(context.Background(), "ghost"); !apperrors.Is(err, apperrors.ErrPositionNotFound) {
		t.Fatalf("err = %v, want ErrPositionNotFound", err)
	}
}

func TestGetInstrumentMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetInstrument(context.Background(), "NOSUCH"); !apperrors.Is(err, apperrors.ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}
}
