package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	apperrors "tradesim/internal/errors"
	"tradesim/internal/models"
)

// Store is the sqlite-backed data store. All balance and ledger
// mutations happen inside WithTx; plain methods are reads or
// single-row writes that need no companion mutation.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and initializes the
// schema. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single writer keeps sqlite happy under concurrent sweeps.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		equity_balance REAL NOT NULL CHECK (equity_balance >= 0),
		fno_balance REAL NOT NULL CHECK (fno_balance >= 0),
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS instruments (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		segment TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		limit_price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		filled_qty INTEGER NOT NULL DEFAULT 0,
		avg_fill_price REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		placed_at DATETIME NOT NULL,
		filled_at DATETIME,
		cancelled_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		total REAL NOT NULL,
		executed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS equity_positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		avg_price REAL NOT NULL,
		UNIQUE(user_id, symbol, product)
	);

	CREATE TABLE IF NOT EXISTS fno_positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		underlying TEXT NOT NULL,
		strike REAL NOT NULL,
		option_type TEXT NOT NULL,
		expiry DATETIME NOT NULL,
		quantity INTEGER NOT NULL,
		avg_premium REAL NOT NULL,
		is_expired INTEGER NOT NULL DEFAULT 0,
		is_settled INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, underlying, strike, option_type, expiry)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
	CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders(symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_eq_positions_user ON equity_positions(user_id);
	CREATE INDEX IF NOT EXISTS idx_fno_positions_user ON fno_positions(user_id, is_settled);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction. Either every mutation fn makes
// commits together or none do. Errors from fn roll the transaction
// back and pass through unchanged; begin/commit failures surface as
// ErrTransactionAborted.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransactionAborted, err.Error())
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrTransactionAborted, err.Error())
	}
	return nil
}

// ============================================================================
// Accounts
// ============================================================================

// CreateAccount provisions an account with the fixed signup balances.
func (s *Store) CreateAccount(ctx context.Context, userID string, equityBalance, fnoBalance float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, equity_balance, fno_balance, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, equityBalance, fnoBalance, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("creating account %s: %w", userID, err)
	}
	return nil
}

// GetAccount returns the account for userID.
func (s *Store) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acct models.Account
	err := s.db.GetContext(ctx, &acct, `SELECT * FROM accounts WHERE user_id = ?`, userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", userID, apperrors.ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching account %s: %w", userID, err)
	}
	return &acct, nil
}

// AdjustEquityBalanceTx applies a signed delta to the equity balance.
// A delta that would take the balance negative leaves the row
// untouched and reports ErrInsufficientBalance.
func (s *Store) AdjustEquityBalanceTx(ctx context.Context, tx *sqlx.Tx, userID string, delta float64) error {
	return adjustBalanceTx(ctx, tx, "equity_balance", userID, delta, apperrors.ErrInsufficientBalance)
}

// AdjustFnoBalanceTx applies a signed delta to the F&O balance.
// Shortfalls report ErrInsufficientMargin.
func (s *Store) AdjustFnoBalanceTx(ctx context.Context, tx *sqlx.Tx, userID string, delta float64) error {
	return adjustBalanceTx(ctx, tx, "fno_balance", userID, delta, apperrors.ErrInsufficientMargin)
}

func adjustBalanceTx(ctx context.Context, tx *sqlx.Tx, column, userID string, delta float64, shortfall error) error {
	query := fmt.Sprintf(`
		UPDATE accounts SET %s = ROUND(%s + ?, 4)
		WHERE user_id = ? AND %s + ? >= -0.0001
	`, column, column, column)
	res, err := tx.ExecContext(ctx, query, delta, userID, delta)
	if err != nil {
		return fmt.Errorf("adjusting %s for %s: %w", column, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.Wrapf(shortfall, "user %s, delta %.2f", userID, delta)
	}
	return nil
}

// ============================================================================
// Instruments
// ============================================================================

// SeedInstruments inserts instruments that are not already present.
func (s *Store) SeedInstruments(ctx context.Context, instruments []models.Instrument) error {
	for _, ins := range instruments {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO instruments (symbol, name, segment, active)
			VALUES (?, ?, ?, ?)
		`, ins.Symbol, ins.Name, ins.Segment, ins.Active)
		if err != nil {
			return fmt.Errorf("seeding instrument %s: %w", ins.Symbol, err)
		}
	}
	return nil
}

// GetInstrument returns the instrument for symbol, active or not.
func (s *Store) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	var ins models.Instrument
	err := s.db.GetContext(ctx, &ins, `SELECT * FROM instruments WHERE symbol = ?`, symbol)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", symbol, apperrors.ErrUnknownSymbol)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching instrument %s: %w", symbol, err)
	}
	return &ins, nil
}

// ListInstruments returns all active instruments.
func (s *Store) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	var list []models.Instrument
	err := s.db.SelectContext(ctx, &list, `SELECT * FROM instruments WHERE active = 1 ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("listing instruments: %w", err)
	}
	return list, nil
}

// ============================================================================
// Orders
// ============================================================================

// InsertOrder persists a freshly accepted order.
func (s *Store) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO orders (id, user_id, symbol, side, kind, product, quantity,
			limit_price, status, filled_qty, avg_fill_price, reason, placed_at)
		VALUES (:id, :user_id, :symbol, :side, :kind, :product, :quantity,
			:limit_price, :status, :filled_qty, :avg_fill_price, :reason, :placed_at)
	`, o)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns the order with the given id.
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.db.GetContext(ctx, &o, `SELECT * FROM orders WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, apperrors.ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", id, err)
	}
	return &o, nil
}

// GetOrders returns orders matching the filter, newest first.
func (s *Store) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT * FROM orders WHERE 1=1`
	var args []interface{}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY placed_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var list []models.Order
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	return list, nil
}

// PendingBuyLimitOrders returns PENDING BUY limit orders on symbol
// whose limit price is at or above price, best price first and oldest
// first among ties.
func (s *Store) PendingBuyLimitOrders(ctx context.Context, symbol string, price float64) ([]models.Order, error) {
	var list []models.Order
	err := s.db.SelectContext(ctx, &list, `
		SELECT * FROM orders
		WHERE symbol = ? AND status = ? AND kind = ? AND side = ? AND limit_price >= ?
		ORDER BY limit_price DESC, placed_at ASC
	`, symbol, models.OrderPending, models.OrderKindLimit, models.OrderSideBuy, price)
	if err != nil {
		return nil, fmt.Errorf("querying buy limit orders: %w", err)
	}
	return list, nil
}

// PendingSellLimitOrders returns PENDING SELL limit orders on symbol
// whose limit price is at or below price, best price first and oldest
// first among ties.
func (s *Store) PendingSellLimitOrders(ctx context.Context, symbol string, price float64) ([]models.Order, error) {
	var list []models.Order
	err := s.db.SelectContext(ctx, &list, `
		SELECT * FROM orders
		WHERE symbol = ? AND status = ? AND kind = ? AND side = ? AND limit_price <= ?
		ORDER BY limit_price ASC, placed_at ASC
	`, symbol, models.OrderPending, models.OrderKindLimit, models.OrderSideSell, price)
	if err != nil {
		return nil, fmt.Errorf("querying sell limit orders: %w", err)
	}
	return list, nil
}

// PendingLimitSymbols returns the symbols that currently have resting
// limit orders, for sweep scheduling.
func (s *Store) PendingLimitSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.SelectContext(ctx, &symbols, `
		SELECT DISTINCT symbol FROM orders WHERE status = ? AND kind = ?
	`, models.OrderPending, models.OrderKindLimit)
	if err != nil {
		return nil, fmt.Errorf("querying pending limit symbols: %w", err)
	}
	return symbols, nil
}

// MarkOrderFilledTx transitions a PENDING order to FILLED. Filling an
// order another writer already resolved affects no rows and reports
// ErrTransactionAborted so the enclosing fill rolls back.
func (s *Store) MarkOrderFilledTx(ctx context.Context, tx *sqlx.Tx, orderID string, qty int, price float64, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, avg_fill_price = ?, filled_at = ?
		WHERE id = ? AND status = ?
	`, models.OrderFilled, qty, price, at.UTC(), orderID, models.OrderPending)
	if err != nil {
		return fmt.Errorf("marking order %s filled: %w", orderID, err)
	}
	return requireOneRow(res, orderID)
}

// MarkOrderCancelledTx transitions a PENDING order to CANCELLED with a
// reason.
func (s *Store) MarkOrderCancelledTx(ctx context.Context, tx *sqlx.Tx, orderID, reason string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, reason = ?, cancelled_at = ?
		WHERE id = ? AND status = ?
	`, models.OrderCancelled, reason, at.UTC(), orderID, models.OrderPending)
	if err != nil {
		return fmt.Errorf("marking order %s cancelled: %w", orderID, err)
	}
	return requireOneRow(res, orderID)
}

func requireOneRow(res sql.Result, orderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.Wrapf(apperrors.ErrTransactionAborted, "order %s no longer pending", orderID)
	}
	return nil
}

// ============================================================================
// Trades
// ============================================================================

// InsertTradeTx writes an immutable fill record.
func (s *Store) InsertTradeTx(ctx context.Context, tx *sqlx.Tx, t *models.Trade) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO trades (id, order_id, user_id, symbol, side, quantity, price, total, executed_at)
		VALUES (:id, :order_id, :user_id, :symbol, :side, :quantity, :price, :total, :executed_at)
	`, t)
	if err != nil {
		return fmt.Errorf("inserting trade %s: %w", t.ID, err)
	}
	return nil
}

// GetTrades returns trades matching the filter, newest first.
func (s *Store) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT * FROM trades WHERE 1=1`
	var args []interface{}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += ` AND executed_at >= ?`
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += ` AND executed_at <= ?`
		args = append(args, filter.EndDate.UTC())
	}
	query += ` ORDER BY executed_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var list []models.Trade
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	return list, nil
}

// ============================================================================
// Equity positions
// ============================================================================

// GetEquityPositionTx reads one position row inside a transaction.
// Returns nil without error when no position exists for the key.
func (s *Store) GetEquityPositionTx(ctx context.Context, tx *sqlx.Tx, userID, symbol string, product models.ProductType) (*models.EquityPosition, error) {
	var pos models.EquityPosition
	err := tx.GetContext(ctx, &pos, `
		SELECT * FROM equity_positions WHERE user_id = ? AND symbol = ? AND product = ?
	`, userID, symbol, product)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching position %s/%s/%s: %w", userID, symbol, product, err)
	}
	return &pos, nil
}

// GetEquityPosition is the read-only variant used by the validator.
func (s *Store) GetEquityPosition(ctx context.Context, userID, symbol string, product models.ProductType) (*models.EquityPosition, error) {
	var pos models.EquityPosition
	err := s.db.GetContext(ctx, &pos, `
		SELECT * FROM equity_positions WHERE user_id = ? AND symbol = ? AND product = ?
	`, userID, symbol, product)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching position %s/%s/%s: %w", userID, symbol, product, err)
	}
	return &pos, nil
}

// ListEquityPositions returns all open equity positions for a user.
func (s *Store) ListEquityPositions(ctx context.Context, userID string) ([]models.EquityPosition, error) {
	var list []models.EquityPosition
	err := s.db.SelectContext(ctx, &list, `
		SELECT * FROM equity_positions WHERE user_id = ? ORDER BY symbol, product
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing positions for %s: %w", userID, err)
	}
	return list, nil
}

// UpsertEquityPositionTx writes a position row, replacing any existing
// row for the same (user, symbol, product) key.
func (s *Store) UpsertEquityPositionTx(ctx context.Context, tx *sqlx.Tx, pos *models.EquityPosition) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO equity_positions (id, user_id, symbol, product, quantity, avg_price)
		VALUES (:id, :user_id, :symbol, :product, :quantity, :avg_price)
		ON CONFLICT(user_id, symbol, product)
		DO UPDATE SET quantity = excluded.quantity, avg_price = excluded.avg_price
	`, pos)
	if err != nil {
		return fmt.Errorf("upserting position %s/%s/%s: %w", pos.UserID, pos.Symbol, pos.Product, err)
	}
	return nil
}

// DeleteEquityPositionTx removes a position that has returned to zero.
func (s *Store) DeleteEquityPositionTx(ctx context.Context, tx *sqlx.Tx, userID, symbol string, product models.ProductType) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM equity_positions WHERE user_id = ? AND symbol = ? AND product = ?
	`, userID, symbol, product)
	if err != nil {
		return fmt.Errorf("deleting position %s/%s/%s: %w", userID, symbol, product, err)
	}
	return nil
}

// ============================================================================
// F&O positions
// ============================================================================

// GetFnoPositionTx reads the position row for a contract inside a
// transaction. Returns nil without error when none exists.
func (s *Store) GetFnoPositionTx(ctx context.Context, tx *sqlx.Tx, userID string, c models.OptionContract) (*models.FnoPosition, error) {
	var pos models.FnoPosition
	err := tx.GetContext(ctx, &pos, `
		SELECT * FROM fno_positions
		WHERE user_id = ? AND underlying = ? AND strike = ? AND option_type = ? AND expiry = ?
	`, userID, c.Underlying, c.Strike, c.Type, c.Expiry.UTC())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching fno position %s/%s: %w", userID, c.Symbol(), err)
	}
	return &pos, nil
}

// GetFnoPositionByID returns the position with the given id.
func (s *Store) GetFnoPositionByID(ctx context.Context, id string) (*models.FnoPosition, error) {
	var pos models.FnoPosition
	err := s.db.GetContext(ctx, &pos, `SELECT * FROM fno_positions WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fno position %s: %w", id, apperrors.ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching fno position %s: %w", id, err)
	}
	return &pos, nil
}

// ListOpenFnoPositions returns a user's unsettled positions.
func (s *Store) ListOpenFnoPositions(ctx context.Context, userID string) ([]models.FnoPosition, error) {
	var list []models.FnoPosition
	err := s.db.SelectContext(ctx, &list, `
		SELECT * FROM fno_positions
		WHERE user_id = ? AND is_settled = 0
		ORDER BY underlying, expiry, strike
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing fno positions for %s: %w", userID, err)
	}
	return list, nil
}

// ListSettleableFnoPositions returns open, unsettled positions whose
// expiry has passed as of the given instant.
func (s *Store) ListSettleableFnoPositions(ctx context.Context, userID string, asOf time.Time) ([]models.FnoPosition, error) {
	query := `
		SELECT * FROM fno_positions
		WHERE is_settled = 0 AND quantity != 0 AND expiry < ?
	`
	args := []interface{}{asOf.UTC()}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	var list []models.FnoPosition
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("listing settleable fno positions: %w", err)
	}
	return list, nil
}

// UpsertFnoPositionTx writes a position row for a contract key.
func (s *Store) UpsertFnoPositionTx(ctx context.Context, tx *sqlx.Tx, pos *models.FnoPosition) error {
	p := *pos
	p.Expiry = p.Expiry.UTC()
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO fno_positions (id, user_id, underlying, strike, option_type, expiry,
			quantity, avg_premium, is_expired, is_settled)
		VALUES (:id, :user_id, :underlying, :strike, :option_type, :expiry,
			:quantity, :avg_premium, :is_expired, :is_settled)
		ON CONFLICT(user_id, underlying, strike, option_type, expiry)
		DO UPDATE SET quantity = excluded.quantity, avg_premium = excluded.avg_premium,
			is_expired = excluded.is_expired, is_settled = excluded.is_settled
	`, &p)
	if err != nil {
		return fmt.Errorf("upserting fno position %s: %w", pos.Contract().Symbol(), err)
	}
	return nil
}

// DeleteFnoPositionTx removes a position that has returned to zero.
func (s *Store) DeleteFnoPositionTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM fno_positions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting fno position %s: %w", id, err)
	}
	return nil
}

// MarkFnoSettledTx flags a position expired and settled. The guard on
// is_settled makes the settlement sweep idempotent: a second pass
// affects no rows and reports settled=false so the caller skips the
// balance credit.
func (s *Store) MarkFnoSettledTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE fno_positions SET is_expired = 1, is_settled = 1
		WHERE id = ? AND is_settled = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("marking fno position %s settled: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
