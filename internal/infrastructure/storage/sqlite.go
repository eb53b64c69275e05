package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// SQLiteStore backs every repository the engine needs. Writes for one bot
// are always issued by that bot's single cycle goroutine; the database/sql
// pool handles concurrent writers across bots.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			coins TEXT NOT NULL,
			initial_coin TEXT NOT NULL,
			threshold REAL NOT NULL,
			check_interval INTEGER NOT NULL,
			commission_rate REAL NOT NULL DEFAULT 0,
			stablecoin TEXT NOT NULL DEFAULT 'USDT',
			allocation_pct REAL NOT NULL DEFAULT 0,
			budget_amount REAL NOT NULL DEFAULT 0,
			take_profit_pct REAL NOT NULL DEFAULT 0,
			protection_pct REAL NOT NULL DEFAULT 10,
			unit_protection BOOLEAN NOT NULL DEFAULT 0,
			account_id TEXT NOT NULL,
			price_source TEXT NOT NULL DEFAULT '3commas',
			fallback_source TEXT NOT NULL DEFAULT 'coingecko',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bot_states (
			bot_id INTEGER PRIMARY KEY REFERENCES bots(id),
			current_coin TEXT NOT NULL DEFAULT '',
			last_check_time DATETIME,
			last_price_update DATETIME,
			last_price_source TEXT NOT NULL DEFAULT '',
			active_trade_id TEXT NOT NULL DEFAULT '',
			total_commissions_paid REAL NOT NULL DEFAULT 0,
			global_peak_value REAL NOT NULL DEFAULT 0,
			min_acceptable_value REAL NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS coin_snapshots (
			bot_id INTEGER NOT NULL REFERENCES bots(id),
			coin TEXT NOT NULL,
			price REAL NOT NULL,
			units_held REAL NOT NULL DEFAULT 0,
			was_ever_held BOOLEAN NOT NULL DEFAULT 0,
			max_units REAL NOT NULL DEFAULT 0,
			taken_at DATETIME NOT NULL,
			PRIMARY KEY (bot_id, coin)
		);`,
		`CREATE TABLE IF NOT EXISTS price_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id INTEGER NOT NULL,
			coin TEXT NOT NULL,
			price REAL NOT NULL,
			source TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_points_bot_coin_time ON price_points(bot_id, coin, timestamp);`,
		`CREATE TABLE IF NOT EXISTS swap_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			from_coin TEXT NOT NULL,
			to_coin TEXT NOT NULL,
			from_price REAL NOT NULL,
			to_price REAL NOT NULL,
			from_snapshot REAL NOT NULL,
			to_snapshot REAL NOT NULL,
			deviation_pct REAL NOT NULL,
			threshold REAL NOT NULL,
			global_peak_value REAL NOT NULL,
			protection_triggered BOOLEAN NOT NULL,
			swap_performed BOOLEAN NOT NULL,
			reason TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_swap_decisions_bot_time ON swap_decisions(bot_id, timestamp);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id INTEGER NOT NULL,
			trade_id TEXT NOT NULL,
			from_coin TEXT NOT NULL,
			to_coin TEXT NOT NULL,
			from_amount REAL NOT NULL DEFAULT 0,
			to_amount REAL NOT NULL DEFAULT 0,
			commission_amount REAL NOT NULL DEFAULT 0,
			commission_rate REAL NOT NULL DEFAULT 0,
			price_change REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			executed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_bot_time ON trades(bot_id, executed_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// BotRepository implementation

const botColumns = `id, name, enabled, coins, initial_coin, threshold, check_interval,
	commission_rate, stablecoin, allocation_pct, budget_amount, take_profit_pct,
	protection_pct, unit_protection, account_id, price_source, fallback_source,
	created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (*domain.Bot, error) {
	var b domain.Bot
	var coins string
	err := row.Scan(&b.ID, &b.Name, &b.Enabled, &coins, &b.InitialCoin, &b.Threshold,
		&b.CheckInterval, &b.CommissionRate, &b.Stablecoin, &b.AllocationPct,
		&b.BudgetAmount, &b.TakeProfitPct, &b.ProtectionPct, &b.UnitProtection,
		&b.AccountID, &b.PriceSource, &b.FallbackSource, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if coins != "" {
		for _, c := range strings.Split(coins, ",") {
			b.Coins = append(b.Coins, strings.TrimSpace(c))
		}
	}
	return &b, nil
}

// CreateBot inserts a bot and its empty state row. Used by the seeding
// utility and tests; the configuration API owns bots in production.
func (s *SQLiteStore) CreateBot(ctx context.Context, b *domain.Bot) error {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (name, enabled, coins, initial_coin, threshold, check_interval,
			commission_rate, stablecoin, allocation_pct, budget_amount, take_profit_pct,
			protection_pct, unit_protection, account_id, price_source, fallback_source,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Name, b.Enabled, strings.Join(b.Coins, ","), b.InitialCoin, b.Threshold,
		b.CheckInterval, b.CommissionRate, b.Stablecoin, b.AllocationPct, b.BudgetAmount,
		b.TakeProfitPct, b.ProtectionPct, b.UnitProtection, b.AccountID, b.PriceSource,
		b.FallbackSource, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bot_states (bot_id, current_coin, updated_at) VALUES (?, ?, ?)`,
		b.ID, b.InitialCoin, now)
	return err
}

func (s *SQLiteStore) GetBot(ctx context.Context, id int64) (*domain.Bot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	return scanBot(row)
}

func (s *SQLiteStore) ListBots(ctx context.Context) ([]*domain.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (s *SQLiteStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bots SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	return err
}

// StateRepository implementation

func (s *SQLiteStore) GetState(ctx context.Context, botID int64) (*domain.BotState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bot_id, current_coin, last_check_time, last_price_update, last_price_source,
			active_trade_id, total_commissions_paid, global_peak_value, min_acceptable_value, updated_at
		 FROM bot_states WHERE bot_id = ?`, botID)

	var st domain.BotState
	var lastCheck, lastUpdate sql.NullTime
	err := row.Scan(&st.BotID, &st.CurrentCoin, &lastCheck, &lastUpdate, &st.LastPriceSource,
		&st.ActiveTradeID, &st.TotalCommissionsPaid, &st.GlobalPeakValue,
		&st.MinAcceptableValue, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastCheck.Valid {
		st.LastCheckTime = lastCheck.Time
	}
	if lastUpdate.Valid {
		st.LastPriceUpdate = lastUpdate.Time
	}
	return &st, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, st *domain.BotState) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_states (bot_id, current_coin, last_check_time, last_price_update,
			last_price_source, active_trade_id, total_commissions_paid, global_peak_value,
			min_acceptable_value, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bot_id) DO UPDATE SET
			current_coin=excluded.current_coin,
			last_check_time=excluded.last_check_time,
			last_price_update=excluded.last_price_update,
			last_price_source=excluded.last_price_source,
			active_trade_id=excluded.active_trade_id,
			total_commissions_paid=excluded.total_commissions_paid,
			global_peak_value=excluded.global_peak_value,
			min_acceptable_value=excluded.min_acceptable_value,
			updated_at=excluded.updated_at`,
		st.BotID, st.CurrentCoin, nullTime(st.LastCheckTime), nullTime(st.LastPriceUpdate),
		st.LastPriceSource, st.ActiveTradeID, st.TotalCommissionsPaid, st.GlobalPeakValue,
		st.MinAcceptableValue, st.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, botID int64, coin string) (*domain.PriceSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bot_id, coin, price, units_held, was_ever_held, max_units, taken_at
		 FROM coin_snapshots WHERE bot_id = ? AND coin = ?`, botID, coin)
	var snap domain.PriceSnapshot
	err := row.Scan(&snap.BotID, &snap.Coin, &snap.Price, &snap.UnitsHeld,
		&snap.WasEverHeld, &snap.MaxUnits, &snap.TakenAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, botID int64) ([]*domain.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bot_id, coin, price, units_held, was_ever_held, max_units, taken_at
		 FROM coin_snapshots WHERE bot_id = ?`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*domain.PriceSnapshot
	for rows.Next() {
		var snap domain.PriceSnapshot
		if err := rows.Scan(&snap.BotID, &snap.Coin, &snap.Price, &snap.UnitsHeld,
			&snap.WasEverHeld, &snap.MaxUnits, &snap.TakenAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coin_snapshots (bot_id, coin, price, units_held, was_ever_held, max_units, taken_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bot_id, coin) DO UPDATE SET
			price=excluded.price,
			units_held=excluded.units_held,
			was_ever_held=excluded.was_ever_held,
			max_units=excluded.max_units,
			taken_at=excluded.taken_at`,
		snap.BotID, snap.Coin, snap.Price, snap.UnitsHeld, snap.WasEverHeld,
		snap.MaxUnits, snap.TakenAt)
	return err
}

func (s *SQLiteStore) DeleteSnapshots(ctx context.Context, botID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM coin_snapshots WHERE bot_id = ?`, botID)
	return err
}

// AuditRepository implementation

func (s *SQLiteStore) SaveDecision(ctx context.Context, rec *domain.SwapDecisionRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO swap_decisions (bot_id, timestamp, from_coin, to_coin, from_price,
			to_price, from_snapshot, to_snapshot, deviation_pct, threshold,
			global_peak_value, protection_triggered, swap_performed, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BotID, rec.Timestamp, rec.FromCoin, rec.ToCoin, rec.FromCoinPrice,
		rec.ToCoinPrice, rec.FromCoinSnapshot, rec.ToCoinSnapshot, rec.DeviationPercent,
		rec.Threshold, rec.GlobalPeakValue, rec.ProtectionTriggered, rec.SwapPerformed,
		rec.Reason)
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, botID int64, f domain.DecisionFilter) ([]*domain.SwapDecisionRecord, error) {
	query := `SELECT id, bot_id, timestamp, from_coin, to_coin, from_price, to_price,
		from_snapshot, to_snapshot, deviation_pct, threshold, global_peak_value,
		protection_triggered, swap_performed, reason
		FROM swap_decisions WHERE bot_id = ?`
	args := []any{botID}

	if f.FromCoin != "" {
		query += ` AND from_coin = ?`
		args = append(args, f.FromCoin)
	}
	if f.ToCoin != "" {
		query += ` AND to_coin = ?`
		args = append(args, f.ToCoin)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.Until)
	}
	if f.SwapPerformed != nil {
		query += ` AND swap_performed = ?`
		args = append(args, *f.SwapPerformed)
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.SwapDecisionRecord
	for rows.Next() {
		var rec domain.SwapDecisionRecord
		if err := rows.Scan(&rec.ID, &rec.BotID, &rec.Timestamp, &rec.FromCoin, &rec.ToCoin,
			&rec.FromCoinPrice, &rec.ToCoinPrice, &rec.FromCoinSnapshot, &rec.ToCoinSnapshot,
			&rec.DeviationPercent, &rec.Threshold, &rec.GlobalPeakValue,
			&rec.ProtectionTriggered, &rec.SwapPerformed, &rec.Reason); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (bot_id, trade_id, from_coin, to_coin, from_amount, to_amount,
			commission_amount, commission_rate, price_change, status, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.BotID, t.TradeID, t.FromCoin, t.ToCoin, t.FromAmount, t.ToAmount,
		t.CommissionAmount, t.CommissionRate, t.PriceChange, string(t.Status), t.ExecutedAt)
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, botID int64, f domain.TradeFilter) ([]*domain.Trade, error) {
	query := `SELECT id, bot_id, trade_id, from_coin, to_coin, from_amount, to_amount,
		commission_amount, commission_rate, price_change, status, executed_at
		FROM trades WHERE bot_id = ?`
	args := []any{botID}

	if f.FromCoin != "" {
		query += ` AND from_coin = ?`
		args = append(args, f.FromCoin)
	}
	if f.ToCoin != "" {
		query += ` AND to_coin = ?`
		args = append(args, f.ToCoin)
	}
	if !f.Since.IsZero() {
		query += ` AND executed_at >= ?`
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND executed_at <= ?`
		args = append(args, f.Until)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY executed_at DESC, id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var status string
		if err := rows.Scan(&t.ID, &t.BotID, &t.TradeID, &t.FromCoin, &t.ToCoin,
			&t.FromAmount, &t.ToAmount, &t.CommissionAmount, &t.CommissionRate,
			&t.PriceChange, &status, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TradeStatus(status)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SavePricePoint(ctx context.Context, p *domain.PricePoint) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO price_points (bot_id, coin, price, source, timestamp) VALUES (?, ?, ?, ?, ?)`,
		p.BotID, p.Coin, p.Price, p.Source, p.Timestamp)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListPricePoints(ctx context.Context, botID int64, coin string, since time.Time, limit int) ([]*domain.PricePoint, error) {
	query := `SELECT id, bot_id, coin, price, source, timestamp FROM price_points WHERE bot_id = ?`
	args := []any{botID}
	if coin != "" {
		query += ` AND coin = ?`
		args = append(args, coin)
	}
	if !since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	if limit <= 0 {
		limit = 500
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.ID, &p.BotID, &p.Coin, &p.Price, &p.Source, &p.Timestamp); err != nil {
			return nil, err
		}
		points = append(points, &p)
	}
	return points, rows.Err()
}
