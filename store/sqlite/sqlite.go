/*
Package sqlite provides a SQLite-backed implementation of core.TxStore.

PURPOSE:
  Implements persistence for users, investments, the append-only
  ledger, and referral edges. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger_entries table has no UPDATE or DELETE statements anywhere
  in this package. Purging old completed investments deletes only
  investment rows; their ledger history stays.

ATOMIC UNITS:
  WithTx wraps a set of writes in one database transaction; the domain
  services use it to group {balance mutation + ledger write +
  investment mutation}. Balance updates go through applyBalanceDelta,
  a read-modify-write that runs either inside a transaction or under
  the store's write lock, so concurrent credits never lose updates.

MONEY:
  All monetary columns are TEXT holding decimal.Decimal strings.
  Arithmetic happens in Go, never in SQL.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers
  don't block, a single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/invest.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - invest/lifecycle.go, referral/commission.go: Primary consumers
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
)

// Store implements core.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		phone TEXT,
		referral_code TEXT NOT NULL UNIQUE,
		referred_by TEXT,
		wallet_balance TEXT NOT NULL,
		total_earnings TEXT NOT NULL,
		level_income TEXT NOT NULL,
		total_roi TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_referred_by
		ON users(referred_by) WHERE referred_by IS NOT NULL;

	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		plan TEXT NOT NULL,
		daily_rate TEXT NOT NULL,
		duration_days INTEGER NOT NULL,
		level_commissions_json TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		total_earned TEXT NOT NULL,
		last_roi_calculation TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_investments_user
		ON investments(user_id);

	-- Hot path for the daily sweep
	CREATE INDEX IF NOT EXISTS idx_investments_accruable
		ON investments(status, is_active, end_date);

	-- Ledger (append-only; no UPDATE or DELETE in this package)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		investment_id TEXT,
		occurred_at TEXT NOT NULL,
		amount TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		description TEXT,
		level INTEGER NOT NULL DEFAULT 0,
		referred_user TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_date
		ON ledger_entries(user_id, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_type
		ON ledger_entries(entry_type);

	CREATE TABLE IF NOT EXISTS referral_edges (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		referred_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		investment_amount TEXT NOT NULL,
		commission_earned TEXT NOT NULL,
		last_commission_at TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_pair
		ON referral_edges(referrer_id, referred_id);
	CREATE INDEX IF NOT EXISTS idx_edges_referrer
		ON referral_edges(referrer_id, level);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (core.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. The session passed
// to fn shares the store's helpers but runs every statement on the
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txSession{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txSession runs core.Store operations on an open transaction. It does
// no locking of its own; WithTx holds the store lock for its duration.
type txSession struct {
	q *sql.Tx
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createUser(ctx, s.db, u)
}
func (ts *txSession) CreateUser(ctx context.Context, u *core.User) error {
	return createUser(ctx, ts.q, u)
}

func createUser(ctx context.Context, q querier, u *core.User) error {
	query := `
		INSERT INTO users
		(id, name, email, password_hash, phone, referral_code, referred_by,
		 wallet_balance, total_earnings, level_income, total_roi,
		 role, is_active, last_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.PasswordHash, nullString(u.Phone),
		u.ReferralCode, nullUserID(u.ReferredBy),
		u.WalletBalance.String(), u.TotalEarnings.String(),
		u.LevelIncome.String(), u.TotalROI.String(),
		u.Role, u.IsActive, nullTime(u.LastLogin),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "users.email") {
			return core.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, phone, referral_code, referred_by,
	wallet_balance, total_earnings, level_income, total_roi,
	role, is_active, last_login, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id core.UserID) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUserWhere(ctx, s.db, "id = ?", string(id))
}
func (ts *txSession) GetUser(ctx context.Context, id core.UserID) (*core.User, error) {
	return getUserWhere(ctx, ts.q, "id = ?", string(id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUserWhere(ctx, s.db, "email = ?", email)
}
func (ts *txSession) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return getUserWhere(ctx, ts.q, "email = ?", email)
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUserWhere(ctx, s.db, "referral_code = ?", code)
}
func (ts *txSession) GetUserByReferralCode(ctx context.Context, code string) (*core.User, error) {
	return getUserWhere(ctx, ts.q, "referral_code = ?", code)
}

func getUserWhere(ctx context.Context, q querier, where string, arg any) (*core.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *Store) ListDirectReferrals(ctx context.Context, referrerID core.UserID) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDirectReferrals(ctx, s.db, referrerID)
}
func (ts *txSession) ListDirectReferrals(ctx context.Context, referrerID core.UserID) ([]core.User, error) {
	return listDirectReferrals(ctx, ts.q, referrerID)
}

func listDirectReferrals(ctx context.Context, q querier, referrerID core.UserID) ([]core.User, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE referred_by = ? ORDER BY created_at ASC",
		string(referrerID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserLogin(ctx context.Context, id core.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateUserLogin(ctx, s.db, id, at)
}
func (ts *txSession) UpdateUserLogin(ctx context.Context, id core.UserID, at time.Time) error {
	return updateUserLogin(ctx, ts.q, id, at)
}

func updateUserLogin(ctx context.Context, q querier, id core.UserID, at time.Time) error {
	res, err := q.ExecContext(ctx,
		"UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?",
		formatTime(at), formatTime(at), string(id),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) ApplyBalanceDelta(ctx context.Context, id core.UserID, d core.BalanceDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyBalanceDelta(ctx, s.db, id, d)
}
func (ts *txSession) ApplyBalanceDelta(ctx context.Context, id core.UserID, d core.BalanceDelta) error {
	return applyBalanceDelta(ctx, ts.q, id, d)
}

// applyBalanceDelta is a read-modify-write on the aggregate columns.
// It runs either inside a transaction or under the store's write lock,
// so the read and the write form one atomic unit.
func applyBalanceDelta(ctx context.Context, q querier, id core.UserID, d core.BalanceDelta) error {
	row := q.QueryRowContext(ctx,
		"SELECT wallet_balance, total_earnings, level_income, total_roi FROM users WHERE id = ?",
		string(id),
	)

	var wallet, earnings, levelIncome, roi string
	if err := row.Scan(&wallet, &earnings, &levelIncome, &roi); err != nil {
		if err == sql.ErrNoRows {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to read balances: %w", err)
	}

	newWallet := mustDecimal(wallet).Add(d.Wallet)
	if newWallet.IsNegative() {
		return &core.InsufficientFundsError{
			UserID:    id,
			Available: mustDecimal(wallet),
			Requested: d.Wallet.Neg(),
		}
	}

	_, err := q.ExecContext(ctx, `
		UPDATE users SET
			wallet_balance = ?,
			total_earnings = ?,
			level_income = ?,
			total_roi = ?,
			updated_at = ?
		WHERE id = ?`,
		newWallet.String(),
		mustDecimal(earnings).Add(d.TotalEarnings).String(),
		mustDecimal(levelIncome).Add(d.LevelIncome).String(),
		mustDecimal(roi).Add(d.TotalROI).String(),
		formatTime(time.Now().UTC()),
		string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}
	return nil
}

// =============================================================================
// INVESTMENTS
// =============================================================================

const investmentColumns = `id, user_id, amount, plan, daily_rate, duration_days,
	level_commissions_json, start_date, end_date, status, total_earned,
	last_roi_calculation, is_active, created_at, updated_at`

func (s *Store) CreateInvestment(ctx context.Context, inv *core.Investment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createInvestment(ctx, s.db, inv)
}
func (ts *txSession) CreateInvestment(ctx context.Context, inv *core.Investment) error {
	return createInvestment(ctx, ts.q, inv)
}

func createInvestment(ctx context.Context, q querier, inv *core.Investment) error {
	commissionsJSON, err := marshalCommissions(inv.Details.LevelCommissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO investments
		(id, user_id, amount, plan, daily_rate, duration_days, level_commissions_json,
		 start_date, end_date, status, total_earned, last_roi_calculation, is_active,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		inv.ID, inv.UserID, inv.Amount.String(), inv.Plan,
		inv.Details.DailyRate.String(), inv.Details.DurationDays, commissionsJSON,
		formatTime(inv.StartDate), formatTime(inv.EndDate),
		inv.Status, inv.TotalEarned.String(), nullTime(inv.LastROICalculation),
		inv.IsActive, formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create investment: %w", err)
	}
	return nil
}

func (s *Store) GetInvestment(ctx context.Context, id core.InvestmentID) (*core.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInvestment(ctx, s.db, id)
}
func (ts *txSession) GetInvestment(ctx context.Context, id core.InvestmentID) (*core.Investment, error) {
	return getInvestment(ctx, ts.q, id)
}

func getInvestment(ctx context.Context, q querier, id core.InvestmentID) (*core.Investment, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+investmentColumns+" FROM investments WHERE id = ?", string(id))
	inv, err := scanInvestment(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get investment: %w", err)
	}
	return inv, nil
}

func (s *Store) ListInvestmentsByUser(ctx context.Context, userID core.UserID) ([]core.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvestments(ctx, s.db, "user_id = ?", string(userID))
}
func (ts *txSession) ListInvestmentsByUser(ctx context.Context, userID core.UserID) ([]core.Investment, error) {
	return listInvestments(ctx, ts.q, "user_id = ?", string(userID))
}

func (s *Store) ListActiveInvestmentsByUser(ctx context.Context, userID core.UserID) ([]core.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvestments(ctx, s.db, "user_id = ? AND status = 'active'", string(userID))
}
func (ts *txSession) ListActiveInvestmentsByUser(ctx context.Context, userID core.UserID) ([]core.Investment, error) {
	return listInvestments(ctx, ts.q, "user_id = ? AND status = 'active'", string(userID))
}

func (s *Store) ListAllInvestments(ctx context.Context) ([]core.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvestments(ctx, s.db, "1 = 1")
}
func (ts *txSession) ListAllInvestments(ctx context.Context) ([]core.Investment, error) {
	return listInvestments(ctx, ts.q, "1 = 1")
}

func (s *Store) ListAccruableInvestments(ctx context.Context, dayStart time.Time) ([]core.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvestments(ctx, s.db,
		"status = 'active' AND is_active = TRUE AND end_date > ?", formatTime(dayStart))
}
func (ts *txSession) ListAccruableInvestments(ctx context.Context, dayStart time.Time) ([]core.Investment, error) {
	return listInvestments(ctx, ts.q,
		"status = 'active' AND is_active = TRUE AND end_date > ?", formatTime(dayStart))
}

func listInvestments(ctx context.Context, q querier, where string, args ...any) ([]core.Investment, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+investmentColumns+" FROM investments WHERE "+where+" ORDER BY created_at DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer rows.Close()

	var investments []core.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		investments = append(investments, *inv)
	}
	return investments, rows.Err()
}

func (s *Store) UpdateInvestment(ctx context.Context, inv *core.Investment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateInvestment(ctx, s.db, inv)
}
func (ts *txSession) UpdateInvestment(ctx context.Context, inv *core.Investment) error {
	return updateInvestment(ctx, ts.q, inv)
}

// updateInvestment writes the mutable lifecycle fields. The plan
// snapshot, principal, and dates are immutable after creation.
func updateInvestment(ctx context.Context, q querier, inv *core.Investment) error {
	res, err := q.ExecContext(ctx, `
		UPDATE investments SET
			status = ?,
			total_earned = ?,
			last_roi_calculation = ?,
			is_active = ?,
			updated_at = ?
		WHERE id = ?`,
		inv.Status, inv.TotalEarned.String(), nullTime(inv.LastROICalculation),
		inv.IsActive, formatTime(inv.UpdatedAt), string(inv.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update investment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeCompletedInvestments(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return purgeCompletedInvestments(ctx, s.db, before)
}
func (ts *txSession) PurgeCompletedInvestments(ctx context.Context, before time.Time) (int, error) {
	return purgeCompletedInvestments(ctx, ts.q, before)
}

func purgeCompletedInvestments(ctx context.Context, q querier, before time.Time) (int, error) {
	res, err := q.ExecContext(ctx,
		"DELETE FROM investments WHERE status = 'completed' AND updated_at < ?",
		formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge investments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

const entryColumns = `id, user_id, investment_id, occurred_at, amount, entry_type,
	description, level, referred_user, created_at`

func (s *Store) AppendEntry(ctx context.Context, e *core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}
func (ts *txSession) AppendEntry(ctx context.Context, e *core.LedgerEntry) error {
	return appendEntry(ctx, ts.q, e)
}

func appendEntry(ctx context.Context, q querier, e *core.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, user_id, investment_id, occurred_at, amount, entry_type,
		 description, level, referred_user, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.UserID, nullInvestmentID(e.InvestmentID),
		formatTime(e.OccurredAt), e.Amount.String(), e.Type,
		e.Description, e.Level, nullUserID(e.ReferredUser),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, userID core.UserID, f core.EntryFilter) ([]core.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, userID, f)
}
func (ts *txSession) ListEntries(ctx context.Context, userID core.UserID, f core.EntryFilter) ([]core.LedgerEntry, error) {
	return listEntries(ctx, ts.q, userID, f)
}

func entryFilterClause(userID core.UserID, f core.EntryFilter) (string, []any) {
	where := "user_id = ?"
	args := []any{string(userID)}

	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where += " AND entry_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if f.From != nil {
		where += " AND occurred_at >= ?"
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where += " AND occurred_at <= ?"
		args = append(args, formatTime(*f.To))
	}
	return where, args
}

func listEntries(ctx context.Context, q querier, userID core.UserID, f core.EntryFilter) ([]core.LedgerEntry, error) {
	where, args := entryFilterClause(userID, f)

	query := "SELECT " + entryColumns + " FROM ledger_entries WHERE " + where +
		" ORDER BY occurred_at DESC, created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *Store) CountEntries(ctx context.Context, userID core.UserID, f core.EntryFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countEntries(ctx, s.db, userID, f)
}
func (ts *txSession) CountEntries(ctx context.Context, userID core.UserID, f core.EntryFilter) (int, error) {
	return countEntries(ctx, ts.q, userID, f)
}

func countEntries(ctx context.Context, q querier, userID core.UserID, f core.EntryFilter) (int, error) {
	where, args := entryFilterClause(userID, f)
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE "+where, args...,
	).Scan(&count)
	return count, err
}

func (s *Store) SumEntries(ctx context.Context, userID core.UserID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumEntries(ctx, s.db, userID)
}
func (ts *txSession) SumEntries(ctx context.Context, userID core.UserID) (decimal.Decimal, error) {
	return sumEntries(ctx, ts.q, userID)
}

// sumEntries adds amounts in Go: the column is TEXT decimals, and SQL
// floating-point SUM would defeat the point of storing them exactly.
func sumEntries(ctx context.Context, q querier, userID core.UserID) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT amount FROM ledger_entries WHERE user_id = ?", string(userID))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(mustDecimal(amount))
	}
	return sum, rows.Err()
}

func (s *Store) SumLevelIncome(ctx context.Context, userID core.UserID) ([]core.LevelEarning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumLevelIncome(ctx, s.db, userID)
}
func (ts *txSession) SumLevelIncome(ctx context.Context, userID core.UserID) ([]core.LevelEarning, error) {
	return sumLevelIncome(ctx, ts.q, userID)
}

func sumLevelIncome(ctx context.Context, q querier, userID core.UserID) ([]core.LevelEarning, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT level, amount FROM ledger_entries
		WHERE user_id = ? AND entry_type = 'level_income'
		ORDER BY level ASC`,
		string(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate level income: %w", err)
	}
	defer rows.Close()

	byLevel := make(map[int]*core.LevelEarning)
	var order []int
	for rows.Next() {
		var level int
		var amount string
		if err := rows.Scan(&level, &amount); err != nil {
			return nil, err
		}
		e, ok := byLevel[level]
		if !ok {
			e = &core.LevelEarning{Level: level, Total: decimal.Zero}
			byLevel[level] = e
			order = append(order, level)
		}
		e.Total = e.Total.Add(mustDecimal(amount))
		e.Count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	earnings := make([]core.LevelEarning, 0, len(order))
	for _, level := range order {
		earnings = append(earnings, *byLevel[level])
	}
	return earnings, nil
}

func (s *Store) SumEarningsByDay(ctx context.Context, userID core.UserID, from, to time.Time) ([]core.DailyEarning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumEarningsByDay(ctx, s.db, userID, from, to)
}
func (ts *txSession) SumEarningsByDay(ctx context.Context, userID core.UserID, from, to time.Time) ([]core.DailyEarning, error) {
	return sumEarningsByDay(ctx, ts.q, userID, from, to)
}

func sumEarningsByDay(ctx context.Context, q querier, userID core.UserID, from, to time.Time) ([]core.DailyEarning, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT occurred_at, amount, entry_type FROM ledger_entries
		WHERE user_id = ? AND entry_type IN ('roi', 'level_income')
		  AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC`,
		string(userID), formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily earnings: %w", err)
	}
	defer rows.Close()

	byDay := make(map[time.Time]*core.DailyEarning)
	var order []time.Time
	for rows.Next() {
		var occurredAt, amount, entryType string
		if err := rows.Scan(&occurredAt, &amount, &entryType); err != nil {
			return nil, err
		}
		day := core.StartOfDayUTC(parseTime(occurredAt))
		e, ok := byDay[day]
		if !ok {
			e = &core.DailyEarning{
				Day:         day,
				ROI:         decimal.Zero,
				LevelIncome: decimal.Zero,
				Total:       decimal.Zero,
			}
			byDay[day] = e
			order = append(order, day)
		}
		d := mustDecimal(amount)
		switch core.EntryType(entryType) {
		case core.EntryROI:
			e.ROI = e.ROI.Add(d)
		case core.EntryLevelIncome:
			e.LevelIncome = e.LevelIncome.Add(d)
		}
		e.Total = e.Total.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	earnings := make([]core.DailyEarning, 0, len(order))
	for _, day := range order {
		earnings = append(earnings, *byDay[day])
	}
	return earnings, nil
}

// =============================================================================
// REFERRAL EDGES
// =============================================================================

const edgeColumns = `id, referrer_id, referred_id, level, investment_amount,
	commission_earned, last_commission_at, status, created_at, updated_at`

func (s *Store) UpsertReferralEdge(ctx context.Context, referrerID, referredID core.UserID, level int, investmentDelta, commissionDelta decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertReferralEdge(ctx, s.db, referrerID, referredID, level, investmentDelta, commissionDelta, at)
}
func (ts *txSession) UpsertReferralEdge(ctx context.Context, referrerID, referredID core.UserID, level int, investmentDelta, commissionDelta decimal.Decimal, at time.Time) error {
	return upsertReferralEdge(ctx, ts.q, referrerID, referredID, level, investmentDelta, commissionDelta, at)
}

func upsertReferralEdge(ctx context.Context, q querier, referrerID, referredID core.UserID, level int, investmentDelta, commissionDelta decimal.Decimal, at time.Time) error {
	row := q.QueryRowContext(ctx, `
		SELECT investment_amount, commission_earned FROM referral_edges
		WHERE referrer_id = ? AND referred_id = ?`,
		string(referrerID), string(referredID),
	)

	var investment, commission string
	err := row.Scan(&investment, &commission)
	switch {
	case err == sql.ErrNoRows:
		_, err = q.ExecContext(ctx, `
			INSERT INTO referral_edges
			(id, referrer_id, referred_id, level, investment_amount,
			 commission_earned, last_commission_at, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?, ?)`,
			edgeID(referrerID, referredID), referrerID, referredID, level,
			investmentDelta.String(), commissionDelta.String(),
			formatTime(at), formatTime(at), formatTime(at),
		)
	case err == nil:
		// Level is set once at creation and records the chain distance;
		// later commissions only grow the cumulative amounts.
		_, err = q.ExecContext(ctx, `
			UPDATE referral_edges SET
				investment_amount = ?,
				commission_earned = ?,
				last_commission_at = ?,
				updated_at = ?
			WHERE referrer_id = ? AND referred_id = ?`,
			mustDecimal(investment).Add(investmentDelta).String(),
			mustDecimal(commission).Add(commissionDelta).String(),
			formatTime(at), formatTime(at),
			string(referrerID), string(referredID),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert referral edge: %w", err)
	}
	return nil
}

func (s *Store) ListReferralEdges(ctx context.Context, referrerID core.UserID) ([]core.ReferralEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listReferralEdges(ctx, s.db, referrerID)
}
func (ts *txSession) ListReferralEdges(ctx context.Context, referrerID core.UserID) ([]core.ReferralEdge, error) {
	return listReferralEdges(ctx, ts.q, referrerID)
}

func listReferralEdges(ctx context.Context, q querier, referrerID core.UserID) ([]core.ReferralEdge, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+edgeColumns+" FROM referral_edges WHERE referrer_id = ? ORDER BY level ASC, created_at ASC",
		string(referrerID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list referral edges: %w", err)
	}
	defer rows.Close()

	var edges []core.ReferralEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// =============================================================================
// SCANNING & HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*core.User, error) {
	var (
		u          core.User
		phone      sql.NullString
		referredBy sql.NullString
		wallet     string
		earnings   string
		levelInc   string
		roi        string
		lastLogin  sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &phone,
		&u.ReferralCode, &referredBy,
		&wallet, &earnings, &levelInc, &roi,
		&u.Role, &u.IsActive, &lastLogin, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Phone = phone.String
	if referredBy.Valid {
		id := core.UserID(referredBy.String)
		u.ReferredBy = &id
	}
	u.WalletBalance = mustDecimal(wallet)
	u.TotalEarnings = mustDecimal(earnings)
	u.LevelIncome = mustDecimal(levelInc)
	u.TotalROI = mustDecimal(roi)
	u.LastLogin = parseNullTime(lastLogin)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func scanInvestment(row rowScanner) (*core.Investment, error) {
	var (
		inv             core.Investment
		amount          string
		dailyRate       string
		commissionsJSON string
		startDate       string
		endDate         string
		totalEarned     string
		lastROI         sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := row.Scan(
		&inv.ID, &inv.UserID, &amount, &inv.Plan, &dailyRate,
		&inv.Details.DurationDays, &commissionsJSON,
		&startDate, &endDate, &inv.Status, &totalEarned,
		&lastROI, &inv.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Amount = mustDecimal(amount)
	inv.Details.DailyRate = mustDecimal(dailyRate)
	commissions, err := unmarshalCommissions(commissionsJSON)
	if err != nil {
		return nil, err
	}
	inv.Details.LevelCommissions = commissions
	inv.StartDate = parseTime(startDate)
	inv.EndDate = parseTime(endDate)
	inv.TotalEarned = mustDecimal(totalEarned)
	inv.LastROICalculation = parseNullTime(lastROI)
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return &inv, nil
}

func scanEntry(row rowScanner) (*core.LedgerEntry, error) {
	var (
		e            core.LedgerEntry
		investmentID sql.NullString
		occurredAt   string
		amount       string
		description  sql.NullString
		referredUser sql.NullString
		createdAt    string
	)
	err := row.Scan(
		&e.ID, &e.UserID, &investmentID, &occurredAt, &amount,
		&e.Type, &description, &e.Level, &referredUser, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if investmentID.Valid {
		id := core.InvestmentID(investmentID.String)
		e.InvestmentID = &id
	}
	e.OccurredAt = parseTime(occurredAt)
	e.Amount = mustDecimal(amount)
	e.Description = description.String
	if referredUser.Valid {
		id := core.UserID(referredUser.String)
		e.ReferredUser = &id
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func scanEdge(row rowScanner) (*core.ReferralEdge, error) {
	var (
		e          core.ReferralEdge
		investment string
		commission string
		lastAt     sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&e.ID, &e.ReferrerID, &e.ReferredID, &e.Level,
		&investment, &commission, &lastAt, &e.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.InvestmentAmount = mustDecimal(investment)
	e.CommissionEarned = mustDecimal(commission)
	e.LastCommissionAt = parseNullTime(lastAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

type commissionJSON struct {
	Level      int    `json:"level"`
	Percentage string `json:"percentage"`
}

func marshalCommissions(commissions []core.LevelCommission) (string, error) {
	out := make([]commissionJSON, len(commissions))
	for i, c := range commissions {
		out[i] = commissionJSON{Level: c.Level, Percentage: c.Percentage.String()}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal commissions: %w", err)
	}
	return string(b), nil
}

func unmarshalCommissions(raw string) ([]core.LevelCommission, error) {
	var in []commissionJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal commissions: %w", err)
	}
	out := make([]core.LevelCommission, len(in))
	for i, c := range in {
		out[i] = core.LevelCommission{Level: c.Level, Percentage: mustDecimal(c.Percentage)}
	}
	return out, nil
}

func edgeID(referrerID, referredID core.UserID) string {
	return string(referrerID) + ":" + string(referredID)
}

// timeLayout is fixed-width so stored timestamps compare correctly as
// strings in SQL range queries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullUserID(id *core.UserID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullInvestmentID(id *core.InvestmentID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
