/*
store.go - Persistence interfaces for the investment engine

PURPOSE:
  Defines the contract between domain logic and the database. The
  ledger portion is append-only; user aggregates are updated with
  relative deltas so each row update is an atomic read-modify-write.

ATOMIC UNITS:
  TxStore.WithTx groups {balance mutation + ledger write + investment
  mutation} into one database transaction. Investment creation and
  cancellation use it for their primary mutation; the commission
  cascade commits each level independently on purpose.

APPEND-ONLY CONTRACT:
  LedgerEntry rows are inserted and never updated or deleted. Purging
  old completed investments does not touch their ledger history.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (same patterns apply to
    PostgreSQL, only minor dialect differences)

SEE ALSO:
  - types.go: Entities persisted through this interface
  - invest/lifecycle.go, referral/commission.go: Primary consumers
*/
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryFilter narrows ledger queries for history endpoints.
type EntryFilter struct {
	Types  []EntryType
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// LevelEarning aggregates a user's level_income entries for one level.
type LevelEarning struct {
	Level int
	Total decimal.Decimal
	Count int
}

// DailyEarning aggregates a user's earning entries for one UTC day.
type DailyEarning struct {
	Day         time.Time
	ROI         decimal.Decimal
	LevelIncome decimal.Decimal
	Total       decimal.Decimal
}

// Store handles persistence for all four entity kinds.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*User, error)
	ListDirectReferrals(ctx context.Context, referrerID UserID) ([]User, error)
	UpdateUserLogin(ctx context.Context, id UserID, at time.Time) error

	// ApplyBalanceDelta adds the delta to the user's aggregates in one
	// atomic update. Returns ErrInsufficientFunds if the wallet would go
	// negative, ErrNotFound if the user does not exist.
	ApplyBalanceDelta(ctx context.Context, id UserID, d BalanceDelta) error

	// Investments
	CreateInvestment(ctx context.Context, inv *Investment) error
	GetInvestment(ctx context.Context, id InvestmentID) (*Investment, error)
	ListInvestmentsByUser(ctx context.Context, userID UserID) ([]Investment, error)
	ListActiveInvestmentsByUser(ctx context.Context, userID UserID) ([]Investment, error)
	ListAllInvestments(ctx context.Context) ([]Investment, error)

	// ListAccruableInvestments returns active investments whose end date
	// is after the given day start. Eligibility for "already credited
	// today" is rechecked per investment by the accrual logic.
	ListAccruableInvestments(ctx context.Context, dayStart time.Time) ([]Investment, error)

	UpdateInvestment(ctx context.Context, inv *Investment) error

	// PurgeCompletedInvestments deletes investments completed before the
	// cutoff. Ledger entries referencing them are retained.
	PurgeCompletedInvestments(ctx context.Context, before time.Time) (int, error)

	// Ledger (append-only; no update or delete exists)
	AppendEntry(ctx context.Context, e *LedgerEntry) error
	ListEntries(ctx context.Context, userID UserID, f EntryFilter) ([]LedgerEntry, error)
	CountEntries(ctx context.Context, userID UserID, f EntryFilter) (int, error)

	// SumEntries returns the signed sum of all of a user's entries. Used
	// to verify the accounting identity against the wallet balance.
	SumEntries(ctx context.Context, userID UserID) (decimal.Decimal, error)

	// SumLevelIncome aggregates level_income entries by level, ascending.
	SumLevelIncome(ctx context.Context, userID UserID) ([]LevelEarning, error)

	// SumEarningsByDay aggregates roi and level_income entries per UTC
	// calendar day within [from, to), ascending by day. Days with no
	// earnings are omitted.
	SumEarningsByDay(ctx context.Context, userID UserID, from, to time.Time) ([]DailyEarning, error)

	// Referral edges
	// UpsertReferralEdge increments the cumulative amounts for the
	// (referrer, referred) pair, creating the edge with the given level
	// and active status when absent.
	UpsertReferralEdge(ctx context.Context, referrerID, referredID UserID, level int, investmentDelta, commissionDelta decimal.Decimal, at time.Time) error
	ListReferralEdges(ctx context.Context, referrerID UserID) ([]ReferralEdge, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error,
	// the transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
