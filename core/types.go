/*
Package core provides the domain types shared by the investment engine.

PURPOSE:
  This package contains the entities and persistence contracts for the
  platform: users with wallet aggregates, fixed-term investments with an
  immutable plan snapshot, the append-only monetary ledger, and the
  denormalized referral edges used for reporting.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: identity plus financial aggregate (wallet, lifetime totals)
  - Investment: one deposit into a plan, with its lifecycle state
  - LedgerEntry: an immutable signed monetary record
  - ReferralEdge: per-(referrer, referred) commission cache

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified once written
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing user/investment IDs
  4. Snapshotting: Plan terms are copied onto the investment at creation
     and never re-read from the catalog for that investment's lifetime

SEE ALSO:
  - store.go: Persistence interfaces over these types
  - errors.go: Sentinel errors surfaced by the engine
  - clock.go: Calendar-day arithmetic used by accrual and refunds
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type InvestmentID string
type EntryID string
type PlanID string

// =============================================================================
// USER - Identity plus financial aggregate
// =============================================================================

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User carries the mutable per-user aggregates. WalletBalance never goes
// negative through normal operations; insufficient-balance checks gate
// investment creation.
type User struct {
	ID           UserID
	Name         string
	Email        string
	PasswordHash string
	Phone        string

	ReferralCode string
	ReferredBy   *UserID // nil for root users; the graph must stay acyclic

	WalletBalance decimal.Decimal
	TotalEarnings decimal.Decimal
	LevelIncome   decimal.Decimal
	TotalROI      decimal.Decimal

	Role      Role
	IsActive  bool
	LastLogin *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// BalanceDelta is a relative update to a user's aggregates. Deltas are
// applied with read-modify-write SQL so concurrent credits never lose
// updates.
type BalanceDelta struct {
	Wallet        decimal.Decimal
	TotalEarnings decimal.Decimal
	LevelIncome   decimal.Decimal
	TotalROI      decimal.Decimal
}

// =============================================================================
// INVESTMENT - One deposit into a plan
// =============================================================================

type InvestmentStatus string

const (
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
	InvestmentCancelled InvestmentStatus = "cancelled"
)

// LevelCommission maps a referral-chain level to its payout percentage.
type LevelCommission struct {
	Level      int
	Percentage decimal.Decimal
}

// PlanSnapshot is the plan terms captured at investment creation. It is
// immutable thereafter, even if the catalog changes, so existing
// investors are protected from retroactive plan-rule changes.
type PlanSnapshot struct {
	DailyRate        decimal.Decimal
	DurationDays     int
	LevelCommissions []LevelCommission
}

// CommissionFor returns the percentage payable at the given chain level,
// or zero when the snapshot defines no payout for that level.
func (s PlanSnapshot) CommissionFor(level int) decimal.Decimal {
	for _, lc := range s.LevelCommissions {
		if lc.Level == level {
			return lc.Percentage
		}
	}
	return decimal.Zero
}

type Investment struct {
	ID     InvestmentID
	UserID UserID
	Amount decimal.Decimal
	Plan   PlanID

	Details   PlanSnapshot
	StartDate time.Time
	EndDate   time.Time // StartDate + DurationDays, never recomputed

	Status             InvestmentStatus
	TotalEarned        decimal.Decimal
	LastROICalculation *time.Time
	IsActive           bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the investment can no longer change state.
func (i *Investment) Terminal() bool {
	return i.Status == InvestmentCompleted || i.Status == InvestmentCancelled
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one monetary movement
// =============================================================================

type EntryType string

const (
	EntryROI         EntryType = "roi"
	EntryLevelIncome EntryType = "level_income"
	EntryWithdrawal  EntryType = "withdrawal"
	EntryDeposit     EntryType = "deposit"
)

// LedgerEntry records one signed balance movement. Entries are
// append-only: the sum of a user's entries reconciles with the delta in
// that user's wallet since account creation.
type LedgerEntry struct {
	ID           EntryID
	UserID       UserID
	InvestmentID *InvestmentID
	OccurredAt   time.Time
	Amount       decimal.Decimal // signed
	Type         EntryType
	Description  string

	// Level and ReferredUser are set only for level_income entries.
	Level        int
	ReferredUser *UserID

	CreatedAt time.Time
}

// =============================================================================
// REFERRAL EDGE - Denormalized commission cache per (referrer, referred)
// =============================================================================

type EdgeStatus string

const (
	EdgeActive   EdgeStatus = "active"
	EdgeInactive EdgeStatus = "inactive"
)

// ReferralEdge caches cumulative commission flow between an upstream
// referrer and a downstream user. Level records the chain distance
// between the two at the time the edge was first created. The edge is
// never authoritative; it is rebuilt from level_income ledger entries.
type ReferralEdge struct {
	ID               string
	ReferrerID       UserID
	ReferredID       UserID
	Level            int
	InvestmentAmount decimal.Decimal
	CommissionEarned decimal.Decimal
	LastCommissionAt *time.Time
	Status           EdgeStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MaxCommissionLevels bounds the referral-chain walk. Commission tables
// never define payouts past this depth.
const MaxCommissionLevels = 4
