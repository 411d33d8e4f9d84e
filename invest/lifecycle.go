/*
Package invest owns the investment lifecycle state machine.

PURPOSE:
  Creation, cancellation with partial refund, and daily ROI accrual for
  fixed-term investments. Each operation applies its primary mutation
  {wallet delta + ledger entry + investment row} as one database
  transaction so a cancellation racing a concurrent ROI credit cannot
  lose updates.

STATE MACHINE:
  active --(accrual reaches term)--> completed
  active --(cancel)----------------> cancelled
  completed and cancelled are terminal.

COMMISSIONS:
  A successful creation triggers the referral cascade through the
  Distributor hook. The cascade is deliberately best-effort: a failure
  there never rolls back or fails the investment itself.

SEE ALSO:
  - referral/commission.go: Distributor implementation
  - sched/scheduler.go: Drives AccrueOneDay once per calendar day
*/
package invest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/plan"
)

// Distributor propagates referral commissions after a creation commits.
type Distributor interface {
	Distribute(ctx context.Context, originUserID core.UserID, principal decimal.Decimal) error
}

// Service implements the investment lifecycle over a transactional store.
type Service struct {
	Store       core.TxStore
	Distributor Distributor // nil disables commission propagation

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

func NewService(store core.TxStore, dist Distributor) *Service {
	return &Service{Store: store, Distributor: dist, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// CREATE
// =============================================================================

// Create opens a new investment for the user: debits the wallet, writes
// the deposit ledger entry, snapshots the plan terms, then triggers
// commission propagation.
func (s *Service) Create(ctx context.Context, userID core.UserID, amount decimal.Decimal, planID core.PlanID) (*core.Investment, error) {
	if amount.LessThan(plan.MinimumInvestment) {
		return nil, fmt.Errorf("%w: minimum is %s", core.ErrInvalidAmount, plan.MinimumInvestment)
	}

	p, err := plan.Lookup(planID)
	if err != nil {
		return nil, err
	}

	user, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.WalletBalance.LessThan(amount) {
		return nil, &core.InsufficientFundsError{
			UserID:    userID,
			Available: user.WalletBalance,
			Requested: amount,
		}
	}

	now := s.now()
	inv := &core.Investment{
		ID:          core.InvestmentID(uuid.NewString()),
		UserID:      userID,
		Amount:      amount,
		Plan:        planID,
		Details:     p.Snapshot(),
		StartDate:   now,
		EndDate:     now.AddDate(0, 0, p.DurationDays),
		Status:      core.InvestmentActive,
		TotalEarned: decimal.Zero,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.Store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.ApplyBalanceDelta(ctx, userID, core.BalanceDelta{Wallet: amount.Neg()}); err != nil {
			return err
		}
		if err := tx.CreateInvestment(ctx, inv); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, &core.LedgerEntry{
			ID:           core.EntryID(uuid.NewString()),
			UserID:       userID,
			InvestmentID: &inv.ID,
			OccurredAt:   now,
			Amount:       amount.Neg(),
			Type:         core.EntryDeposit,
			Description:  fmt.Sprintf("Investment in %s plan", planID),
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	// Best-effort cascade: commission problems must not fail the
	// investment that triggered them.
	if s.Distributor != nil {
		if err := s.Distributor.Distribute(ctx, userID, amount); err != nil {
			log.Printf("[Invest] commission propagation halted for %s: %v", userID, err)
		}
	}

	return inv, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel transitions an active investment to cancelled and refunds part
// of the principal: amount × daysRemaining / (durationDays × 2), so at
// most half the principal is recoverable, decaying linearly to zero as
// the term completes. daysRemaining is clamped to [0, durationDays]; a
// cancellation after the nominal term refunds nothing rather than
// debiting the wallet.
func (s *Service) Cancel(ctx context.Context, id core.InvestmentID, requester *core.User) (*core.Investment, decimal.Decimal, error) {
	inv, err := s.Store.GetInvestment(ctx, id)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if inv.UserID != requester.ID && !requester.IsAdmin() {
		return nil, decimal.Zero, core.ErrUnauthorized
	}
	if inv.Status != core.InvestmentActive {
		return nil, decimal.Zero, fmt.Errorf("%w: only active investments can be cancelled", core.ErrInvalidState)
	}

	now := s.now()
	var refund decimal.Decimal

	err = s.Store.WithTx(ctx, func(tx core.Store) error {
		// Re-read inside the transaction: a concurrent accrual may have
		// advanced totalEarned, or completed the investment, since the
		// copy above was fetched.
		fresh, err := tx.GetInvestment(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status != core.InvestmentActive {
			return fmt.Errorf("%w: only active investments can be cancelled", core.ErrInvalidState)
		}

		refund = RefundAmount(fresh, now)
		fresh.Status = core.InvestmentCancelled
		fresh.IsActive = false
		fresh.UpdatedAt = now
		*inv = *fresh

		if err := tx.UpdateInvestment(ctx, fresh); err != nil {
			return err
		}
		if refund.IsZero() {
			return nil
		}
		if err := tx.ApplyBalanceDelta(ctx, fresh.UserID, core.BalanceDelta{Wallet: refund}); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, &core.LedgerEntry{
			ID:           core.EntryID(uuid.NewString()),
			UserID:       fresh.UserID,
			InvestmentID: &fresh.ID,
			OccurredAt:   now,
			Amount:       refund,
			Type:         core.EntryDeposit,
			Description:  "Refund from cancelled investment",
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	return inv, refund, nil
}

// RefundAmount computes the cancellation refund at the given instant,
// rounded to cents.
func RefundAmount(inv *core.Investment, now time.Time) decimal.Decimal {
	duration := inv.Details.DurationDays
	daysRemaining := duration - core.DaysSince(inv.StartDate, now)
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	if daysRemaining > duration {
		daysRemaining = duration
	}
	return inv.Amount.
		Mul(decimal.NewFromInt(int64(daysRemaining))).
		Div(decimal.NewFromInt(int64(duration * 2))).
		Round(2)
}

// =============================================================================
// DAILY ACCRUAL
// =============================================================================

// AccrueOneDay credits one day of simple, non-compounding ROI: always
// computed off the principal, never off accrued totals. It is
// idempotent per UTC calendar day and transitions the investment to
// completed once the term has elapsed; the check runs after crediting,
// so the final day's ROI is still paid.
func (s *Service) AccrueOneDay(ctx context.Context, inv *core.Investment, now time.Time) (bool, decimal.Decimal, error) {
	if inv.Terminal() {
		return false, decimal.Zero, nil
	}
	if inv.LastROICalculation != nil && core.SameDayUTC(*inv.LastROICalculation, now) {
		return false, decimal.Zero, nil
	}

	credited := false
	var daily decimal.Decimal

	err := s.Store.WithTx(ctx, func(tx core.Store) error {
		// Re-read inside the transaction: the caller's copy may be stale
		// if a cancellation committed after it was listed. Writing that
		// copy back would resurrect a cancelled investment.
		fresh, err := tx.GetInvestment(ctx, inv.ID)
		if err != nil {
			return err
		}
		if fresh.Terminal() {
			return nil
		}
		if fresh.LastROICalculation != nil && core.SameDayUTC(*fresh.LastROICalculation, now) {
			return nil
		}

		daily = fresh.Amount.Mul(fresh.Details.DailyRate)

		fresh.TotalEarned = fresh.TotalEarned.Add(daily)
		last := now
		fresh.LastROICalculation = &last
		fresh.UpdatedAt = now
		if core.DaysSince(fresh.StartDate, now) >= fresh.Details.DurationDays {
			fresh.Status = core.InvestmentCompleted
			fresh.IsActive = false
		}
		*inv = *fresh

		if err := tx.ApplyBalanceDelta(ctx, fresh.UserID, core.BalanceDelta{
			Wallet:        daily,
			TotalEarnings: daily,
			TotalROI:      daily,
		}); err != nil {
			return err
		}
		if err := tx.UpdateInvestment(ctx, fresh); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &core.LedgerEntry{
			ID:           core.EntryID(uuid.NewString()),
			UserID:       fresh.UserID,
			InvestmentID: &fresh.ID,
			OccurredAt:   now,
			Amount:       daily,
			Type:         core.EntryROI,
			Description:  fmt.Sprintf("Daily ROI from %s plan investment", fresh.Plan),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, decimal.Zero, err
	}
	if !credited {
		return false, decimal.Zero, nil
	}

	return true, daily, nil
}
