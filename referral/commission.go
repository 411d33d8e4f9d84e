/*
Package referral implements multi-level commission propagation.

PURPOSE:
  When a user invests, their referrer chain is walked up to
  core.MaxCommissionLevels. Each referrer with at least one active
  investment is paid a percentage of the new principal, read from the
  commission table of that referrer's own highest-ranked plan. A
  referrer without active investments passes through: the level counter
  still advances, but nothing is paid at that level.

BEST-EFFORT CASCADE:
  Each level commits independently. A failure at level k (for example a
  referrer record that vanished) halts levels k+1.. but never rolls
  back already-paid levels and never fails the originating investment.
  This asymmetry is deliberate: investment creation must not fail
  because of an unrelated downstream commission problem.

REFERRAL EDGES:
  Every paid level upserts a ReferralEdge for (referrer, origin user).
  The edge's level field records the chain distance between the two,
  set once when the edge is first created.

SEE ALSO:
  - invest/lifecycle.go: Triggers Distribute after creation commits
  - report.go: Referral tree and per-level earnings reporting
*/
package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/plan"
)

var oneHundred = decimal.NewFromInt(100)

// Distributor walks referral chains and credits level commissions.
type Distributor struct {
	Store core.TxStore

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

func NewDistributor(store core.TxStore) *Distributor {
	return &Distributor{Store: store, Now: time.Now}
}

func (d *Distributor) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Distribute pays level commissions for a new investment of principal
// by originUserID. The returned error reports where the cascade halted;
// levels already paid stay paid.
func (d *Distributor) Distribute(ctx context.Context, originUserID core.UserID, principal decimal.Decimal) error {
	origin, err := d.Store.GetUser(ctx, originUserID)
	if err != nil {
		return fmt.Errorf("load origin user: %w", err)
	}

	current := origin
	for level := 1; level <= core.MaxCommissionLevels; level++ {
		if current.ReferredBy == nil {
			break // chain exhausted
		}

		referrer, err := d.Store.GetUser(ctx, *current.ReferredBy)
		if err != nil {
			return fmt.Errorf("level %d: load referrer: %w", level, err)
		}

		active, err := d.Store.ListActiveInvestmentsByUser(ctx, referrer.ID)
		if err != nil {
			return fmt.Errorf("level %d: list investments: %w", level, err)
		}

		funding := plan.HighestRanked(active)
		if funding == nil {
			// Inactive referrer passes through without consuming the level's
			// payout, but the level counter still advances.
			current = referrer
			continue
		}

		pct := funding.Details.CommissionFor(level)
		if pct.IsPositive() {
			commission := principal.Mul(pct).Div(oneHundred).Round(2)
			if err := d.payLevel(ctx, referrer.ID, origin, level, principal, commission); err != nil {
				return fmt.Errorf("level %d: %w", level, err)
			}
		}

		current = referrer
	}
	return nil
}

// payLevel commits one level's credit as its own transaction.
func (d *Distributor) payLevel(ctx context.Context, referrerID core.UserID, origin *core.User, level int, principal, commission decimal.Decimal) error {
	now := d.now()
	return d.Store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.ApplyBalanceDelta(ctx, referrerID, core.BalanceDelta{
			Wallet:        commission,
			TotalEarnings: commission,
			LevelIncome:   commission,
		}); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &core.LedgerEntry{
			ID:           core.EntryID(uuid.NewString()),
			UserID:       referrerID,
			OccurredAt:   now,
			Amount:       commission,
			Type:         core.EntryLevelIncome,
			Description:  fmt.Sprintf("Level %d commission from %s", level, origin.Name),
			Level:        level,
			ReferredUser: &origin.ID,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		return tx.UpsertReferralEdge(ctx, referrerID, origin.ID, level, principal, commission, now)
	})
}

// =============================================================================
// CYCLE GUARD
// =============================================================================

// ValidateReferrer walks the proposed referrer's ancestor chain up to
// the commission depth and rejects the link if the candidate is already
// an ancestor (or the referrer itself), which would make the graph
// cyclic. Applied when a referral code is claimed at registration and
// on any later re-parenting.
func ValidateReferrer(ctx context.Context, store core.Store, candidateID, referrerID core.UserID) error {
	ancestor := referrerID
	for level := 0; level <= core.MaxCommissionLevels; level++ {
		if ancestor == candidateID {
			return core.ErrReferralCycle
		}
		u, err := store.GetUser(ctx, ancestor)
		if err != nil {
			return err
		}
		if u.ReferredBy == nil {
			return nil
		}
		ancestor = *u.ReferredBy
	}
	return nil
}
