package invest_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/invest"
	"github.com/stakeline/invest-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testStart = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*invest.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := invest.NewService(store, nil)
	svc.Now = func() time.Time { return testStart }
	return svc, store
}

func seedUser(t *testing.T, store *sqlite.Store, id, balance string) *core.User {
	t.Helper()
	u := &core.User{
		ID:            core.UserID(id),
		Name:          "User " + id,
		Email:         id + "@example.com",
		PasswordHash:  "hash",
		ReferralCode:  "CODE-" + id,
		WalletBalance: dec(balance),
		TotalEarnings: decimal.Zero,
		LevelIncome:   decimal.Zero,
		TotalROI:      decimal.Zero,
		Role:          core.RoleUser,
		IsActive:      true,
		CreatedAt:     testStart,
		UpdatedAt:     testStart,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestCreate_DebitsWalletAndSnapshotsPlan(t *testing.T) {
	// GIVEN: A user with wallet 2000
	// WHEN: Investing 1000 into the basic plan
	// THEN: Wallet drops to 1000, the plan terms are snapshotted, and a
	//       negative deposit entry records the outflow

	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "u-1", "2000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)

	assert.Equal(t, core.InvestmentActive, inv.Status)
	assert.True(t, inv.IsActive)
	assert.True(t, inv.Details.DailyRate.Equal(dec("0.02")))
	assert.Equal(t, 30, inv.Details.DurationDays)
	assert.True(t, inv.EndDate.Equal(testStart.AddDate(0, 0, 30)))

	user, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.WalletBalance.Equal(dec("1000")))

	entries, err := store.ListEntries(ctx, "u-1", core.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.EntryDeposit, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(dec("-1000")))
	assert.Equal(t, "Investment in basic plan", entries[0].Description)
	require.NotNil(t, entries[0].InvestmentID)
	assert.Equal(t, inv.ID, *entries[0].InvestmentID)
}

func TestCreate_BelowMinimum_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	seedUser(t, store, "u-1", "2000")

	_, err := svc.Create(context.Background(), "u-1", dec("9.99"), "basic")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestCreate_UnknownPlan_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	seedUser(t, store, "u-1", "2000")

	_, err := svc.Create(context.Background(), "u-1", dec("100"), "platinum")
	assert.ErrorIs(t, err, core.ErrInvalidPlan)
}

func TestCreate_InsufficientFunds_NothingPersisted(t *testing.T) {
	// GIVEN: Wallet 100
	// WHEN: Investing 500
	// THEN: InsufficientFundsError with the shortfall, and no investment
	//       or ledger entry exists

	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "u-1", "100")

	_, err := svc.Create(ctx, "u-1", dec("500"), "basic")
	require.ErrorIs(t, err, core.ErrInsufficientFunds)

	var ife *core.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, ife.Available.Equal(dec("100")))
	assert.True(t, ife.Requested.Equal(dec("500")))

	invs, err := store.ListInvestmentsByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, invs)

	count, err := store.CountEntries(ctx, "u-1", core.EntryFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

// =============================================================================
// CANCEL TESTS
// =============================================================================

func TestCancel_MidTerm_ProratedRefund(t *testing.T) {
	// GIVEN: 1000 in the basic plan (30 days), cancelled on day 10
	// WHEN: 20 days remain
	// THEN: Refund is 1000 × 20 / 60 = 333.33, credited and ledgered

	svc, store := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)

	svc.Now = func() time.Time { return testStart.AddDate(0, 0, 10) }
	cancelled, refund, err := svc.Cancel(ctx, inv.ID, user)
	require.NoError(t, err)

	assert.True(t, refund.Equal(dec("333.33")), "got %s", refund)
	assert.Equal(t, core.InvestmentCancelled, cancelled.Status)
	assert.False(t, cancelled.IsActive)

	got, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, got.WalletBalance.Equal(dec("333.33")))

	refunds, err := store.ListEntries(ctx, "u-1", core.EntryFilter{Types: []core.EntryType{core.EntryDeposit}})
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, "Refund from cancelled investment", refunds[0].Description)
	assert.True(t, refunds[0].Amount.Equal(dec("333.33")))
}

func TestCancel_PastTerm_RefundsNothing(t *testing.T) {
	// GIVEN: A 30-day investment still active 40 days in
	// WHEN: Cancelling
	// THEN: Refund is zero, never negative, and no refund entry is written

	svc, store := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)

	svc.Now = func() time.Time { return testStart.AddDate(0, 0, 40) }
	_, refund, err := svc.Cancel(ctx, inv.ID, user)
	require.NoError(t, err)
	assert.True(t, refund.IsZero())

	got, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, got.WalletBalance.IsZero(), "no post-term debit either")

	count, err := store.CountEntries(ctx, "u-1", core.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the original deposit entry")
}

func TestCancel_NotOwner_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "owner", "1000")
	other := seedUser(t, store, "other", "0")

	inv, err := svc.Create(ctx, "owner", dec("500"), "basic")
	require.NoError(t, err)

	_, _, err = svc.Cancel(ctx, inv.ID, other)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestCancel_AdminMayCancelAnyInvestment(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "owner", "1000")
	admin := seedUser(t, store, "admin", "0")
	admin.Role = core.RoleAdmin

	inv, err := svc.Create(ctx, "owner", dec("500"), "basic")
	require.NoError(t, err)

	cancelled, refund, err := svc.Cancel(ctx, inv.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, core.InvestmentCancelled, cancelled.Status)

	// Day zero: full daysRemaining, so half the principal comes back,
	// to the owner's wallet, not the admin's.
	assert.True(t, refund.Equal(dec("250.00")), "got %s", refund)
	owner, err := store.GetUser(ctx, "owner")
	require.NoError(t, err)
	assert.True(t, owner.WalletBalance.Equal(dec("750.00")))
}

func TestCancel_Terminal_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("500"), "basic")
	require.NoError(t, err)

	_, _, err = svc.Cancel(ctx, inv.ID, user)
	require.NoError(t, err)

	_, _, err = svc.Cancel(ctx, inv.ID, user)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRefundAmount_ClampsDaysRemaining(t *testing.T) {
	inv := &core.Investment{
		Amount:    dec("1000"),
		StartDate: testStart,
		Details:   core.PlanSnapshot{DurationDays: 30},
	}

	// Before start (clock skew): clamp to full duration, half the principal.
	early := invest.RefundAmount(inv, testStart.AddDate(0, 0, -3))
	assert.True(t, early.Equal(dec("500.00")), "got %s", early)

	// After term: clamp to zero.
	late := invest.RefundAmount(inv, testStart.AddDate(0, 0, 45))
	assert.True(t, late.IsZero())
}

// =============================================================================
// DAILY ACCRUAL TESTS
// =============================================================================

func TestAccrueOneDay_CreditsPrincipalBasedROI(t *testing.T) {
	// GIVEN: 1000 in the basic plan (2% daily)
	// WHEN: Accruing on day 1
	// THEN: 20 is credited to wallet, earnings, and ROI totals, with a
	//       ledger entry; the principal never compounds

	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)

	day1 := testStart.AddDate(0, 0, 1)
	credited, amount, err := svc.AccrueOneDay(ctx, inv, day1)
	require.NoError(t, err)
	assert.True(t, credited)
	assert.True(t, amount.Equal(dec("20")))

	user, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.WalletBalance.Equal(dec("20")))
	assert.True(t, user.TotalEarnings.Equal(dec("20")))
	assert.True(t, user.TotalROI.Equal(dec("20")))
	assert.True(t, user.LevelIncome.IsZero())

	stored, err := store.GetInvestment(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalEarned.Equal(dec("20")))
	require.NotNil(t, stored.LastROICalculation)

	// Day 2 accrues off the principal again, not principal+earned.
	day2 := testStart.AddDate(0, 0, 2)
	credited, amount, err = svc.AccrueOneDay(ctx, stored, day2)
	require.NoError(t, err)
	assert.True(t, credited)
	assert.True(t, amount.Equal(dec("20")), "simple interest, no compounding")
}

func TestAccrueOneDay_IdempotentPerCalendarDay(t *testing.T) {
	// GIVEN: An investment already credited today
	// WHEN: Accruing again the same UTC day
	// THEN: Nothing changes

	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)

	morning := testStart.AddDate(0, 0, 1)
	evening := morning.Add(20 * time.Hour)

	credited, _, err := svc.AccrueOneDay(ctx, inv, morning)
	require.NoError(t, err)
	require.True(t, credited)

	credited, amount, err := svc.AccrueOneDay(ctx, inv, evening)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.True(t, amount.IsZero())

	user, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.WalletBalance.Equal(dec("20")), "no double credit")
}

func TestAccrueOneDay_CompletesAtTermWithFinalPayment(t *testing.T) {
	// GIVEN: A 30-day investment on its final day
	// WHEN: Accruing at day 30
	// THEN: The final day's ROI is still paid, then the investment
	//       transitions to completed

	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)

	day30 := testStart.AddDate(0, 0, 30)
	credited, amount, err := svc.AccrueOneDay(ctx, inv, day30)
	require.NoError(t, err)
	assert.True(t, credited)
	assert.True(t, amount.Equal(dec("20")))

	stored, err := store.GetInvestment(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvestmentCompleted, stored.Status)
	assert.False(t, stored.IsActive)

	// Terminal investments never accrue again.
	credited, _, err = svc.AccrueOneDay(ctx, stored, day30.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, credited)
}

func TestAccrueOneDay_StaleCopyOfCancelledInvestment_NotCredited(t *testing.T) {
	// GIVEN: An accrual holding a copy fetched while the investment was
	//        still active, and a cancellation that committed afterwards
	// WHEN: Accruing with that stale copy
	// THEN: Nothing is credited and the investment stays cancelled; the
	//       stale copy must not be written back over the cancelled row

	svc, store := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)
	stale := *inv

	_, refund, err := svc.Cancel(ctx, inv.ID, user)
	require.NoError(t, err)
	require.True(t, refund.Equal(dec("500.00")))

	day1 := testStart.AddDate(0, 0, 1)
	credited, amount, err := svc.AccrueOneDay(ctx, &stale, day1)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.True(t, amount.IsZero())

	stored, err := store.GetInvestment(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvestmentCancelled, stored.Status)
	assert.False(t, stored.IsActive)
	assert.True(t, stored.TotalEarned.IsZero())

	after, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, after.WalletBalance.Equal(dec("500.00")), "refund only, no ROI")
	assert.True(t, after.TotalROI.IsZero())
}

func TestAccrueOneDay_StaleCopySameDay_NoDoubleCredit(t *testing.T) {
	// GIVEN: Two copies of the same investment, the second fetched before
	//        the first one's accrual committed
	// WHEN: Both accrue on the same UTC day
	// THEN: Only the first credits; the second sees the committed row's
	//       lastROICalculation and skips

	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "u-1", "1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)
	stale := *inv

	day1 := testStart.AddDate(0, 0, 1)
	credited, _, err := svc.AccrueOneDay(ctx, inv, day1)
	require.NoError(t, err)
	require.True(t, credited)

	credited, amount, err := svc.AccrueOneDay(ctx, &stale, day1)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.True(t, amount.IsZero())

	user, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.WalletBalance.Equal(dec("20")), "credited once")
}

// =============================================================================
// ACCOUNTING IDENTITY
// =============================================================================

func TestLedger_ReconcilesWithWallet(t *testing.T) {
	// GIVEN: A full lifecycle: invest, two accruals, cancel
	// WHEN: Summing the user's ledger entries
	// THEN: The sum equals the wallet delta since account creation

	svc, store := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", "1000")
	openingBalance := dec("1000")

	inv, err := svc.Create(ctx, "u-1", dec("1000"), "basic")
	require.NoError(t, err)

	_, _, err = svc.AccrueOneDay(ctx, inv, testStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	_, _, err = svc.AccrueOneDay(ctx, inv, testStart.AddDate(0, 0, 2))
	require.NoError(t, err)

	svc.Now = func() time.Time { return testStart.AddDate(0, 0, 10) }
	_, _, err = svc.Cancel(ctx, inv.ID, user)
	require.NoError(t, err)

	sum, err := store.SumEntries(ctx, "u-1")
	require.NoError(t, err)

	final, err := store.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(final.WalletBalance.Sub(openingBalance)),
		"ledger sum %s vs wallet delta %s", sum, final.WalletBalance.Sub(openingBalance))
}
