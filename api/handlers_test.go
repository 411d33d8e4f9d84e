/*
handlers_test.go - HTTP-level tests for the API surface

Tests for:
- Registration, login, and token-protected routes
- Investment creation and cancellation over HTTP
- Dashboard and referral endpoints
- Admin accrual trigger, including the busy (409) path
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/invest"
	"github.com/stakeline/invest-engine/referral"
	"github.com/stakeline/invest-engine/sched"
	"github.com/stakeline/invest-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler *Handler
	router  http.Handler
	store   *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	distributor := referral.NewDistributor(store)
	lifecycle := invest.NewService(store, distributor)
	sweeper := sched.NewSweeper(store, lifecycle, nil)

	h := NewHandler(store, lifecycle, distributor, sweeper, "test-secret", "http://app.test")
	return &testServer{
		handler: h,
		router:  NewRouter(h, []string{"http://app.test"}),
		store:   store,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

// register creates an account and returns the auth payload.
func (ts *testServer) register(t *testing.T, name, email, refCode string) AuthResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", RegisterRequest{
		Name:         name,
		Email:        email,
		Password:     "secret123",
		ReferralCode: refCode,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	return decodeAs[AuthResponse](t, rec)
}

// fund credits the user's wallet directly through the store.
func (ts *testServer) fund(t *testing.T, userID string, amount string) {
	t.Helper()
	amt, err := decimal.NewFromString(amount)
	require.NoError(t, err)
	require.NoError(t, ts.store.ApplyBalanceDelta(context.Background(),
		core.UserID(userID), core.BalanceDelta{Wallet: amt}))
}

// =============================================================================
// AUTH TESTS
// =============================================================================

func TestAuth_RegisterLoginMe(t *testing.T) {
	// GIVEN: A fresh account
	// WHEN: Registering, logging in, and fetching the profile
	// THEN: Each step succeeds and the profile matches

	ts := newTestServer(t)

	reg := ts.register(t, "Alice", "alice@example.com", "")
	assert.NotEmpty(t, reg.Token)
	assert.NotEmpty(t, reg.User.ReferralCode)
	assert.Equal(t, "0.00", reg.User.WalletBalance)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email: "alice@example.com", Password: "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeAs[AuthResponse](t, rec)

	rec = ts.do(t, http.MethodGet, "/api/auth/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeAs[UserDTO](t, rec)
	assert.Equal(t, reg.User.ID, me.ID)
	assert.Equal(t, "Alice", me.Name)
}

func TestAuth_DuplicateEmail_Conflict(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "Alice", "alice@example.com", "")

	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", RegisterRequest{
		Name: "Impostor", Email: "alice@example.com", Password: "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuth_WrongPassword_Unauthorized(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "Alice", "alice@example.com", "")

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email: "alice@example.com", Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ReferralCodeLinksReferrer(t *testing.T) {
	// GIVEN: Alice's referral code
	// WHEN: Bob registers with it
	// THEN: Bob's account is permanently linked to Alice

	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	bob := ts.register(t, "Bob", "bob@example.com", alice.User.ReferralCode)

	assert.Equal(t, alice.User.ID, bob.User.ReferredBy)
}

func TestAuth_UnknownReferralCode_Rejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", RegisterRequest{
		Name: "Bob", Email: "bob@example.com", Password: "secret123", ReferralCode: "NOPE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/dashboard/data",
		"/api/investments/my",
		"/api/referrals/tree",
	} {
		rec := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

// =============================================================================
// INVESTMENT TESTS
// =============================================================================

func TestInvestments_CreateListCancel(t *testing.T) {
	// GIVEN: A funded account
	// WHEN: Creating, listing, and cancelling an investment over HTTP
	// THEN: Each step round-trips, and a same-day cancel refunds half

	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	ts.fund(t, alice.User.ID, "1000")

	rec := ts.do(t, http.MethodPost, "/api/investments", alice.Token, CreateInvestmentRequest{
		Amount: "500", Plan: "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	created := decodeAs[InvestmentDTO](t, rec)
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "0.02", created.DailyRate)
	assert.Equal(t, 30, created.Duration)

	rec = ts.do(t, http.MethodGet, "/api/investments/my", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeAs[map[string][]InvestmentDTO](t, rec)
	require.Len(t, listed["investments"], 1)

	rec = ts.do(t, http.MethodPut, "/api/investments/cancel/"+created.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	cancelled := decodeAs[CancelInvestmentResponse](t, rec)
	assert.Equal(t, "cancelled", cancelled.Investment.Status)
	assert.Equal(t, "250.00", cancelled.Refund)
}

func TestInvestments_InsufficientFunds_BadRequest(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	ts.fund(t, alice.User.ID, "100")

	rec := ts.do(t, http.MethodPost, "/api/investments", alice.Token, CreateInvestmentRequest{
		Amount: "500", Plan: "basic",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvestments_CancelForeignInvestment_Unauthorized(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	bob := ts.register(t, "Bob", "bob@example.com", "")
	ts.fund(t, alice.User.ID, "1000")

	rec := ts.do(t, http.MethodPost, "/api/investments", alice.Token, CreateInvestmentRequest{
		Amount: "500", Plan: "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeAs[InvestmentDTO](t, rec)

	rec = ts.do(t, http.MethodPut, "/api/investments/cancel/"+created.ID, bob.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvestments_AllRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")

	rec := ts.do(t, http.MethodGet, "/api/investments/all", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// DASHBOARD TESTS
// =============================================================================

func TestDashboard_DataAndHistory(t *testing.T) {
	// GIVEN: An account with one active investment
	// WHEN: Fetching dashboard data and deposit-filtered history
	// THEN: Projections and ledger entries line up

	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	ts.fund(t, alice.User.ID, "1000")

	rec := ts.do(t, http.MethodPost, "/api/investments", alice.Token, CreateInvestmentRequest{
		Amount: "1000", Plan: "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/dashboard/data", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decodeAs[DashboardDTO](t, rec)
	assert.Equal(t, "0.00", dash.User.WalletBalance)
	require.Len(t, dash.ActiveInvestments, 1)
	assert.Equal(t, "20.00", dash.ExpectedDailyROI)
	require.Len(t, dash.RecentEntries, 1)
	assert.Equal(t, "deposit", dash.RecentEntries[0].Type)

	rec = ts.do(t, http.MethodGet, "/api/dashboard/history?type=deposit&limit=10", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decodeAs[HistoryResponse](t, rec)
	assert.Equal(t, 1, hist.Total)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, "-1000.00", hist.Entries[0].Amount)

	rec = ts.do(t, http.MethodGet, "/api/dashboard/history?type=roi", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decodeAs[HistoryResponse](t, rec)
	assert.Zero(t, empty.Total)
}

func TestDashboard_EarningsSummary(t *testing.T) {
	// GIVEN: ROI and commission entries today and yesterday, plus a
	//        deposit and an entry a year old
	// WHEN: Fetching the earnings summary for the week window
	// THEN: Earnings group per day and split by source; the deposit and
	//       the old entry are excluded

	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	ctx := context.Background()

	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	entries := []struct {
		id     string
		at     time.Time
		amount string
		typ    core.EntryType
	}{
		{"e-1", yesterday, "20", core.EntryROI},
		{"e-2", now, "20", core.EntryROI},
		{"e-3", now, "5.50", core.EntryLevelIncome},
		{"e-4", now, "-1000", core.EntryDeposit},
		{"e-5", now.AddDate(-1, 0, 0), "99", core.EntryROI},
	}
	for _, e := range entries {
		require.NoError(t, ts.store.AppendEntry(ctx, &core.LedgerEntry{
			ID:          core.EntryID(e.id),
			UserID:      core.UserID(alice.User.ID),
			OccurredAt:  e.at,
			Amount:      decimal.RequireFromString(e.amount),
			Type:        e.typ,
			Description: "entry",
			CreatedAt:   e.at,
		}))
	}

	rec := ts.do(t, http.MethodGet, "/api/dashboard/earnings-summary?period=week", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeAs[EarningsSummaryDTO](t, rec)

	assert.Equal(t, "week", summary.Period)
	require.Len(t, summary.Days, 2)
	assert.Equal(t, yesterday.Format("2006-01-02"), summary.Days[0].Date)
	assert.Equal(t, "20.00", summary.Days[0].ROI)
	assert.Equal(t, now.Format("2006-01-02"), summary.Days[1].Date)
	assert.Equal(t, "20.00", summary.Days[1].ROI)
	assert.Equal(t, "5.50", summary.Days[1].LevelIncome)
	assert.Equal(t, "25.50", summary.Days[1].Total)
	assert.Equal(t, "40.00", summary.TotalROI)
	assert.Equal(t, "5.50", summary.TotalLevelIncome)
	assert.Equal(t, "45.50", summary.Total)

	rec = ts.do(t, http.MethodGet, "/api/dashboard/earnings-summary?period=decade", alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REFERRAL TESTS
// =============================================================================

func TestReferrals_LinkTreeStats(t *testing.T) {
	// GIVEN: Alice referred Bob, Alice holds an active plan, Bob invests
	// WHEN: Alice checks her referral endpoints
	// THEN: Link carries her code, the tree shows Bob, stats show the
	//       level-1 commission

	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	bob := ts.register(t, "Bob", "bob@example.com", alice.User.ReferralCode)
	ts.fund(t, alice.User.ID, "1000")
	ts.fund(t, bob.User.ID, "1000")

	rec := ts.do(t, http.MethodPost, "/api/investments", alice.Token, CreateInvestmentRequest{
		Amount: "100", Plan: "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/investments", bob.Token, CreateInvestmentRequest{
		Amount: "1000", Plan: "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/referrals/link", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	link := decodeAs[ReferralLinkDTO](t, rec)
	assert.Equal(t, alice.User.ReferralCode, link.ReferralCode)
	assert.Equal(t, "http://app.test/register?ref="+alice.User.ReferralCode, link.Link)

	rec = ts.do(t, http.MethodGet, "/api/referrals/tree", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decodeAs[TreeNodeDTO](t, rec)
	require.Len(t, tree.Referrals, 1)
	assert.Equal(t, bob.User.ID, tree.Referrals[0].ID)
	assert.Equal(t, 1, tree.Referrals[0].Level)

	rec = ts.do(t, http.MethodGet, "/api/referrals/stats", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeAs[ReferralStatsDTO](t, rec)
	assert.Equal(t, 1, stats.DirectReferrals)
	assert.Equal(t, "50.00", stats.TotalEarnings, "basic level-1 rate on Bob's 1000")
}

// =============================================================================
// ADMIN TESTS
// =============================================================================

// seedAdmin creates an admin account directly in the store and logs in.
func (ts *testServer) seedAdmin(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-secret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, ts.store.CreateUser(context.Background(), &core.User{
		ID:            "admin-1",
		Name:          "Admin",
		Email:         "admin@example.com",
		PasswordHash:  string(hash),
		ReferralCode:  "ADMIN001",
		WalletBalance: decimal.Zero,
		TotalEarnings: decimal.Zero,
		LevelIncome:   decimal.Zero,
		TotalROI:      decimal.Zero,
		Role:          core.RoleAdmin,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email: "admin@example.com", Password: "admin-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeAs[AuthResponse](t, rec).Token
}

func TestAdmin_AccrualRun(t *testing.T) {
	// GIVEN: An admin and a funded investment
	// WHEN: Triggering the accrual sweep
	// THEN: The sweep reports its work; non-admins are rejected

	ts := newTestServer(t)
	adminToken := ts.seedAdmin(t)
	alice := ts.register(t, "Alice", "alice@example.com", "")
	ts.fund(t, alice.User.ID, "1000")

	rec := ts.do(t, http.MethodPost, "/api/investments", alice.Token, CreateInvestmentRequest{
		Amount: "1000", Plan: "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/accrual/run", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/accrual/run", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	result := decodeAs[SweepResultDTO](t, rec)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "20.00", result.TotalROI)
}

func TestAdmin_AccrualRun_BusyConflict(t *testing.T) {
	// GIVEN: A sweep currently holding the lock
	// WHEN: Triggering another
	// THEN: 409 Conflict

	ts := newTestServer(t)
	adminToken := ts.seedAdmin(t)

	release, ok, err := ts.handler.Sweeper.Lock.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	rec := ts.do(t, http.MethodPost, "/api/admin/accrual/run", adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthAndPlans_Public(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeAs[map[string]json.RawMessage](t, rec)
	assert.Contains(t, body, "plans")
}
