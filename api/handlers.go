/*
handlers.go - HTTP API handlers for the investment platform

PURPOSE:
  Exposes the investment engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/register          Create account (optional referral code)
    POST   /api/auth/login             Issue access token
    GET    /api/auth/me                Authenticated user profile

  Investments:
    POST   /api/investments            Create investment
    GET    /api/investments/my         Caller's investments
    GET    /api/investments/all        All investments (admin)
    PUT    /api/investments/cancel/{id} Cancel with prorated refund

  Dashboard:
    GET    /api/dashboard/data         Wallet, totals, active investments
    GET    /api/dashboard/history      Ledger history, filterable, paginated

  Referrals:
    GET    /api/referrals/tree         Downline tree to commission depth
    GET    /api/referrals/stats        Per-level commission totals
    GET    /api/referrals/link         Shareable signup link

  Admin:
    POST   /api/admin/accrual/run      Trigger the daily accrual sweep

  Plans:
    GET    /api/plans                  Plan catalog

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, insufficient funds
  - 401: Missing/invalid token, ownership violations
  - 404: Resource not found
  - 409: Duplicate email, sweep already running
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Registration, login, token middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/invest"
	"github.com/stakeline/invest-engine/plan"
	"github.com/stakeline/invest-engine/referral"
	"github.com/stakeline/invest-engine/sched"
)

const (
	timeFormat = time.RFC3339
	dateFormat = "2006-01-02"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    core.TxStore
	Invest   *invest.Service
	Referral *referral.Distributor
	Sweeper  *sched.Sweeper

	JWTSecret []byte

	// AppURL is the public frontend base used for referral links.
	AppURL string
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store core.TxStore, inv *invest.Service, ref *referral.Distributor, sweeper *sched.Sweeper, jwtSecret, appURL string) *Handler {
	return &Handler{
		Store:     store,
		Invest:    inv,
		Referral:  ref,
		Sweeper:   sweeper,
		JWTSecret: []byte(jwtSecret),
		AppURL:    appURL,
	}
}

// =============================================================================
// INVESTMENT HANDLERS
// =============================================================================

// CreateInvestment opens a new investment from the caller's wallet.
func (h *Handler) CreateInvestment(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req CreateInvestmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	created, err := h.Invest.Create(r.Context(), user.ID, amount, core.PlanID(req.Plan))
	if err != nil {
		writeDomainError(w, "Failed to create investment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvestmentDTO(created))
}

// MyInvestments returns all of the caller's investments, newest first.
func (h *Handler) MyInvestments(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	invs, err := h.Store.ListInvestmentsByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list investments", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"investments": toInvestmentDTOs(invs)})
}

// AllInvestments returns every investment in the system. Admin only.
func (h *Handler) AllInvestments(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Store.ListAllInvestments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list investments", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"investments": toInvestmentDTOs(invs)})
}

// CancelInvestment cancels an active investment and refunds a prorated
// portion of the principal.
func (h *Handler) CancelInvestment(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id := core.InvestmentID(chi.URLParam(r, "id"))

	cancelled, refund, err := h.Invest.Cancel(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, "Failed to cancel investment", err)
		return
	}

	writeJSON(w, http.StatusOK, CancelInvestmentResponse{
		Investment: toInvestmentDTO(cancelled),
		Refund:     refund.StringFixed(2),
	})
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// DashboardData aggregates the caller's wallet, totals, active
// investments, projected daily ROI, and recent ledger activity.
func (h *Handler) DashboardData(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	ctx := r.Context()

	active, err := h.Store.ListActiveInvestmentsByUser(ctx, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load investments", err)
		return
	}

	recent, err := h.Store.ListEntries(ctx, user.ID, core.EntryFilter{Limit: 10})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ledger entries", err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardDTO{
		User:              toUserDTO(user),
		ActiveInvestments: toInvestmentDTOs(active),
		ExpectedDailyROI:  sumExpectedDailyROI(active).StringFixed(2),
		RecentEntries:     toEntryDTOs(recent),
	})
}

// DashboardHistory returns the caller's ledger history, filterable by
// entry type and date range, paginated.
func (h *Handler) DashboardHistory(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	ctx := r.Context()
	q := r.URL.Query()

	filter := core.EntryFilter{}
	if raw := q.Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, core.EntryType(strings.TrimSpace(t)))
		}
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(dateFormat, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date, expected YYYY-MM-DD", err)
			return
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(dateFormat, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date, expected YYYY-MM-DD", err)
			return
		}
		// Inclusive end of day.
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}

	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), 20)
	if limit > 100 {
		limit = 100
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	entries, err := h.Store.ListEntries(ctx, user.ID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load ledger entries", err)
		return
	}
	total, err := h.Store.CountEntries(ctx, user.ID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count ledger entries", err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Entries: toEntryDTOs(entries),
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

// EarningsSummary groups the caller's roi and level_income entries per
// UTC day over a trailing window selected by ?period=day|week|month|year
// (default month).
func (h *Handler) EarningsSummary(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	ctx := r.Context()

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "month"
	}
	var days int
	switch period {
	case "day":
		days = 1
	case "week":
		days = 7
	case "month":
		days = 30
	case "year":
		days = 365
	default:
		writeError(w, http.StatusBadRequest, "Invalid period, expected day, week, month or year", nil)
		return
	}

	today := core.StartOfDayUTC(time.Now().UTC())
	from := today.AddDate(0, 0, -(days - 1))
	to := today.AddDate(0, 0, 1)

	earnings, err := h.Store.SumEarningsByDay(ctx, user.ID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate earnings", err)
		return
	}

	writeJSON(w, http.StatusOK, toEarningsSummaryDTO(period, from, today, earnings))
}

// =============================================================================
// REFERRAL HANDLERS
// =============================================================================

// ReferralTree returns the caller's downline to the commission depth.
func (h *Handler) ReferralTree(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	tree, err := h.Referral.Tree(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build referral tree", err)
		return
	}

	writeJSON(w, http.StatusOK, toTreeDTO(tree))
}

// ReferralStats returns per-level commission totals for the caller.
func (h *Handler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	stats, err := h.Referral.Stats(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load referral stats", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// ReferralLink returns the caller's shareable signup link.
func (h *Handler) ReferralLink(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	writeJSON(w, http.StatusOK, ReferralLinkDTO{
		ReferralCode: user.ReferralCode,
		Link:         fmt.Sprintf("%s/register?ref=%s", strings.TrimRight(h.AppURL, "/"), user.ReferralCode),
	})
}

// =============================================================================
// PLAN AND ADMIN HANDLERS
// =============================================================================

// ListPlans returns the plan catalog.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	type planDTO struct {
		ID            string            `json:"id"`
		DailyRate     string            `json:"daily_rate"`
		DurationDays  int               `json:"duration_days"`
		LevelPayouts  map[string]string `json:"level_payouts"`
		MinInvestment string            `json:"min_investment"`
	}

	plans := plan.All()
	dtos := make([]planDTO, 0, len(plans))
	for _, p := range plans {
		payouts := make(map[string]string, len(p.LevelCommissions))
		for _, lc := range p.LevelCommissions {
			payouts[strconv.Itoa(lc.Level)] = lc.Percentage.String()
		}
		dtos = append(dtos, planDTO{
			ID:            string(p.ID),
			DailyRate:     p.DailyRate.String(),
			DurationDays:  p.DurationDays,
			LevelPayouts:  payouts,
			MinInvestment: plan.MinimumInvestment.StringFixed(2),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"plans": dtos})
}

// TriggerAccrual runs the daily accrual sweep on demand. Returns 409 if
// a sweep is already running.
func (h *Handler) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	result, err := h.Sweeper.RunNow(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to run accrual sweep", err)
		return
	}

	writeJSON(w, http.StatusOK, toSweepDTO(result))
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(timeFormat),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, message, err)
	case errors.Is(err, core.ErrAlreadyInProgress), errors.Is(err, core.ErrEmailTaken):
		writeError(w, http.StatusConflict, message, err)
	case core.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
