/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY FORMAT:
  All monetary values are rendered as fixed two-decimal strings. Clients
  must not rely on float parsing for money.

SEE ALSO:
  - handlers.go: Uses these types
  - auth.go: Auth request/response types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/referral"
	"github.com/stakeline/invest-engine/sched"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// UserDTO represents a user in API responses. The password hash never
// leaves the server.
type UserDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	ReferralCode  string `json:"referral_code"`
	ReferredBy    string `json:"referred_by,omitempty"`
	WalletBalance string `json:"wallet_balance"`
	TotalEarnings string `json:"total_earnings"`
	LevelIncome   string `json:"level_income"`
	TotalROI      string `json:"total_roi"`
	Role          string `json:"role"`
	CreatedAt     string `json:"created_at"`
}

// CreateInvestmentRequest is the body for POST /api/investments.
type CreateInvestmentRequest struct {
	Amount string `json:"amount"`
	Plan   string `json:"plan"`
}

// InvestmentDTO represents an investment in API responses.
type InvestmentDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	Plan        string `json:"plan"`
	DailyRate   string `json:"daily_rate"`
	Duration    int    `json:"duration_days"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
	TotalEarned string `json:"total_earned"`
	LastROIAt   string `json:"last_roi_at,omitempty"`
}

// CancelInvestmentResponse reports the refund applied on cancellation.
type CancelInvestmentResponse struct {
	Investment InvestmentDTO `json:"investment"`
	Refund     string        `json:"refund"`
}

// LedgerEntryDTO represents one ledger entry in API responses.
type LedgerEntryDTO struct {
	ID           string `json:"id"`
	InvestmentID string `json:"investment_id,omitempty"`
	Date         string `json:"date"`
	Amount       string `json:"amount"`
	Type         string `json:"type"`
	Description  string `json:"description"`
	Level        int    `json:"level,omitempty"`
	ReferredUser string `json:"referred_user,omitempty"`
}

// DashboardDTO is the aggregate payload for the dashboard view.
type DashboardDTO struct {
	User              UserDTO          `json:"user"`
	ActiveInvestments []InvestmentDTO  `json:"active_investments"`
	ExpectedDailyROI  string           `json:"expected_daily_roi"`
	RecentEntries     []LedgerEntryDTO `json:"recent_entries"`
}

// HistoryResponse is a paginated slice of ledger entries.
type HistoryResponse struct {
	Entries []LedgerEntryDTO `json:"entries"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
}

// DailyEarningDTO is one day's earnings, split by source.
type DailyEarningDTO struct {
	Date        string `json:"date"`
	ROI         string `json:"roi"`
	LevelIncome string `json:"level_income"`
	Total       string `json:"total"`
}

// EarningsSummaryDTO groups a user's earnings per day over a window.
type EarningsSummaryDTO struct {
	Period           string            `json:"period"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	Days             []DailyEarningDTO `json:"days"`
	TotalROI         string            `json:"total_roi"`
	TotalLevelIncome string            `json:"total_level_income"`
	Total            string            `json:"total"`
}

// TreeNodeDTO is one node of the downline tree.
type TreeNodeDTO struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Email           string        `json:"email"`
	Level           int           `json:"level"`
	InvestmentCount int           `json:"investment_count"`
	TotalInvestment string        `json:"total_investment"`
	Referrals       []TreeNodeDTO `json:"referrals"`
}

// LevelEarningDTO aggregates commission income for one chain level.
type LevelEarningDTO struct {
	Level int    `json:"level"`
	Total string `json:"total"`
	Count int    `json:"count"`
}

// ReferralStatsDTO summarizes referral performance.
type ReferralStatsDTO struct {
	DirectReferrals int               `json:"direct_referrals"`
	LevelEarnings   []LevelEarningDTO `json:"level_earnings"`
	TotalEarnings   string            `json:"total_earnings"`
}

// ReferralLinkDTO carries the shareable signup link.
type ReferralLinkDTO struct {
	ReferralCode string `json:"referral_code"`
	Link         string `json:"link"`
}

// SweepResultDTO reports a manually triggered accrual sweep.
type SweepResultDTO struct {
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Purged    int    `json:"purged"`
	TotalROI  string `json:"total_roi"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toUserDTO(u *core.User) UserDTO {
	dto := UserDTO{
		ID:            string(u.ID),
		Name:          u.Name,
		Email:         u.Email,
		Phone:         u.Phone,
		ReferralCode:  u.ReferralCode,
		WalletBalance: u.WalletBalance.StringFixed(2),
		TotalEarnings: u.TotalEarnings.StringFixed(2),
		LevelIncome:   u.LevelIncome.StringFixed(2),
		TotalROI:      u.TotalROI.StringFixed(2),
		Role:          string(u.Role),
		CreatedAt:     u.CreatedAt.UTC().Format(timeFormat),
	}
	if u.ReferredBy != nil {
		dto.ReferredBy = string(*u.ReferredBy)
	}
	return dto
}

func toInvestmentDTO(inv *core.Investment) InvestmentDTO {
	dto := InvestmentDTO{
		ID:          string(inv.ID),
		UserID:      string(inv.UserID),
		Amount:      inv.Amount.StringFixed(2),
		Plan:        string(inv.Plan),
		DailyRate:   inv.Details.DailyRate.String(),
		Duration:    inv.Details.DurationDays,
		StartDate:   inv.StartDate.UTC().Format(timeFormat),
		EndDate:     inv.EndDate.UTC().Format(timeFormat),
		Status:      string(inv.Status),
		TotalEarned: inv.TotalEarned.StringFixed(2),
	}
	if inv.LastROICalculation != nil {
		dto.LastROIAt = inv.LastROICalculation.UTC().Format(timeFormat)
	}
	return dto
}

func toInvestmentDTOs(invs []core.Investment) []InvestmentDTO {
	dtos := make([]InvestmentDTO, len(invs))
	for i := range invs {
		dtos[i] = toInvestmentDTO(&invs[i])
	}
	return dtos
}

func toEntryDTO(e *core.LedgerEntry) LedgerEntryDTO {
	dto := LedgerEntryDTO{
		ID:          string(e.ID),
		Date:        e.OccurredAt.UTC().Format(timeFormat),
		Amount:      e.Amount.StringFixed(2),
		Type:        string(e.Type),
		Description: e.Description,
		Level:       e.Level,
	}
	if e.InvestmentID != nil {
		dto.InvestmentID = string(*e.InvestmentID)
	}
	if e.ReferredUser != nil {
		dto.ReferredUser = string(*e.ReferredUser)
	}
	return dto
}

func toEntryDTOs(entries []core.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i])
	}
	return dtos
}

func toTreeDTO(n *referral.TreeNode) TreeNodeDTO {
	dto := TreeNodeDTO{
		ID:              string(n.ID),
		Name:            n.Name,
		Email:           n.Email,
		Level:           n.Level,
		InvestmentCount: n.InvestmentCount,
		TotalInvestment: n.TotalInvestment.StringFixed(2),
		Referrals:       make([]TreeNodeDTO, 0, len(n.Referrals)),
	}
	for _, child := range n.Referrals {
		dto.Referrals = append(dto.Referrals, toTreeDTO(child))
	}
	return dto
}

func toStatsDTO(s *referral.Stats) ReferralStatsDTO {
	dto := ReferralStatsDTO{
		DirectReferrals: s.DirectReferrals,
		LevelEarnings:   make([]LevelEarningDTO, 0, len(s.LevelEarnings)),
		TotalEarnings:   s.TotalEarnings.StringFixed(2),
	}
	for _, le := range s.LevelEarnings {
		dto.LevelEarnings = append(dto.LevelEarnings, LevelEarningDTO{
			Level: le.Level,
			Total: le.Total.StringFixed(2),
			Count: le.Count,
		})
	}
	return dto
}

func toEarningsSummaryDTO(period string, from, to time.Time, days []core.DailyEarning) EarningsSummaryDTO {
	dto := EarningsSummaryDTO{
		Period: period,
		From:   from.Format(dateFormat),
		To:     to.Format(dateFormat),
		Days:   make([]DailyEarningDTO, 0, len(days)),
	}
	roi, level := decimal.Zero, decimal.Zero
	for _, d := range days {
		dto.Days = append(dto.Days, DailyEarningDTO{
			Date:        d.Day.Format(dateFormat),
			ROI:         d.ROI.StringFixed(2),
			LevelIncome: d.LevelIncome.StringFixed(2),
			Total:       d.Total.StringFixed(2),
		})
		roi = roi.Add(d.ROI)
		level = level.Add(d.LevelIncome)
	}
	dto.TotalROI = roi.StringFixed(2)
	dto.TotalLevelIncome = level.StringFixed(2)
	dto.Total = roi.Add(level).StringFixed(2)
	return dto
}

func toSweepDTO(r sched.SweepResult) SweepResultDTO {
	return SweepResultDTO{
		Processed: r.Processed,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Purged:    r.Purged,
		TotalROI:  r.TotalROI.StringFixed(2),
	}
}

// sumExpectedDailyROI projects one day's ROI across active investments.
func sumExpectedDailyROI(invs []core.Investment) decimal.Decimal {
	total := decimal.Zero
	for i := range invs {
		total = total.Add(invs[i].Amount.Mul(invs[i].Details.DailyRate))
	}
	return total.Round(2)
}
