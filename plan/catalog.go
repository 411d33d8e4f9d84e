/*
Package plan holds the static investment plan catalog.

PURPOSE:
  Pure lookup keyed by plan identifier: daily ROI rate, term duration,
  and per-level commission percentages. The catalog is consulted once,
  at investment creation, to snapshot the terms onto the new
  investment; it is never re-read for that investment's lifetime.

RANKING:
  When a referrer holds several active investments, the one with the
  highest-ranked plan funds the commission level. The rank table is an
  explicit enumeration, not a string comparison.

SEE ALSO:
  - core/types.go: PlanSnapshot captured from Lookup
  - referral/commission.go: Uses HighestRanked to pick the funding plan
*/
package plan

import (
	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
)

// Plan identifiers. The set is closed; Lookup rejects anything else.
const (
	Basic   core.PlanID = "basic"
	Premium core.PlanID = "premium"
	VIP     core.PlanID = "vip"
)

// MinimumInvestment is the system-wide floor for a single deposit.
// Plan-specific minimums, if any, are enforced by the calling surface.
var MinimumInvestment = decimal.NewFromInt(10)

// Plan describes one tier of the catalog.
type Plan struct {
	ID               core.PlanID
	DailyRate        decimal.Decimal
	DurationDays     int
	LevelCommissions []core.LevelCommission
	Rank             int // vip > premium > basic
}

// Snapshot copies the plan terms into the immutable form stored on an
// investment.
func (p Plan) Snapshot() core.PlanSnapshot {
	commissions := make([]core.LevelCommission, len(p.LevelCommissions))
	copy(commissions, p.LevelCommissions)
	return core.PlanSnapshot{
		DailyRate:        p.DailyRate,
		DurationDays:     p.DurationDays,
		LevelCommissions: commissions,
	}
}

var catalog = map[core.PlanID]Plan{
	Basic: {
		ID:           Basic,
		DailyRate:    decimal.NewFromFloat(0.02),
		DurationDays: 30,
		LevelCommissions: []core.LevelCommission{
			{Level: 1, Percentage: decimal.NewFromInt(5)},
			{Level: 2, Percentage: decimal.NewFromInt(3)},
		},
		Rank: 1,
	},
	Premium: {
		ID:           Premium,
		DailyRate:    decimal.NewFromFloat(0.025),
		DurationDays: 60,
		LevelCommissions: []core.LevelCommission{
			{Level: 1, Percentage: decimal.NewFromInt(7)},
			{Level: 2, Percentage: decimal.NewFromInt(4)},
			{Level: 3, Percentage: decimal.NewFromInt(2)},
		},
		Rank: 2,
	},
	VIP: {
		ID:           VIP,
		DailyRate:    decimal.NewFromFloat(0.03),
		DurationDays: 90,
		LevelCommissions: []core.LevelCommission{
			{Level: 1, Percentage: decimal.NewFromInt(10)},
			{Level: 2, Percentage: decimal.NewFromInt(6)},
			{Level: 3, Percentage: decimal.NewFromInt(3)},
			{Level: 4, Percentage: decimal.NewFromInt(1)},
		},
		Rank: 3,
	},
}

// Lookup returns the plan for the given identifier.
func Lookup(id core.PlanID) (Plan, error) {
	p, ok := catalog[id]
	if !ok {
		return Plan{}, core.ErrInvalidPlan
	}
	return p, nil
}

// All returns the catalog plans ordered by rank ascending.
func All() []Plan {
	return []Plan{catalog[Basic], catalog[Premium], catalog[VIP]}
}

// RankOf returns the rank of a plan identifier, or 0 when unknown.
// Snapshotted investments keep paying even if their plan left the
// catalog; an unknown plan simply ranks below every known one.
func RankOf(id core.PlanID) int {
	return catalog[id].Rank
}

// HighestRanked selects the investment whose plan ranks highest. Ties
// keep the earlier investment. Returns nil for an empty slice.
func HighestRanked(investments []core.Investment) *core.Investment {
	var best *core.Investment
	for i := range investments {
		if best == nil || RankOf(investments[i].Plan) > RankOf(best.Plan) {
			best = &investments[i]
		}
	}
	return best
}
