/*
report.go - Referral reporting: downline tree and earnings breakdown

PURPOSE:
  Read-only views over the referrer graph and the level_income ledger.
  The tree is bounded to the commission depth; earnings are aggregated
  from ledger entries, not from the ReferralEdge cache, so the numbers
  stay authoritative.
*/
package referral

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
)

// TreeNode is one user in the downline tree. Level is the distance from
// the root user (0 for the root itself).
type TreeNode struct {
	ID              core.UserID
	Name            string
	Email           string
	Level           int
	InvestmentCount int
	TotalInvestment decimal.Decimal
	Referrals       []*TreeNode
}

// Stats summarizes a user's referral earnings.
type Stats struct {
	DirectReferrals int
	LevelEarnings   []core.LevelEarning
	TotalEarnings   decimal.Decimal
}

// Tree builds the downline tree rooted at userID, bounded to the
// commission depth. Each node carries the count and total of that
// user's active investments.
func (d *Distributor) Tree(ctx context.Context, userID core.UserID) (*TreeNode, error) {
	return d.buildTree(ctx, userID, 0)
}

func (d *Distributor) buildTree(ctx context.Context, userID core.UserID, level int) (*TreeNode, error) {
	user, err := d.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	active, err := d.Store.ListActiveInvestmentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, inv := range active {
		total = total.Add(inv.Amount)
	}

	node := &TreeNode{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		Level:           level,
		InvestmentCount: len(active),
		TotalInvestment: total,
		Referrals:       []*TreeNode{},
	}

	if level >= core.MaxCommissionLevels {
		return node, nil
	}

	children, err := d.Store.ListDirectReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childNode, err := d.buildTree(ctx, child.ID, level+1)
		if err != nil {
			return nil, err
		}
		node.Referrals = append(node.Referrals, childNode)
	}
	return node, nil
}

// Stats aggregates the user's commission earnings by level from the
// ledger, plus their direct referral count.
func (d *Distributor) Stats(ctx context.Context, userID core.UserID) (*Stats, error) {
	direct, err := d.Store.ListDirectReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	earnings, err := d.Store.SumLevelIncome(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, e := range earnings {
		total = total.Add(e.Total)
	}

	return &Stats{
		DirectReferrals: len(direct),
		LevelEarnings:   earnings,
		TotalEarnings:   total,
	}, nil
}
