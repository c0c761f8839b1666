package service

import (
	"math/big"

	"github.com/google/uuid"
)

// Member is a participant with a confirmed stake, in join order.
type Member struct {
	UserID uuid.UUID
	Wallet string
	Stake  int64
	Winner bool
}

type Share struct {
	Member
	Amount int64
}

type Plan struct {
	Pot    int64
	Refund bool
	Shares []Share
}

func (p *Plan) Total() int64 {
	var total int64
	for _, s := range p.Shares {
		total += s.Amount
	}
	return total
}

// Distribute splits pot among winners in proportion to their stake, flooring
// every share. The remainder of the division goes to the first winner. With no
// winners every member gets the stake back.
func Distribute(pot int64, members []Member) Plan {
	plan := Plan{Pot: pot, Shares: make([]Share, 0, len(members))}
	winnerStake := new(big.Int)
	for _, m := range members {
		if m.Winner {
			winnerStake.Add(winnerStake, big.NewInt(m.Stake))
		}
	}
	if winnerStake.Sign() == 0 {
		plan.Refund = true
		for _, m := range members {
			plan.Shares = append(plan.Shares, Share{Member: m, Amount: m.Stake})
		}
		return plan
	}
	bigPot := big.NewInt(pot)
	first := -1
	var distributed int64
	for _, m := range members {
		share := Share{Member: m}
		if m.Winner {
			amount := new(big.Int).Mul(bigPot, big.NewInt(m.Stake))
			amount.Quo(amount, winnerStake)
			share.Amount = amount.Int64()
			distributed += share.Amount
			if first < 0 {
				first = len(plan.Shares)
			}
		}
		plan.Shares = append(plan.Shares, share)
	}
	plan.Shares[first].Amount += pot - distributed
	return plan
}
