package domain

import "math"

// ShareEpsilon is the tolerance under which a share count is treated as zero.
const ShareEpsilon = 1e-6

// Position is the inventory held in one market.
type Position struct {
	UpShares     float64
	DownShares   float64
	UpInvested   float64 // USDC cost basis
	DownInvested float64
}

// Shares returns the shares held on one side.
func (p Position) Shares(o Outcome) float64 {
	if o == OutcomeUp {
		return p.UpShares
	}
	return p.DownShares
}

// Invested returns the cost basis of one side.
func (p Position) Invested(o Outcome) float64 {
	if o == OutcomeUp {
		return p.UpInvested
	}
	return p.DownInvested
}

// Unpaired is |up - down|.
func (p Position) Unpaired() float64 {
	return math.Abs(p.UpShares - p.DownShares)
}

// Paired is min(up, down).
func (p Position) Paired() float64 {
	return math.Min(p.UpShares, p.DownShares)
}

// Flat reports whether no shares are held on either side.
func (p Position) Flat() bool {
	return p.UpShares <= ShareEpsilon && p.DownShares <= ShareEpsilon
}

// OneSided reports whether exactly one side holds shares.
func (p Position) OneSided() bool {
	up := p.UpShares > ShareEpsilon
	down := p.DownShares > ShareEpsilon
	return up != down
}

// TwoSided reports whether both sides hold shares.
func (p Position) TwoSided() bool {
	return p.UpShares > ShareEpsilon && p.DownShares > ShareEpsilon
}

// HeavySide returns the side with more shares. ok=false when balanced.
func (p Position) HeavySide() (Outcome, bool) {
	switch {
	case p.UpShares-p.DownShares > ShareEpsilon:
		return OutcomeUp, true
	case p.DownShares-p.UpShares > ShareEpsilon:
		return OutcomeDown, true
	}
	return "", false
}

// AvgCost returns the average price paid on one side, 0 when flat on that side.
func (p Position) AvgCost(o Outcome) float64 {
	shares := p.Shares(o)
	if shares <= ShareEpsilon {
		return 0
	}
	return p.Invested(o) / shares
}

// PairCost is avgCost(UP) + avgCost(DOWN). Below 1.0 the paired shares lock in profit.
func (p Position) PairCost() float64 {
	return p.AvgCost(OutcomeUp) + p.AvgCost(OutcomeDown)
}

// UnpairedNotional values the unpaired surplus at the heavy side's average cost.
func (p Position) UnpairedNotional() float64 {
	heavy, ok := p.HeavySide()
	if !ok {
		return 0
	}
	return p.Unpaired() * p.AvgCost(heavy)
}

// Apply adds a BUY fill to the position.
func (p *Position) Apply(o Outcome, shares, price float64) {
	if shares <= 0 {
		return
	}
	if o == OutcomeUp {
		p.UpShares += shares
		p.UpInvested += shares * price
	} else {
		p.DownShares += shares
		p.DownInvested += shares * price
	}
}

// Reconcile sets one side to an externally observed share count, scaling the
// cost basis proportionally. Negative inputs clamp to zero.
func (p *Position) Reconcile(o Outcome, shares float64) {
	if shares < 0 {
		shares = 0
	}
	cur := p.Shares(o)
	invested := p.Invested(o)
	if cur > ShareEpsilon {
		invested = invested * shares / cur
	}
	if shares <= ShareEpsilon {
		invested = 0
	}
	if o == OutcomeUp {
		p.UpShares, p.UpInvested = shares, invested
	} else {
		p.DownShares, p.DownInvested = shares, invested
	}
}
