package book

import "time"

// Snapshot is an immutable copy of one symbol's book, safe for concurrent
// reads. Asks are ascending, bids descending.
type Snapshot struct {
	Symbol      string    `json:"symbol"`
	Timestamp   time.Time `json:"timestamp"`
	Asks        []Level   `json:"asks"`
	Bids        []Level   `json:"bids"`
	UpdateCount uint64    `json:"update_count"`
}

// BestAsk returns the lowest ask, ok == false when the side is empty.
func (s *Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest bid, ok == false when the side is empty.
func (s *Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// MidPrice returns (bestAsk + bestBid) / 2, ok == false unless both sides
// are populated.
func (s *Snapshot) MidPrice() (float64, bool) {
	if len(s.Asks) == 0 || len(s.Bids) == 0 {
		return 0, false
	}
	return (s.Asks[0].Price + s.Bids[0].Price) / 2, true
}

// SpreadBps returns the spread in basis points of the mid price.
func (s *Snapshot) SpreadBps() (float64, bool) {
	mid, ok := s.MidPrice()
	if !ok {
		return 0, false
	}
	return (s.Asks[0].Price - s.Bids[0].Price) / mid * 10000, true
}

// WalkResult describes a simulated market-order fill. AvgFillPrice and
// ImpactBps are meaningful only when FilledQty > 0; FilledQty below the
// requested quantity means the book ran out of liquidity and the remainder
// is unpriced.
type WalkResult struct {
	AvgFillPrice float64 `json:"avg_fill_price"`
	ImpactBps    float64 `json:"impact_bps"`
	FilledQty    float64 `json:"filled_qty"`
}

// Walk consumes levels from one side until qty is exhausted or the side is
// empty. Impact is measured against the current mid price, positive meaning
// a worse fill than mid for the aggressor.
func (s *Snapshot) Walk(side Side, qty float64) WalkResult {
	levels := s.Asks
	if side == SideBid {
		levels = s.Bids
	}

	remaining := qty
	totalCost := 0.0
	filled := 0.0

	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := remaining
		if lvl.Qty < take {
			take = lvl.Qty
		}
		totalCost += take * lvl.Price
		filled += take
		remaining -= take
	}

	if filled <= 0 {
		return WalkResult{}
	}

	avg := totalCost / filled
	res := WalkResult{AvgFillPrice: avg, FilledQty: filled}

	if mid, ok := s.MidPrice(); ok {
		if side == SideAsk {
			res.ImpactBps = (avg/mid - 1) * 10000
		} else {
			res.ImpactBps = (mid/avg - 1) * 10000
		}
	}
	return res
}

// Imbalance returns (bidVol - askVol) / (bidVol + askVol) over the top 5
// levels per side, zero when either side is empty.
func (s *Snapshot) Imbalance() float64 {
	if len(s.Asks) == 0 || len(s.Bids) == 0 {
		return 0
	}

	askVol := sumQty(s.Asks, 5)
	bidVol := sumQty(s.Bids, 5)
	total := askVol + bidVol
	if total <= 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// AskLiquidity sums quantity over the top n ask levels.
func (s *Snapshot) AskLiquidity(n int) float64 {
	return sumQty(s.Asks, n)
}

// BidLiquidity sums quantity over the top n bid levels.
func (s *Snapshot) BidLiquidity(n int) float64 {
	return sumQty(s.Bids, n)
}

// AskDepthWithin sums ask quantity with price below mid*(1+bound). This is
// the ask-side depth the estimators calibrate against.
func (s *Snapshot) AskDepthWithin(bound float64) float64 {
	mid, ok := s.MidPrice()
	if !ok {
		return 0
	}
	depth := 0.0
	for _, lvl := range s.Asks {
		if lvl.Price < mid*(1+bound) {
			depth += lvl.Qty
		}
	}
	return depth
}

func sumQty(levels []Level, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	total := 0.0
	for _, lvl := range levels[:n] {
		total += lvl.Qty
	}
	return total
}

// ProfileLevel is one row of a liquidity profile.
type ProfileLevel struct {
	Price    float64 `json:"price"`
	Qty      float64 `json:"quantity"`
	Notional float64 `json:"value"`
}

// Profile lists the top levels per side with notional values.
type Profile struct {
	Asks []ProfileLevel `json:"asks"`
	Bids []ProfileLevel `json:"bids"`
}

// LiquidityProfile builds a Profile over the top numLevels per side.
func (s *Snapshot) LiquidityProfile(numLevels int) Profile {
	p := Profile{
		Asks: make([]ProfileLevel, 0, numLevels),
		Bids: make([]ProfileLevel, 0, numLevels),
	}
	for i := 0; i < numLevels && i < len(s.Asks); i++ {
		lvl := s.Asks[i]
		p.Asks = append(p.Asks, ProfileLevel{Price: lvl.Price, Qty: lvl.Qty, Notional: lvl.Price * lvl.Qty})
	}
	for i := 0; i < numLevels && i < len(s.Bids); i++ {
		lvl := s.Bids[i]
		p.Bids = append(p.Bids, ProfileLevel{Price: lvl.Price, Qty: lvl.Qty, Notional: lvl.Price * lvl.Qty})
	}
	return p
}
