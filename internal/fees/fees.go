// Package fees holds the static exchange fee-tier schedule used to price the
// maker/taker split of an estimated order.
package fees

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TierRate is one fee tier's maker and taker rates, as fractions of notional.
type TierRate struct {
	Tier  string          `yaml:"tier" json:"tier"`
	Maker decimal.Decimal `yaml:"maker" json:"maker"`
	Taker decimal.Decimal `yaml:"taker" json:"taker"`
}

// Schedule is an ordered fee-tier table with name lookup.
type Schedule struct {
	tiers []TierRate
	index map[string]TierRate
}

// DefaultSchedule returns the standard OKX perpetual-swap VIP ladder.
func DefaultSchedule() *Schedule {
	return newSchedule([]TierRate{
		{Tier: "VIP 0", Maker: decimal.NewFromFloat(0.0008), Taker: decimal.NewFromFloat(0.0010)},
		{Tier: "VIP 1", Maker: decimal.NewFromFloat(0.0006), Taker: decimal.NewFromFloat(0.0008)},
		{Tier: "VIP 2", Maker: decimal.NewFromFloat(0.0004), Taker: decimal.NewFromFloat(0.0006)},
		{Tier: "VIP 3", Maker: decimal.NewFromFloat(0.0002), Taker: decimal.NewFromFloat(0.0004)},
		{Tier: "VIP 4", Maker: decimal.Zero, Taker: decimal.NewFromFloat(0.0002)},
		{Tier: "VIP 5", Maker: decimal.Zero, Taker: decimal.Zero},
	})
}

// LoadSchedule reads a tier table from a YAML file of the form
// {tiers: [{tier, maker, taker}, ...]}.
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee schedule: %w", err)
	}

	var doc struct {
		Tiers []TierRate `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fee schedule: %w", err)
	}
	if len(doc.Tiers) == 0 {
		return nil, fmt.Errorf("fee schedule %s has no tiers", path)
	}
	return newSchedule(doc.Tiers), nil
}

func newSchedule(tiers []TierRate) *Schedule {
	s := &Schedule{
		tiers: tiers,
		index: make(map[string]TierRate, len(tiers)),
	}
	for _, t := range tiers {
		s.index[t.Tier] = t
	}
	return s
}

// Tiers lists the schedule in declaration order.
func (s *Schedule) Tiers() []TierRate {
	out := make([]TierRate, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// Rate returns the tier's rates. Unknown tiers fall back to the first
// (highest-fee) tier.
func (s *Schedule) Rate(tier string) TierRate {
	if r, ok := s.index[tier]; ok {
		return r
	}
	return s.tiers[0]
}

// Fee prices an order: (maker rate × maker share + taker rate × taker share)
// × quantity, in notional units.
func (s *Schedule) Fee(tier string, makerShare, takerShare, quantity float64) float64 {
	r := s.Rate(tier)
	fee := r.Maker.Mul(decimal.NewFromFloat(makerShare)).
		Add(r.Taker.Mul(decimal.NewFromFloat(takerShare))).
		Mul(decimal.NewFromFloat(quantity))
	out, _ := fee.Float64()
	return out
}
