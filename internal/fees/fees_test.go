package fees

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchedule(t *testing.T) {
	s := DefaultSchedule()

	tiers := s.Tiers()
	require.Len(t, tiers, 6)
	assert.Equal(t, "VIP 0", tiers[0].Tier)
	assert.Equal(t, "VIP 5", tiers[5].Tier)

	r := s.Rate("VIP 2")
	assert.Equal(t, "0.0004", r.Maker.String())
	assert.Equal(t, "0.0006", r.Taker.String())

	top := s.Rate("VIP 5")
	assert.True(t, top.Maker.IsZero())
	assert.True(t, top.Taker.IsZero())
}

func TestRateUnknownTierFallsBack(t *testing.T) {
	s := DefaultSchedule()
	r := s.Rate("VIP 99")
	assert.Equal(t, "VIP 0", r.Tier)
}

func TestFee(t *testing.T) {
	s := DefaultSchedule()

	tests := []struct {
		name       string
		tier       string
		makerShare float64
		takerShare float64
		quantity   float64
		want       float64
	}{
		{name: "all taker vip0", tier: "VIP 0", takerShare: 1, quantity: 10000, want: 10.0},
		{name: "all maker vip0", tier: "VIP 0", makerShare: 1, quantity: 10000, want: 8.0},
		{name: "even split vip1", tier: "VIP 1", makerShare: 0.5, takerShare: 0.5, quantity: 10000, want: 7.0},
		{name: "free tier", tier: "VIP 5", makerShare: 0.3, takerShare: 0.7, quantity: 10000, want: 0},
		{name: "zero quantity", tier: "VIP 0", takerShare: 1, quantity: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Fee(tt.tier, tt.makerShare, tt.takerShare, tt.quantity)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestLoadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.yaml")
	doc := `tiers:
  - tier: "Tier A"
    maker: 0.001
    taker: 0.002
  - tier: "Tier B"
    maker: 0.0005
    taker: 0.001
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := LoadSchedule(path)
	require.NoError(t, err)
	require.Len(t, s.Tiers(), 2)

	got := s.Fee("Tier B", 0, 1, 1000)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestLoadScheduleErrors(t *testing.T) {
	_, err := LoadSchedule(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("tiers: []\n"), 0o644))
	_, err = LoadSchedule(empty)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tiers: {not: a list}\n"), 0o644))
	_, err = LoadSchedule(bad)
	assert.Error(t, err)
}
