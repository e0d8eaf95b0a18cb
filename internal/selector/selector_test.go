package selector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_ThresholdsMapToTiers(t *testing.T) {
	s := New(DefaultConfig())

	short := s.Select(500, 1.0, 0)
	assert.Equal(t, "haiku", short.Tier)

	mid := s.Select(5000, 1.0, 0)
	assert.Equal(t, "sonnet", mid.Tier)

	long := s.Select(50000, 10.0, 0)
	assert.Equal(t, "opus", long.Tier)
}

func TestSelect_BudgetWithinCheapestTier(t *testing.T) {
	s := New(DefaultConfig())

	// 500 chars at the cheapest tier is well under a cent.
	d := s.Select(500, 0.01, 0)
	assert.Equal(t, "haiku", d.Tier)
	assert.False(t, d.BudgetConstrained)
	assert.LessOrEqual(t, d.EstimatedCostUSD, 0.01)
}

func TestSelect_DowngradesWhenNominalExceedsBudget(t *testing.T) {
	s := New(DefaultConfig())

	// 50k chars nominally routes to opus (~$0.375); only haiku fits $0.025.
	d := s.Select(50000, 0.025, 0)
	assert.Equal(t, "haiku", d.Tier)
	assert.True(t, d.BudgetConstrained)
	assert.LessOrEqual(t, d.EstimatedCostUSD, 0.025)
}

func TestSelect_CheapestOverBudgetStillFlagged(t *testing.T) {
	s := New(DefaultConfig())

	// 50k chars at haiku is $0.02, over a $0.01 budget. The selector
	// returns the cheapest tier but flags the decision rather than
	// silently exceeding the budget.
	d := s.Select(50000, 0.01, 0)
	assert.Equal(t, "haiku", d.Tier)
	assert.True(t, d.BudgetConstrained)
}

func TestSelect_QualityTargetRaisesTier(t *testing.T) {
	s := New(DefaultConfig())

	d := s.Select(500, 10.0, 0.95)
	assert.Equal(t, "opus", d.Tier, "quality target 0.95 exceeds haiku and sonnet")
	assert.False(t, d.BudgetConstrained)
}

func TestSelect_QualityTargetBoundedByBudget(t *testing.T) {
	s := New(DefaultConfig())

	// Wants opus quality but can only afford haiku.
	d := s.Select(500, 0.0003, 0.95)
	assert.Equal(t, "haiku", d.Tier)
	assert.True(t, d.BudgetConstrained)
}

func TestSelect_Deterministic(t *testing.T) {
	s := New(DefaultConfig())

	a := s.Select(7500, 0.05, 0.8)
	b := s.Select(7500, 0.05, 0.8)
	assert.Equal(t, a, b)
}

func TestSelect_ComplexityScore(t *testing.T) {
	s := New(DefaultConfig())

	assert.InDelta(t, 0.5, s.Select(6000, 1.0, 0).ComplexityScore, 1e-9)
	assert.Equal(t, 1.0, s.Select(100000, 10.0, 0).ComplexityScore)
}

func TestEstimateCost_Floor(t *testing.T) {
	tier := Tier{Name: "haiku", CostPerKChar: 0.0004, MinCostUSD: 0.0002}
	assert.Equal(t, 0.0002, EstimateCost(tier, 10))
	assert.InDelta(t, 0.02, EstimateCost(tier, 50000), 1e-9)
}

func TestTierByName(t *testing.T) {
	s := New(DefaultConfig())

	tier, ok := s.TierByName("sonnet")
	require.True(t, ok)
	assert.Equal(t, "claude-sonnet-4-5-20250929", tier.Model)

	_, ok = s.TierByName("turbo")
	assert.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `selector:
  threshold1: 1000
  threshold2: 8000
  tiers:
    - name: haiku
      model: claude-haiku-4-5-20251001
      cost_per_kchar: 0.0004
      quality: 0.75
    - name: sonnet
      model: claude-sonnet-4-5-20250929
      cost_per_kchar: 0.0015
      quality: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Threshold1)
	require.Len(t, cfg.Tiers, 2)
	assert.Equal(t, "sonnet", cfg.Tiers[1].Name)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("selector:\n  tiers: []\n"), 0o644))
	_, err := LoadConfig(empty)
	assert.Error(t, err)

	unordered := filepath.Join(dir, "unordered.yaml")
	require.NoError(t, os.WriteFile(unordered, []byte(`selector:
  tiers:
    - name: opus
      model: claude-opus-4-6
      cost_per_kchar: 0.0075
    - name: haiku
      model: claude-haiku-4-5-20251001
      cost_per_kchar: 0.0004
`), 0o644))
	_, err = LoadConfig(unordered)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
