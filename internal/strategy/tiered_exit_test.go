package strategy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAt(t *testing.T, cfg ExitConfig, entry float64) *TieredExit {
	t.Helper()
	require.NoError(t, cfg.Validate())
	m := NewTieredExit(cfg)
	tr := m.Open(entry)
	require.Equal(t, TransitionOpened, tr.Kind)
	return m
}

func TestTieredExit_Open(t *testing.T) {
	m := openAt(t, DefaultExitConfig(), 0.10)
	s := m.State()

	assert.Equal(t, PhaseOpen, s.Phase)
	assert.Equal(t, 0.10, s.EntryPrice)
	assert.Equal(t, 0.10, s.HighestPrice)
	assert.InDelta(t, 0.085, s.StopLoss, 1e-12)
	assert.False(t, s.Breakeven)
	for _, tier := range s.Tiers {
		assert.False(t, tier.Hit)
	}
}

func TestTieredExit_TakeProfitThenBreakevenStop(t *testing.T) {
	m := openAt(t, DefaultExitConfig(), 0.10)

	d := m.Update(0.11)
	assert.Equal(t, ActionHold, d.Action)

	d = m.Update(0.13)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, 0.33, d.Fraction)
	assert.False(t, d.Full)
	assert.Equal(t, "take-profit 1", d.Reason)
	assert.Equal(t, 1, d.Tier)
	assert.Equal(t, 0.10, m.StopLoss())
	assert.True(t, m.State().Breakeven)
	assert.Equal(t, PhasePartiallyClosed, m.State().Phase)

	d = m.Update(0.10)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, 1.0, d.Fraction)
	assert.True(t, d.Full)
	assert.Equal(t, "breakeven stop", d.Reason)
	assert.Equal(t, PhaseClosed, m.State().Phase)

	// Closed machines stay quiet.
	assert.Equal(t, ActionHold, m.Update(0.01).Action)
}

func TestTieredExit_TrailingStopSingleTier(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.Tiers = []Tier{{Gain: 0.30, Fraction: 0.33}}
	m := openAt(t, cfg, 0.10)

	d := m.Update(0.13)
	require.Equal(t, ActionSell, d.Action)
	assert.Equal(t, 0.10, m.StopLoss())

	d = m.Update(0.50)
	assert.Equal(t, ActionHold, d.Action)
	require.Len(t, d.Transitions, 1)
	assert.Equal(t, TransitionTrailingRaised, d.Transitions[0].Kind)
	assert.InDelta(t, 0.50, m.State().HighestPrice, 1e-12)

	d = m.Update(0.45)
	assert.Equal(t, ActionHold, d.Action)
	assert.Empty(t, d.Transitions)
	assert.InDelta(t, 0.40, m.StopLoss(), 1e-12)

	d = m.Update(0.39)
	assert.Equal(t, ActionSell, d.Action)
	assert.True(t, d.Full)
	assert.Equal(t, "breakeven stop", d.Reason)
}

func TestTieredExit_SecondTierPreemptsTrailing(t *testing.T) {
	// With both default tiers a jump to 0.50 clears the +75% target, so the
	// second tier fires on that tick and the trailing update waits.
	m := openAt(t, DefaultExitConfig(), 0.10)

	require.Equal(t, "take-profit 1", m.Update(0.13).Reason)

	d := m.Update(0.50)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, "take-profit 2", d.Reason)
	assert.Equal(t, 0.10, m.StopLoss())

	d = m.Update(0.45)
	assert.Equal(t, ActionHold, d.Action)
	assert.InDelta(t, 0.36, m.StopLoss(), 1e-12)

	assert.Equal(t, ActionHold, m.Update(0.39).Action)
	assert.Equal(t, "breakeven stop", m.Update(0.35).Reason)
}

func TestTieredExit_InitialStopLoss(t *testing.T) {
	m := openAt(t, DefaultExitConfig(), 0.10)

	assert.Equal(t, ActionHold, m.Update(0.09).Action)
	d := m.Update(0.085)
	assert.Equal(t, ActionSell, d.Action)
	assert.True(t, d.Full)
	assert.Equal(t, "initial stop-loss", d.Reason)
}

func TestTieredExit_NoTrailingBeforeBreakeven(t *testing.T) {
	m := openAt(t, DefaultExitConfig(), 0.10)

	for _, p := range []float64{0.11, 0.12, 0.125} {
		assert.Equal(t, ActionHold, m.Update(p).Action)
	}
	s := m.State()
	assert.Equal(t, 0.10, s.HighestPrice)
	assert.InDelta(t, 0.085, s.StopLoss, 1e-12)
}

func TestTieredExit_TiersFireInOrder(t *testing.T) {
	m := openAt(t, DefaultExitConfig(), 0.10)

	// A gap straight above both targets fires tier 1 first, tier 2 next tick.
	d := m.Update(0.20)
	assert.Equal(t, 1, d.Tier)
	d = m.Update(0.20)
	assert.Equal(t, 2, d.Tier)
	d = m.Update(0.20)
	assert.Equal(t, 0, d.Tier)
	assert.Equal(t, 2, m.State().TiersHit)
}

func TestTieredExit_StopMonotonicAfterBreakeven(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		m := openAt(t, DefaultExitConfig(), 1.0)
		price := 1.0
		lastStop := -1.0
		for i := 0; i < 500; i++ {
			price *= 1 + (rng.Float64()-0.45)*0.1
			if price <= 0 {
				price = 0.0001
			}
			m.Update(price)
			s := m.State()
			if s.Phase == PhaseClosed {
				break
			}
			if s.Breakeven {
				require.GreaterOrEqual(t, s.StopLoss, lastStop, "stop moved down at step %d", i)
				require.GreaterOrEqual(t, s.StopLoss, s.EntryPrice)
				lastStop = s.StopLoss
			}
		}
	}
}

func TestTieredExit_BreakevenArmedOnce(t *testing.T) {
	m := openAt(t, DefaultExitConfig(), 0.10)

	d := m.Update(0.13)
	require.Len(t, d.Transitions, 2)
	assert.Equal(t, TransitionTierHit, d.Transitions[0].Kind)
	assert.Equal(t, TransitionBreakevenArmed, d.Transitions[1].Kind)

	d = m.Update(0.18)
	require.Len(t, d.Transitions, 1)
	assert.Equal(t, TransitionTierHit, d.Transitions[0].Kind)
}

func TestExitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ExitConfig
		wantErr bool
	}{
		{"default", DefaultExitConfig(), false},
		{"no tiers", ExitConfig{InitialStopLoss: 0.1, TrailingStop: 0.1}, false},
		{"zero stop", ExitConfig{InitialStopLoss: 0, TrailingStop: 0.1}, true},
		{"unordered tiers", ExitConfig{InitialStopLoss: 0.1, TrailingStop: 0.1,
			Tiers: []Tier{{Gain: 0.5, Fraction: 0.3}, {Gain: 0.3, Fraction: 0.3}}}, true},
		{"oversold", ExitConfig{InitialStopLoss: 0.1, TrailingStop: 0.1,
			Tiers: []Tier{{Gain: 0.3, Fraction: 0.6}, {Gain: 0.5, Fraction: 0.6}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
