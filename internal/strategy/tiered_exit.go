package strategy

import (
	"fmt"
	"strings"
)

// Action is the decision the state machine emits for one price update.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionSell Action = "SELL"
)

// Phase is the lifecycle position of one exit state machine.
type Phase string

const (
	PhaseNoPosition      Phase = "no_position"
	PhaseOpen            Phase = "open"
	PhasePartiallyClosed Phase = "partially_closed"
	PhaseClosed          Phase = "closed"
)

// Exit reasons attached to SELL decisions.
const (
	ReasonInitialStop   = "initial stop-loss"
	ReasonBreakevenStop = "breakeven stop"
)

// TakeProfitReason returns the reason used when tier n (1-based) fires.
func TakeProfitReason(n int) string {
	return fmt.Sprintf("take-profit %d", n)
}

// Tier is a take-profit threshold: once the price has gained Gain relative to
// entry, sell Fraction of the original position size.
type Tier struct {
	Gain     float64 `json:"gain"`
	Fraction float64 `json:"fraction"`
}

// ExitConfig configures the tiered take-profit and trailing stop machine.
type ExitConfig struct {
	InitialStopLoss float64 // e.g. 0.15 = stop 15% below entry
	TrailingStop    float64 // e.g. 0.20 = trail 20% below the highest price
	Tiers           []Tier
}

// DefaultExitConfig returns +30% sell 33%, +75% sell 33%, 15% initial stop and
// a 20% trailing stop.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		InitialStopLoss: 0.15,
		TrailingStop:    0.20,
		Tiers: []Tier{
			{Gain: 0.30, Fraction: 0.33},
			{Gain: 0.75, Fraction: 0.33},
		},
	}
}

// Validate rejects configurations the machine cannot run.
func (c ExitConfig) Validate() error {
	var errs []string
	if c.InitialStopLoss <= 0 || c.InitialStopLoss >= 1 {
		errs = append(errs, fmt.Sprintf("initial stop-loss %.4f must be in (0,1)", c.InitialStopLoss))
	}
	if c.TrailingStop <= 0 || c.TrailingStop >= 1 {
		errs = append(errs, fmt.Sprintf("trailing stop %.4f must be in (0,1)", c.TrailingStop))
	}
	prev := 0.0
	sum := 0.0
	for i, t := range c.Tiers {
		if t.Gain <= prev {
			errs = append(errs, fmt.Sprintf("tier %d gain %.4f must exceed %.4f", i+1, t.Gain, prev))
		}
		if t.Fraction <= 0 || t.Fraction > 1 {
			errs = append(errs, fmt.Sprintf("tier %d fraction %.4f must be in (0,1]", i+1, t.Fraction))
		}
		prev = t.Gain
		sum += t.Fraction
	}
	if sum > 1+1e-9 {
		errs = append(errs, fmt.Sprintf("tier fractions sum to %.4f, more than the whole position", sum))
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy: invalid exit config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TierState is one configured tier and whether it has fired.
type TierState struct {
	Tier
	Hit bool `json:"hit"`
}

// State is a copy of the machine's internal state.
type State struct {
	Phase        Phase       `json:"phase"`
	EntryPrice   float64     `json:"entry_price"`
	HighestPrice float64     `json:"highest_price"`
	StopLoss     float64     `json:"stop_loss"`
	Breakeven    bool        `json:"breakeven"`
	Tiers        []TierState `json:"tiers"`
	TiersHit     int         `json:"tiers_hit"`
}

// TransitionKind names a strategy state change.
type TransitionKind string

const (
	TransitionOpened         TransitionKind = "opened"
	TransitionTierHit        TransitionKind = "tier_hit"
	TransitionBreakevenArmed TransitionKind = "breakeven_armed"
	TransitionTrailingRaised TransitionKind = "trailing_raised"
	TransitionClosed         TransitionKind = "closed"
)

// Transition describes one state change caused by an update.
type Transition struct {
	Kind     TransitionKind `json:"kind"`
	StopLoss float64        `json:"stop_loss"`
	Highest  float64        `json:"highest"`
	Tier     int            `json:"tier,omitempty"`
}

// Decision is the output of one price update.
type Decision struct {
	Action Action
	// Fraction is the share of the ORIGINAL position to sell. It is 1 for
	// stop-loss exits, where Full is also set.
	Fraction float64
	// Full asks the caller to sell everything still held.
	Full        bool
	Reason      string
	Tier        int // 1-based tier that fired, 0 otherwise
	Transitions []Transition
}

// TieredExit is the per-position exit state machine: an initial stop-loss,
// ordered take-profit tiers that pin the stop to breakeven on the first hit,
// and a trailing stop that only ratchets upward once breakeven is armed.
//
// It is pure decision logic and is not safe for concurrent use; each session
// owns exactly one machine.
type TieredExit struct {
	cfg   ExitConfig
	state State
}

// NewTieredExit returns a machine in the NoPosition phase.
func NewTieredExit(cfg ExitConfig) *TieredExit {
	tiers := make([]TierState, len(cfg.Tiers))
	for i, t := range cfg.Tiers {
		tiers[i] = TierState{Tier: t}
	}
	return &TieredExit{
		cfg: cfg,
		state: State{
			Phase: PhaseNoPosition,
			Tiers: tiers,
		},
	}
}

// Open initialises the machine at the entry price.
func (m *TieredExit) Open(entry float64) Transition {
	m.state.Phase = PhaseOpen
	m.state.EntryPrice = entry
	m.state.HighestPrice = entry
	m.state.StopLoss = entry * (1 - m.cfg.InitialStopLoss)
	m.state.Breakeven = false
	m.state.TiersHit = 0
	for i := range m.state.Tiers {
		m.state.Tiers[i].Hit = false
	}
	return m.transition(TransitionOpened, 0)
}

// Update evaluates one price in strict priority order: stop-loss, then the
// first unhit take-profit tier, then the trailing update, else HOLD. Updates
// before Open or after the machine closed return HOLD.
func (m *TieredExit) Update(price float64) Decision {
	if m.state.Phase == PhaseNoPosition || m.state.Phase == PhaseClosed {
		return Decision{Action: ActionHold}
	}

	// 1. Stop-loss.
	if price <= m.state.StopLoss {
		reason := ReasonInitialStop
		if m.state.Breakeven {
			reason = ReasonBreakevenStop
		}
		m.state.Phase = PhaseClosed
		return Decision{
			Action:      ActionSell,
			Fraction:    1.0,
			Full:        true,
			Reason:      reason,
			Transitions: []Transition{m.transition(TransitionClosed, 0)},
		}
	}

	// 2. Take-profit tiers, in configured order.
	for i := range m.state.Tiers {
		tier := &m.state.Tiers[i]
		if tier.Hit {
			continue
		}
		target := m.state.EntryPrice * (1 + tier.Gain)
		if price < target {
			continue
		}
		tier.Hit = true
		m.state.TiersHit++
		m.state.Phase = PhasePartiallyClosed

		transitions := []Transition{m.transition(TransitionTierHit, i+1)}
		if !m.state.Breakeven {
			m.state.StopLoss = m.state.EntryPrice
			m.state.Breakeven = true
			transitions = append(transitions, m.transition(TransitionBreakevenArmed, i+1))
		}
		return Decision{
			Action:      ActionSell,
			Fraction:    tier.Fraction,
			Reason:      TakeProfitReason(i + 1),
			Tier:        i + 1,
			Transitions: transitions,
		}
	}

	// 3. Trailing update, only once breakeven is armed.
	if m.state.Breakeven && price > m.state.HighestPrice {
		m.state.HighestPrice = price
		candidate := m.state.HighestPrice * (1 - m.cfg.TrailingStop)
		if candidate > m.state.StopLoss {
			m.state.StopLoss = candidate
			return Decision{
				Action:      ActionHold,
				Transitions: []Transition{m.transition(TransitionTrailingRaised, 0)},
			}
		}
	}

	return Decision{Action: ActionHold}
}

// Close moves the machine to Closed without a decision, used when the
// position was liquidated by other means.
func (m *TieredExit) Close() {
	m.state.Phase = PhaseClosed
}

// State returns a copy of the current state.
func (m *TieredExit) State() State {
	out := m.state
	out.Tiers = make([]TierState, len(m.state.Tiers))
	copy(out.Tiers, m.state.Tiers)
	return out
}

// StopLoss returns the current stop price.
func (m *TieredExit) StopLoss() float64 {
	return m.state.StopLoss
}

func (m *TieredExit) transition(kind TransitionKind, tier int) Transition {
	return Transition{
		Kind:     kind,
		StopLoss: m.state.StopLoss,
		Highest:  m.state.HighestPrice,
		Tier:     tier,
	}
}
