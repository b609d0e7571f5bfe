package strategy

// EntryRule decides, from the prices observed so far, whether a session
// should buy at the latest price.
type EntryRule interface {
	Name() string
	// ShouldEnter is called with the full price history after each tick; the
	// last element is the current price.
	ShouldEnter(history []float64) bool
	// Warmup is the number of prices that must be kept for the rule.
	Warmup() int
}

// ImmediateEntry buys on the first tick.
type ImmediateEntry struct{}

func (ImmediateEntry) Name() string { return "immediate" }

func (ImmediateEntry) ShouldEnter(h []float64) bool { return len(h) > 0 }

func (ImmediateEntry) Warmup() int { return 1 }

// SMACrossEntry fires when the short simple moving average crosses above the
// long one between the previous and the current tick.
type SMACrossEntry struct {
	Short int
	Long  int
}

// Name returns "sma".
func (SMACrossEntry) Name() string { return "sma" }

// Warmup returns Long+1.
func (e SMACrossEntry) Warmup() int { return e.Long + 1 }

// ShouldEnter reports a strict upward crossover.
func (e SMACrossEntry) ShouldEnter(h []float64) bool {
	if e.Short <= 0 || e.Long <= e.Short || len(h) < e.Long+1 {
		return false
	}
	n := len(h)
	prevShort := sma(h[:n-1], e.Short)
	prevLong := sma(h[:n-1], e.Long)
	currShort := sma(h, e.Short)
	currLong := sma(h, e.Long)
	return prevShort < prevLong && currShort > currLong
}

// BreakoutEntry fires when the current price exceeds every price in the
// preceding Lookback-1 ticks.
type BreakoutEntry struct {
	Lookback int
}

// Name returns "breakout".
func (BreakoutEntry) Name() string { return "breakout" }

// Warmup returns Lookback.
func (e BreakoutEntry) Warmup() int { return e.Lookback }

// ShouldEnter reports a new high over the lookback window.
func (e BreakoutEntry) ShouldEnter(h []float64) bool {
	if e.Lookback < 2 || len(h) < e.Lookback {
		return false
	}
	window := h[len(h)-e.Lookback:]
	current := window[len(window)-1]
	for _, p := range window[:len(window)-1] {
		if p >= current {
			return false
		}
	}
	return true
}

// sma averages the last n values of h.
func sma(h []float64, n int) float64 {
	sum := 0.0
	for _, v := range h[len(h)-n:] {
		sum += v
	}
	return sum / float64(n)
}
