package domain

import "time"

// SignalKind classifies why a producer flagged a token.
type SignalKind string

const (
	SignalKindGreenFlag   SignalKind = "GREEN_FLAG"
	SignalKindBullish     SignalKind = "BULLISH"
	SignalKindVolumeSpike SignalKind = "VOLUME_SPIKE"
)

// DefaultAccountID is used for signals that do not name an account.
const DefaultAccountID = "default"

// Signal is an admission request naming a token to potentially trade. It is
// treated as immutable once enqueued; a requeue produces a new value via
// Retry.
type Signal struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"account_id"`
	Token      string            `json:"token"`
	Symbol     string            `json:"symbol,omitempty"`
	Kind       SignalKind        `json:"kind"`
	Priority   int               `json:"priority"` // higher = more urgent
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Attempt    int               `json:"attempt"`
}

// Retry returns a copy of the signal for re-admission with the attempt
// counter incremented.
func (s Signal) Retry(now time.Time) Signal {
	out := s
	out.Attempt++
	out.ReceivedAt = now
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Label returns the symbol when known, otherwise the token identifier.
func (s Signal) Label() string {
	if s.Symbol != "" {
		return s.Symbol
	}
	return s.Token
}

// Verdict is the result of an external screening check.
type Verdict struct {
	Pass     bool    `json:"pass"`
	Score    float64 `json:"score"`
	Mentions int     `json:"mentions"`
	Reason   string  `json:"reason,omitempty"`
}
