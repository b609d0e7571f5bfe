package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// Notification event names used for filtering.
const (
	EventPositionClosed  = "position_closed"
	EventSessionFailed   = "session_failed"
	EventSessionFinished = "session_finished"
	EventSignalDropped   = "signal_dropped"
)

// Format renders a core event as a notification. ok is false for events that
// are never worth a message (ticks of the strategy, snapshots, routine
// status changes).
func Format(ev domain.Event) (event, title, message string, ok bool) {
	switch ev.Type {
	case domain.EventPositionClosed:
		var b strings.Builder
		fmt.Fprintf(&b, "Account: %s\nToken: %s\nReason: %s\nReceived: %.6f SOL", ev.AccountID, ev.Token, ev.Reason, ev.Amount)
		if ev.PnL != nil {
			fmt.Fprintf(&b, "\nP&L: %+.6f SOL", *ev.PnL)
		}
		if ev.PnLPercent != nil {
			fmt.Fprintf(&b, " (%+.2f%%)", *ev.PnLPercent)
		}
		return EventPositionClosed, "Position closed: " + ev.Token, b.String(), true

	case domain.EventSessionStatus:
		switch ev.Status {
		case domain.SessionFailed:
			msg := fmt.Sprintf("Account: %s\nToken: %s\nSession: %s\nReason: %s", ev.AccountID, ev.Token, ev.SessionID, ev.Reason)
			return EventSessionFailed, "Session failed: " + ev.Token, msg, true
		case domain.SessionFinished:
			msg := fmt.Sprintf("Account: %s\nToken: %s\nSession: %s\nReason: %s", ev.AccountID, ev.Token, ev.SessionID, ev.Reason)
			if ev.PnL != nil {
				msg += fmt.Sprintf("\nP&L: %+.6f SOL", *ev.PnL)
			}
			return EventSessionFinished, "Session finished: " + ev.Token, msg, true
		}

	case domain.EventSignalDropped:
		msg := fmt.Sprintf("Account: %s\nToken: %s\nReason: %s", ev.AccountID, ev.Token, ev.Reason)
		return EventSignalDropped, "Signal dropped: " + ev.Token, msg, true
	}
	return "", "", "", false
}

// isFailure reports whether a title produced by Format describes a failed
// session or a dropped signal.
func isFailure(title string) bool {
	return strings.HasPrefix(title, "Session failed") || strings.HasPrefix(title, "Signal dropped")
}
