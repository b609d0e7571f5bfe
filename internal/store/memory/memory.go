// Package memory provides in-process implementations of the domain store
// interfaces. They back paper mode and tests; nothing survives a restart.
package memory

import (
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// inRange reports whether ts satisfies the Since/Until bounds of opts.
func inRange(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

// page applies Offset and Limit to an already filtered and ordered slice.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
