package safety

import (
	"fmt"

	"github.com/mtzanidakis/epoptis/internal/action"
)

// DefaultLoopWindow is the sequence length compared when looking for
// repeating action patterns.
const DefaultLoopWindow = 5

type sequenceKey struct {
	element string
	typ     action.Type
}

// loopDetector keeps a rolling history of accepted actions and flags an
// exact window-sized repeat. History is capped at two windows so the
// comparison always covers the most recent activity.
type loopDetector struct {
	window  int
	history []sequenceKey
}

// observe records the accepted actions and returns a warning when the
// most recent window repeats the one before it, or "" otherwise.
func (d *loopDetector) observe(actions []action.Action) string {
	if d.window <= 0 {
		return ""
	}

	for i := range actions {
		element, typ := actions[i].Key()
		d.history = append(d.history, sequenceKey{element: element, typ: typ})
	}

	max := d.window * 2
	if len(d.history) > max {
		d.history = d.history[len(d.history)-max:]
	}
	if len(d.history) < max {
		return ""
	}

	recent := d.history[len(d.history)-d.window:]
	previous := d.history[len(d.history)-max : len(d.history)-d.window]
	for i := range recent {
		if recent[i] != previous[i] {
			return ""
		}
	}
	return fmt.Sprintf("Potential loop detected: repeated sequence of %d actions", d.window)
}

func (d *loopDetector) reset() {
	d.history = d.history[:0]
}
