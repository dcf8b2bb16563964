package race

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds reports a position outside the board. The defined direction
// set plus the bounds check keeps it from ever surfacing during a race; if it
// does, something upstream is broken.
var ErrOutOfBounds = errors.New("out of bounds")

// InvariantError marks a broken synchronization or configuration invariant.
// There is no recovery path: the race loop panics with it and the run aborts
// with a diagnostic.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "invariant violation: " + e.Msg }

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}
