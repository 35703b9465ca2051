package orchestrator

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned when a run stopped early because its session was
// marked interrupted. Persisted progress can be resumed.
var ErrInterrupted = errors.New("run interrupted")

// FatalError is a failure of the root node's own explanation. It aborts the run.
type FatalError struct {
	Topic string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("explain root topic %q: %v", e.Topic, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
