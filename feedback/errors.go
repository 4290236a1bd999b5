package feedback

import (
	"errors"
	"fmt"
)

// ErrNoImplementation is returned when a Feedback with no bound
// implementation is called.
var ErrNoImplementation = errors.New("feedback: definition has no implementation to call")

// DefinitionError reports an invalid selector/parameter binding at
// construction time. It is never recovered into a result: constructions
// fail fast.
type DefinitionError struct {
	Key    string   // the selector key with no matching parameter
	Func   string   // qualified implementation name
	Params []string // the implementation's declared parameters
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("feedback: %q is not an argument to %s (declared parameters: %v)",
		e.Key, e.Func, e.Params)
}

// SelectionError reports a selection that cannot be resolved against a
// record and chain. Run recovers it into a failed FeedbackResult.
type SelectionError struct {
	Arg    string // the argument whose selection failed
	Reason string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("feedback: selection for %q: %s", e.Arg, e.Reason)
}
