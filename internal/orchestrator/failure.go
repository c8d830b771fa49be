package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDependencyMissing is returned by the level gate when a result key the
// level depends on was never persisted.
var ErrDependencyMissing = errors.New("dependency result missing")

// Failure is the terminal error of a task aborted by a mandatory level. Level
// is "setup", "plan", "finalize" or the name of a pipeline level.
type Failure struct {
	Task   string
	Level  string
	Agent  string // First failing mandatory agent, empty for gate and stage failures
	Errors []error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "task %s failed at level %q", f.Task, f.Level)
	if f.Agent != "" {
		fmt.Fprintf(&b, " (agent %s)", f.Agent)
	}
	if len(f.Errors) > 0 {
		msgs := make([]string, len(f.Errors))
		for i, err := range f.Errors {
			msgs[i] = err.Error()
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(msgs, "; "))
	}
	return b.String()
}

func (f *Failure) Unwrap() []error {
	return f.Errors
}
