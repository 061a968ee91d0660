package sweep

import (
	"fmt"
	"time"
)

// Phase names the kind of step a result belongs to.
type Phase string

const (
	PhaseGenerate Phase = "generate"
	PhaseCleanup  Phase = "cleanup"
	PhaseEvict    Phase = "evict"
	PhaseRun      Phase = "run"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	Phase       Phase         `json:"phase"`
	Combination Combination   `json:"combination"`
	Artifact    string        `json:"artifact,omitempty"`
	LogPath     string        `json:"log_path,omitempty"`
	Command     string        `json:"command,omitempty"`
	ExitCode    int           `json:"exit_code"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// Failed reports whether the step returned an error.
func (r StepResult) Failed() bool {
	return r.Err != nil
}

// ErrorString returns the step error message, or "" on success.
func (r StepResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// StepError is the error a sweep stops with. It identifies the first step that failed.
type StepError struct {
	Phase       Phase
	Combination Combination
	Artifact    string
	Err         error
}

func (e *StepError) Error() string {
	switch {
	case e.Artifact != "":
		return fmt.Sprintf("%s step failed for %s: %v", e.Phase, e.Artifact, e.Err)
	case !e.Combination.IsZero():
		return fmt.Sprintf("%s step failed for %s: %v", e.Phase, e.Combination, e.Err)
	default:
		return fmt.Sprintf("%s step failed: %v", e.Phase, e.Err)
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(r StepResult) *StepError {
	return &StepError{Phase: r.Phase, Combination: r.Combination, Artifact: r.Artifact, Err: r.Err}
}
