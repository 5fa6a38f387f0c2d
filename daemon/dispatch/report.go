package dispatch

import (
	"time"

	"github.com/hedisam/photoprep/daemon/actions"
)

// Outcome is what happened when a single action met a single file.
type Outcome struct {
	Action   string
	Status   actions.Status
	Path     string
	Outputs  []string
	Reason   string
	Err      error
	Duration time.Duration
}

// Report summarises one pipeline run over a file.
type Report struct {
	RunID string
	// Path is the stabilized path the run started from and FinalPath where the file ended up.
	Path      string
	FinalPath string
	Outcomes  []Outcome
	// Vanished is set when the file was gone before the first action ran.
	Vanished bool
	// Reruns counts duplicate dispatches coalesced into this run.
	Reruns int
}

func (r *Report) Count(status actions.Status) int {
	var n int
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Failures returns the outcomes of the actions that failed, in run order.
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status == actions.StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}
