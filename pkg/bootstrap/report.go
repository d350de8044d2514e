package bootstrap

import "time"

// StepStatus is the terminal status of one bootstrap step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of a single step for the final
// report.
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Report is the outcome of one full bootstrap run. External automation
// reads it from the logs; the real completion signal stays the
// presence of a persisted secret value.
type Report struct {
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Steps     []StepResult `json:"steps"`

	// Uncredentialed flags the "running but uncredentialed" outcome:
	// the services are up but the health probe budget ran out, so no
	// token was issued or persisted.
	Uncredentialed bool `json:"uncredentialed"`
}

func (r *Report) record(name string, start time.Time, status StepStatus, msg string) {
	r.Steps = append(r.Steps, StepResult{
		Name:     name,
		Status:   status,
		Duration: time.Since(start),
		Message:  msg,
	})
}

func (r *Report) skipRemaining(names ...string) {
	for _, name := range names {
		r.Steps = append(r.Steps, StepResult{Name: name, Status: StepSkipped})
	}
}
