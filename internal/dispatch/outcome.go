package dispatch

import (
	"fmt"
	"time"
)

// State is the lifecycle position of one model's dispatch.
type State string

const (
	StateStreaming State = "streaming"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// Outcome is the result of dispatching to one model. It is owned by that
// model's dispatch and is never shared with another model's task.
type Outcome struct {
	ModelID string        `json:"model"`
	State   State         `json:"state"`
	Text    string        `json:"text,omitempty"`
	Err     error         `json:"-"`
	Tier    Tier          `json:"tier"`
	Elapsed time.Duration `json:"elapsed"`
}

// Terminal reports whether the dispatch has finished.
func (o Outcome) Terminal() bool {
	return o.State == StateComplete || o.State == StateFailed
}

// Failed reports whether every transport tier failed.
func (o Outcome) Failed() bool {
	return o.State == StateFailed
}

func (o Outcome) String() string {
	switch o.State {
	case StateFailed:
		return fmt.Sprintf("%s: failed after %s: %v", o.ModelID, o.Elapsed.Round(time.Millisecond), o.Err)
	case StateComplete:
		return fmt.Sprintf("%s: complete via %s in %s", o.ModelID, o.Tier, o.Elapsed.Round(time.Millisecond))
	default:
		return fmt.Sprintf("%s: %s", o.ModelID, o.State)
	}
}

// ValidationError is a user input problem detected before any dispatch.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
