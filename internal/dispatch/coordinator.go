package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/Dhanuzh/polychat/internal/config"
)

// DispatchRequest is one user send in grid mode.
type DispatchRequest struct {
	ID          string       `json:"id"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ModelIDs    []string     `json:"models"`
}

// NewRequest builds a request with a fresh id. Duplicate and blank model ids
// are dropped, keeping the first occurrence.
func NewRequest(message string, modelIDs []string, attachments ...Attachment) DispatchRequest {
	seen := make(map[string]bool, len(modelIDs))
	ids := make([]string, 0, len(modelIDs))
	for _, id := range modelIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return DispatchRequest{
		ID:          uuid.New().String(),
		Message:     message,
		Attachments: attachments,
		ModelIDs:    ids,
	}
}

// Validate checks the request before anything is dispatched.
func (r DispatchRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" && len(r.Attachments) == 0 {
		return &ValidationError{Field: "message", Message: "enter a message"}
	}
	if len(r.ModelIDs) == 0 {
		return &ValidationError{Field: "models", Message: "select at least one model"}
	}
	return nil
}

// Coordinator fans a message out to many models at once.
type Coordinator struct {
	dispatcher    *Dispatcher
	maxConcurrent int
	limiter       *rate.Limiter
}

// NewCoordinator creates a coordinator. A zero MaxConcurrent leaves fan-out
// width unbounded; a zero RateLimit disables pacing.
func NewCoordinator(d *Dispatcher, cfg config.DispatchConfig) *Coordinator {
	c := &Coordinator{dispatcher: d, maxConcurrent: cfg.MaxConcurrent}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Dispatcher returns the dispatcher used for each model.
func (c *Coordinator) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// FanOut dispatches req to every model and waits until all of them are
// terminal. One model's failure never affects another; failures are already
// shown in their panels and only show up here as failed outcomes. Outcomes
// are in req.ModelIDs order. The error is non-nil only for an invalid request,
// in which case nothing was dispatched.
func (c *Coordinator) FanOut(ctx context.Context, req DispatchRequest, sink Sink) ([]Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	log.Info().
		Str("request", req.ID).
		Int("models", len(req.ModelIDs)).
		Int("attachments", len(req.Attachments)).
		Msg("fan-out started")

	for _, id := range req.ModelIDs {
		sink.AppendUserMessage(id, req.Message, req.Attachments)
	}

	p := pool.New()
	if c.maxConcurrent > 0 {
		p = p.WithMaxGoroutines(c.maxConcurrent)
	}

	outcomes := make([]Outcome, len(req.ModelIDs))
	for i, id := range req.ModelIDs {
		p.Go(func() {
			outcomes[i] = c.run(ctx, id, req, sink)
		})
	}
	p.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	log.Info().
		Str("request", req.ID).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("fan-out settled")

	return outcomes, nil
}

// run is one fan-out task. It writes only to its own slot of the outcome slice.
func (c *Coordinator) run(ctx context.Context, id string, req DispatchRequest, sink Sink) Outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			appendError(sink, id, err)
			return Outcome{ModelID: id, State: StateFailed, Err: err}
		}
	}
	// Grid mode sends only the new message; there is no history.
	return c.dispatcher.Dispatch(ctx, id, req.Message, nil, req.Attachments, sink)
}
