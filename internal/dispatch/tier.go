package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Tier is one of the escalating calling conventions tried per dispatch.
type Tier int

const (
	TierStream    Tier = iota // streaming, structured turns
	TierBlocking              // blocking, structured turns
	TierFlattened             // blocking, system and user text joined into one prompt
)

func (t Tier) String() string {
	switch t {
	case TierStream:
		return "stream"
	case TierBlocking:
		return "blocking"
	case TierFlattened:
		return "flattened"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type step int

const (
	stepDone      step = iota // attempt succeeded
	stepNext                  // try the returned tier
	stepExhausted             // give up, the outcome is failed
)

// advance is the transition function of a dispatch. It never looks at
// anything but the current tier and the attempt's error.
func advance(t Tier, err error) (step, Tier) {
	if err == nil {
		return stepDone, t
	}
	if errors.Is(err, context.Canceled) {
		return stepExhausted, t
	}
	if t < TierFlattened {
		return stepNext, t + 1
	}
	return stepExhausted, t
}

// TransportError is a single failed attempt.
type TransportError struct {
	Tier  Tier
	Model string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport for %s: %v", e.Tier, e.Model, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
