// Package relay races signed bundles to independent block-builder relays.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/defistate/defistate-arb/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Relay is one block-builder endpoint.
type Relay interface {
	Name() string
	SendBundle(ctx context.Context, bundle *engine.Bundle) (Ack, error)
}

// Ack is a relay's acceptance of a bundle.
type Ack struct {
	BundleHash common.Hash
}

// Outcome is how a single dispatch ended from the broadcaster's point of view.
type Outcome uint8

const (
	Accepted Outcome = iota + 1
	Rejected
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Classify maps a dispatch error to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Accepted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return TimedOut
	case errors.Is(err, ErrRelayRejected), errors.Is(err, ErrMissingParams):
		return Rejected
	default:
		return Failed
	}
}

// Result is the outcome of one relay dispatch.
type Result struct {
	Relay   string
	Outcome Outcome
	Ack     Ack
	Err     error
	Elapsed time.Duration
}

// Report collects a broadcast's results in relay registration order.
type Report struct {
	BundleID    uuid.UUID
	TargetBlock uint64
	Results     []Result
	Elapsed     time.Duration
}

// Success reports whether at least one relay accepted the bundle.
func (r Report) Success() bool {
	for _, res := range r.Results {
		if res.Outcome == Accepted {
			return true
		}
	}
	return false
}

// Count returns how many relays ended with o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Outcomes maps relay name to outcome name.
func (r Report) Outcomes() map[string]string {
	out := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		out[res.Relay] = res.Outcome.String()
	}
	return out
}
