// Package jobpoll tracks a unit of external asynchronous work from
// submission to a terminal outcome. The caller supplies a submit function
// and a poll function; Run drives them on a fixed cadence under both an
// attempt ceiling and a wall-clock timeout, and always converges to exactly
// one terminal outcome. The package has no knowledge of what the job
// produces; any submit/poll-to-completion backend fits.
package jobpoll

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// State is the terminal state of a tracked job.
type State int

const (
	// StateDone means the job completed and produced a payload.
	StateDone State = iota
	// StateFailed means the backend reported an explicit failure, or
	// submission itself failed.
	StateFailed
	// StateTimedOut means the overall wall-clock budget elapsed first.
	StateTimedOut
	// StateExhausted means the poll-attempt ceiling was reached first.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the result of one Run invocation. Payload is meaningful only
// when State is StateDone; Err carries the failure reason for StateFailed.
type Outcome[T any] struct {
	State   State
	Payload T
	Err     error
}

// Status is returned by a poll function. Exactly one of the three kinds
// applies: done (with payload), failed (with reason), or still in progress.
type Status[T any] struct {
	Done    bool
	Failed  bool
	Payload T
	Reason  string
}

// StatusPending reports a job still in progress.
func StatusPending[T any]() Status[T] {
	return Status[T]{}
}

// StatusDone reports a completed job carrying its payload.
func StatusDone[T any](payload T) Status[T] {
	return Status[T]{Done: true, Payload: payload}
}

// StatusFailed reports an explicit backend failure.
func StatusFailed[T any](reason string) Status[T] {
	return Status[T]{Failed: true, Reason: reason}
}

// Options bound a Run invocation. MaxAttempts counts poll calls; Timeout is
// measured from submission.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Clock       Clock
	Logger      *slog.Logger
}

// SubmitFunc starts the external job and returns its opaque handle.
type SubmitFunc func(ctx context.Context) (string, error)

// PollFunc reports the current status of the job identified by handle.
// A returned error is treated as an in-progress observation, not a terminal
// failure: transient status-check errors must not abandon a job that may
// still complete. It is still bounded by MaxAttempts and Timeout.
type PollFunc[T any] func(ctx context.Context, handle string) (Status[T], error)

// Run submits a job and polls it to a terminal outcome.
//
// Submission failure is terminal immediately; submission is never retried.
// After each in-progress poll the poller waits Interval, counting attempts
// toward MaxAttempts. Whichever bound trips first wins: the wall-clock
// Timeout yields StateTimedOut, the attempt ceiling StateExhausted. Context
// cancellation abandons the in-flight job and returns StateFailed with the
// context's error; no cleanup call is made to the backend.
func Run[T any](ctx context.Context, submit SubmitFunc, poll PollFunc[T], opts Options) Outcome[T] {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "jobpoll")

	handle, err := submit(ctx)
	if err != nil {
		log.Warn("Job submission failed", "error", err)
		return Outcome[T]{State: StateFailed, Err: fmt.Errorf("submit failed: %w", err)}
	}
	log.Debug("Job submitted", "handle", handle)

	submittedAt := clock.Now()
	attempts := 0
	unknownStreak := 0

	for {
		if opts.Timeout > 0 && clock.Now().Sub(submittedAt) > opts.Timeout {
			log.Warn("Job polling timed out", "handle", handle, "attempts", attempts, "timeout", opts.Timeout)
			return Outcome[T]{State: StateTimedOut}
		}

		if err := ctx.Err(); err != nil {
			log.Info("Job polling cancelled, abandoning job", "handle", handle, "attempts", attempts)
			return Outcome[T]{State: StateFailed, Err: err}
		}

		status, err := poll(ctx, handle)
		switch {
		case err != nil:
			// Unparseable or failed status checks count as one more
			// in-progress observation; repeats escalate to a warning so a
			// misbehaving backend is visible before the bounds trip.
			unknownStreak++
			if unknownStreak > 1 {
				log.Warn("Repeated unrecognized job status", "handle", handle, "streak", unknownStreak, "error", err)
			} else {
				log.Debug("Unrecognized job status, treating as in progress", "handle", handle, "error", err)
			}
		case status.Done:
			log.Debug("Job completed", "handle", handle, "attempts", attempts+1)
			return Outcome[T]{State: StateDone, Payload: status.Payload}
		case status.Failed:
			log.Warn("Job failed", "handle", handle, "reason", status.Reason)
			return Outcome[T]{State: StateFailed, Err: fmt.Errorf("job failed: %s", status.Reason)}
		default:
			unknownStreak = 0
		}

		attempts++
		if opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts {
			log.Warn("Job poll attempts exhausted", "handle", handle, "attempts", attempts)
			return Outcome[T]{State: StateExhausted}
		}

		if opts.Interval > 0 {
			select {
			case <-ctx.Done():
				log.Info("Job polling cancelled during wait, abandoning job", "handle", handle)
				return Outcome[T]{State: StateFailed, Err: ctx.Err()}
			case <-clock.After(opts.Interval):
			}
		}
	}
}
