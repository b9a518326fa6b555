// ABOUTME: Generic state machine driving a create-task/poll provider to a terminal state.
// ABOUTME: Submitted -> Polling -> Succeeded/Failed/TimedOut/Cancelled; terminal states issue no further polls.
package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// JobState is the lifecycle state of one generation job.
type JobState string

const (
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions occur from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobTimedOut, JobCancelled:
		return true
	}
	return false
}

// Job tracks one in-flight generation request for one node. It is ephemeral:
// created when a generate call starts and discarded once terminal.
type Job struct {
	ID             string
	NodeID         string
	Provider       string
	ExternalTaskID string
	State          JobState
	Attempts       int
	StartedAt      time.Time

	cancelled atomic.Bool
}

// NewJob creates a job for the given node and provider.
func NewJob(nodeID, providerName string) *Job {
	return &Job{
		ID:        ulid.Make().String(),
		NodeID:    nodeID,
		Provider:  providerName,
		State:     JobSubmitted,
		StartedAt: time.Now(),
	}
}

// Cancel sets the cooperative cancellation flag. The flag is observed at the
// top of the next poll tick; an in-flight HTTP call is not interrupted, only
// its result discarded.
func (j *Job) Cancel() { j.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Poller drives TaskAdapter jobs to completion.
type Poller struct {
	Interval time.Duration // delay before the first poll and between polls
	MaxWait  time.Duration // wall-clock bound before TimedOut
}

// Default poller timing. Providers are never instantly done, so the first
// poll waits a full interval.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 600 * time.Second
)

// NewPoller returns a poller with default timing.
func NewPoller() *Poller {
	return &Poller{Interval: DefaultPollInterval, MaxWait: DefaultMaxWait}
}

// Run submits the request and polls until terminal, recording transitions on
// job and reporting them through onTransition (which may be nil). The
// returned error is nil only for JobSucceeded.
func (p *Poller) Run(ctx context.Context, adapter TaskAdapter, req Request, job *Job, onTransition func(JobState)) (*Outcome, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxWait := p.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	transition := func(s JobState) {
		job.State = s
		if onTransition != nil {
			onTransition(s)
		}
	}

	taskID, err := adapter.CreateTask(ctx, req)
	if err != nil {
		transition(JobFailed)
		return nil, err
	}
	job.ExternalTaskID = taskID
	transition(JobPolling)

	for {
		if err := sleepCtx(ctx, interval); err != nil {
			transition(JobCancelled)
			return nil, err
		}

		// Cancellation is checked before each poll, never mid-flight.
		if job.Cancelled() {
			transition(JobCancelled)
			return nil, &CancelledError{}
		}

		if elapsed := time.Since(job.StartedAt); elapsed > maxWait {
			transition(JobTimedOut)
			return nil, &TimeoutError{Elapsed: elapsed}
		}

		job.Attempts++
		status, err := adapter.PollTask(ctx, taskID)
		if err != nil {
			transition(JobFailed)
			return nil, err
		}

		switch status.State {
		case TaskSucceeded:
			if status.ResultURL == "" {
				transition(JobFailed)
				return nil, &MalformedResponseError{Message: "succeeded task carries no result URL"}
			}
			transition(JobSucceeded)
			return &Outcome{ResultURL: status.ResultURL, ResultURLs: status.ResultURLs}, nil

		case TaskFailed:
			transition(JobFailed)
			reason := status.FailureReason
			if reason == "" {
				reason = "provider reported failure without a reason"
			}
			return nil, &ProviderError{Provider: adapter.Name(), Message: reason}

		default:
			// Pending: wait out the next interval and re-poll.
		}
	}
}

// sleepCtx sleeps for d or returns the context error if cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
