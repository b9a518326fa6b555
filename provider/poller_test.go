// ABOUTME: Tests for the create-task/poll state machine: success, failure, timeout, cancellation.
package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeTaskAdapter scripts PollTask responses and records call counts.
type fakeTaskAdapter struct {
	createErr   error
	statuses    []*TaskStatus
	pollErr     error
	createCalls int
	pollCalls   int
}

func (f *fakeTaskAdapter) Name() string { return "fake" }

func (f *fakeTaskAdapter) CreateTask(ctx context.Context, req Request) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "task-123", nil
}

func (f *fakeTaskAdapter) PollTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	f.pollCalls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	idx := f.pollCalls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return f.statuses[idx], nil
}

func fastPoller() *Poller {
	return &Poller{Interval: time.Millisecond, MaxWait: time.Second}
}

func TestPollerSucceedsAfterPending(t *testing.T) {
	adapter := &fakeTaskAdapter{statuses: []*TaskStatus{
		{State: TaskPending},
		{State: TaskPending},
		{State: TaskSucceeded, ResultURL: "https://cdn.example.com/out.mp4"},
	}}
	job := NewJob("node-1", "fake")

	var transitions []JobState
	outcome, err := fastPoller().Run(context.Background(), adapter, Request{}, job, func(s JobState) {
		transitions = append(transitions, s)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.ResultURL != "https://cdn.example.com/out.mp4" {
		t.Errorf("ResultURL = %q", outcome.ResultURL)
	}
	if job.State != JobSucceeded {
		t.Errorf("job.State = %q, want %q", job.State, JobSucceeded)
	}
	if adapter.pollCalls != 3 {
		t.Errorf("pollCalls = %d, want 3", adapter.pollCalls)
	}
	want := []JobState{JobPolling, JobSucceeded}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestPollerFirstPollWaitsInterval(t *testing.T) {
	adapter := &fakeTaskAdapter{statuses: []*TaskStatus{
		{State: TaskSucceeded, ResultURL: "https://cdn.example.com/out.png"},
	}}
	p := &Poller{Interval: 50 * time.Millisecond, MaxWait: time.Second}
	job := NewJob("node-1", "fake")

	start := time.Now()
	if _, err := p.Run(context.Background(), adapter, Request{}, job, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("first poll fired after %s, want at least the interval", elapsed)
	}
}

func TestPollerFailureCarriesReason(t *testing.T) {
	adapter := &fakeTaskAdapter{statuses: []*TaskStatus{
		{State: TaskFailed, FailureReason: "content policy violation"},
	}}
	job := NewJob("node-1", "fake")

	_, err := fastPoller().Run(context.Background(), adapter, Request{}, job, nil)
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Run() error = %v, want *ProviderError", err)
	}
	if perr.Message != "content policy violation" {
		t.Errorf("Message = %q", perr.Message)
	}
	if job.State != JobFailed {
		t.Errorf("job.State = %q, want %q", job.State, JobFailed)
	}
}

func TestPollerSucceededWithoutURLIsMalformed(t *testing.T) {
	adapter := &fakeTaskAdapter{statuses: []*TaskStatus{{State: TaskSucceeded}}}
	job := NewJob("node-1", "fake")

	_, err := fastPoller().Run(context.Background(), adapter, Request{}, job, nil)
	var merr *MalformedResponseError
	if !errors.As(err, &merr) {
		t.Fatalf("Run() error = %v, want *MalformedResponseError", err)
	}
	if job.State != JobFailed {
		t.Errorf("job.State = %q, want %q", job.State, JobFailed)
	}
}

func TestPollerTimeout(t *testing.T) {
	adapter := &fakeTaskAdapter{statuses: []*TaskStatus{{State: TaskPending}}}
	job := NewJob("node-1", "fake")
	p := &Poller{Interval: time.Millisecond, MaxWait: 20 * time.Millisecond}

	_, err := p.Run(context.Background(), adapter, Request{}, job, nil)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("Run() error = %v, want *TimeoutError", err)
	}
	if job.State != JobTimedOut {
		t.Errorf("job.State = %q, want %q", job.State, JobTimedOut)
	}
}

func TestPollerCancelStopsPolling(t *testing.T) {
	adapter := &fakeTaskAdapter{statuses: []*TaskStatus{{State: TaskPending}}}
	job := NewJob("node-1", "fake")
	job.Cancel()

	_, err := fastPoller().Run(context.Background(), adapter, Request{}, job, nil)
	var cerr *CancelledError
	if !errors.As(err, &cerr) {
		t.Fatalf("Run() error = %v, want *CancelledError", err)
	}
	if job.State != JobCancelled {
		t.Errorf("job.State = %q, want %q", job.State, JobCancelled)
	}
	// The flag was set before the first tick, so no poll ever fires.
	if adapter.pollCalls != 0 {
		t.Errorf("pollCalls = %d, want 0 after pre-tick cancel", adapter.pollCalls)
	}
}

func TestPollerNoPollsAfterTerminal(t *testing.T) {
	adapter := &fakeTaskAdapter{statuses: []*TaskStatus{
		{State: TaskSucceeded, ResultURL: "https://cdn.example.com/out.png"},
	}}
	job := NewJob("node-1", "fake")

	if _, err := fastPoller().Run(context.Background(), adapter, Request{}, job, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	polls := adapter.pollCalls
	time.Sleep(20 * time.Millisecond)
	if adapter.pollCalls != polls {
		t.Errorf("pollCalls grew from %d to %d after terminal state", polls, adapter.pollCalls)
	}
}

func TestPollerCreateTaskFailure(t *testing.T) {
	adapter := &fakeTaskAdapter{createErr: &ValidationError{Message: "model id is required"}}
	job := NewJob("node-1", "fake")

	_, err := fastPoller().Run(context.Background(), adapter, Request{}, job, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Run() error = %v, want *ValidationError", err)
	}
	if adapter.pollCalls != 0 {
		t.Errorf("pollCalls = %d, want 0 when create fails", adapter.pollCalls)
	}
}

func TestJobStateTerminal(t *testing.T) {
	terminal := []JobState{JobSucceeded, JobFailed, JobTimedOut, JobCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%q.Terminal() = false, want true", s)
		}
	}
	for _, s := range []JobState{JobSubmitted, JobPolling} {
		if s.Terminal() {
			t.Errorf("%q.Terminal() = true, want false", s)
		}
	}
}

func TestClassifyState(t *testing.T) {
	tests := []struct {
		raw  string
		want TaskState
	}{
		{"succeed", TaskSucceeded},
		{"SUCCEEDED", TaskSucceeded},
		{"Completed", TaskSucceeded},
		{"done", TaskSucceeded},
		{"FAILED", TaskFailed},
		{"error", TaskFailed},
		{"rejected", TaskFailed},
		{"processing", TaskPending},
		{"IN_QUEUE", TaskPending},
		{"some_new_state", TaskPending},
		{"", TaskPending},
	}
	for _, tt := range tests {
		if got := ClassifyState(tt.raw); got != tt.want {
			t.Errorf("ClassifyState(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
