// ABOUTME: Shared request/outcome types and the two adapter shapes for generation providers.
// ABOUTME: Providers are either blocking-subscribe (progress events) or create-task/poll.
package provider

import "context"

// InputKind tells adapters how an input payload should be treated.
type InputKind string

const (
	InputImage InputKind = "image"
	InputVideo InputKind = "video"
)

// InputRole marks what an input is used for in the generation payload.
type InputRole string

const (
	RoleReference  InputRole = "reference"
	RoleStartFrame InputRole = "start_frame"
	RoleEndFrame   InputRole = "end_frame"
	RoleMotion     InputRole = "motion"
	RoleSource     InputRole = "source"
)

// Input is one media input to a generation request. Exactly one of URL or
// Data is set: URL for media already hosted somewhere, Data for raw bytes
// that must be uploaded before submission.
type Input struct {
	URL  string
	Data []byte
	Mime string
	Kind InputKind
	Role InputRole
}

// Request is the provider-agnostic generation request built by the
// dispatcher.
type Request struct {
	ModelID string
	Mode    string
	Prompt  string
	Inputs  []Input

	AspectRatio string
	Resolution  string
	Duration    int
	VideoMode   string
	NumOutputs  int
}

// Outcome is the terminal result of a generation job.
type Outcome struct {
	ResultURL  string
	ResultURLs []string
}

// Progress is one observable status update from a blocking-subscribe
// provider. Adapters suppress events whose Status equals the previously
// emitted one.
type Progress struct {
	Status string
	Logs   []string
}

// ProgressFunc observes progress events. It may be nil.
type ProgressFunc func(Progress)

// SubscribeAdapter is the blocking-subscribe provider shape: one call that
// uploads inputs, submits, and blocks until terminal, emitting de-duplicated
// progress events along the way.
type SubscribeAdapter interface {
	Name() string
	Subscribe(ctx context.Context, req Request, onProgress ProgressFunc) (*Outcome, error)
}

// TaskAdapter is the create-task/poll provider shape. CreateTask uploads
// inputs and submits, returning the provider's task id; PollTask reports the
// task's current classification.
type TaskAdapter interface {
	Name() string
	CreateTask(ctx context.Context, req Request) (string, error)
	PollTask(ctx context.Context, taskID string) (*TaskStatus, error)
}

// TaskState is the normalized classification of a poll response.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// TaskStatus is the normalized result of one poll.
type TaskStatus struct {
	State         TaskState
	ResultURL     string // set when State is TaskSucceeded
	ResultURLs    []string
	FailureReason string // set when State is TaskFailed
}

// ClassifyState maps a provider's raw status string onto a TaskState.
// Matching is case-insensitive; unrecognized states classify as pending so
// the poller keeps retrying instead of erroring on a vocabulary it does not
// know.
func ClassifyState(raw string) TaskState {
	switch normalizeState(raw) {
	case "succeed", "succeeded", "success", "successful", "completed", "complete", "done", "finished":
		return TaskSucceeded
	case "failed", "fail", "error", "errored", "rejected":
		return TaskFailed
	default:
		return TaskPending
	}
}

// normalizeState lowercases and trims a raw provider state.
func normalizeState(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == ' ' || c == '\t' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
