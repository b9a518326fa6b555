// ABOUTME: Blocking-subscribe adapter for fal's queue API: submit, watch status with logs, fetch result.
// ABOUTME: Progress events are emitted in order with duplicates of the last-seen status suppressed.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// FalAdapter implements SubscribeAdapter against fal's queue endpoints. The
// subscribe call blocks until the job is terminal, surfacing queue status
// and log lines as progress events.
type FalAdapter struct {
	*BaseAdapter
	Uploader     Uploader
	PollInterval time.Duration
}

// NewFalAdapter creates an adapter for fal's queue API.
func NewFalAdapter(apiKey string, uploader Uploader) *FalAdapter {
	base := NewBaseAdapter("fal", apiKey, "https://queue.fal.run")
	base.AuthScheme = "Key"
	return &FalAdapter{
		BaseAdapter:  base,
		Uploader:     uploader,
		PollInterval: time.Second,
	}
}

// Name returns the provider name.
func (a *FalAdapter) Name() string { return "fal" }

type falSubmitResponse struct {
	RequestID string `json:"request_id"`
}

type falStatusResponse struct {
	Status string `json:"status"`
	Logs   []struct {
		Message string `json:"message"`
	} `json:"logs"`
}

// Subscribe uploads binary inputs, submits the job, and blocks until it
// resolves, emitting de-duplicated progress events. The queue is watched
// internally; callers only see the blocking call and its progress stream.
func (a *FalAdapter) Subscribe(ctx context.Context, req Request, onProgress ProgressFunc) (*Outcome, error) {
	if req.ModelID == "" {
		return nil, &ValidationError{Message: "model id is required"}
	}

	urls, err := EnsureURLs(ctx, a.Uploader, req.Inputs)
	if err != nil {
		return nil, err
	}

	payload := a.buildPayload(req, urls)
	resp, err := a.DoRequest(ctx, http.MethodPost, "/"+req.ModelID, payload)
	if err != nil {
		return nil, err
	}
	var submitted falSubmitResponse
	if _, err := a.DecodeJSON(resp, &submitted); err != nil {
		return nil, err
	}
	if submitted.RequestID == "" {
		return nil, &MalformedResponseError{Message: "submit response missing request_id"}
	}

	return a.watch(ctx, req.ModelID, submitted.RequestID, onProgress)
}

// watch polls the queue status until terminal, emitting progress along the
// way, then fetches the final result payload.
func (a *FalAdapter) watch(ctx context.Context, modelID, requestID string, onProgress ProgressFunc) (*Outcome, error) {
	statusPath := fmt.Sprintf("/%s/requests/%s/status", modelID, requestID)
	resultPath := fmt.Sprintf("/%s/requests/%s", modelID, requestID)

	lastStatus := ""
	logCursor := 0

	for {
		resp, err := a.DoRequest(ctx, http.MethodGet, statusPath+"?logs=1", nil)
		if err != nil {
			return nil, err
		}
		var status falStatusResponse
		if _, err := a.DecodeJSON(resp, &status); err != nil {
			return nil, err
		}

		// Emit only on change; repeated identical statuses are suppressed.
		if onProgress != nil && status.Status != lastStatus {
			var logs []string
			for ; logCursor < len(status.Logs); logCursor++ {
				logs = append(logs, status.Logs[logCursor].Message)
			}
			onProgress(Progress{Status: status.Status, Logs: logs})
		}
		lastStatus = status.Status

		switch ClassifyState(status.Status) {
		case TaskSucceeded:
			return a.fetchResult(ctx, resultPath)
		case TaskFailed:
			return nil, &ProviderError{Provider: a.Provider, Message: "queue reported " + status.Status}
		}

		if err := sleepCtx(ctx, a.PollInterval); err != nil {
			return nil, err
		}
	}
}

// fetchResult retrieves the completed job's payload and extracts its URL.
func (a *FalAdapter) fetchResult(ctx context.Context, path string) (*Outcome, error) {
	resp, err := a.DoRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	raw, err := a.DecodeJSON(resp, nil)
	if err != nil {
		return nil, err
	}

	url := ExtractResultURLFromRaw(raw)
	if url == "" {
		return nil, &MalformedResponseError{Message: "result payload contains no media URL"}
	}
	return &Outcome{ResultURL: url}, nil
}

// buildPayload maps the provider-agnostic request onto fal's input shape.
func (a *FalAdapter) buildPayload(req Request, inputURLs []string) map[string]any {
	payload := map[string]any{}
	if req.Prompt != "" {
		payload["prompt"] = req.Prompt
	}
	if req.AspectRatio != "" {
		payload["aspect_ratio"] = req.AspectRatio
	}
	if req.Resolution != "" {
		payload["resolution"] = req.Resolution
	}
	if req.Duration > 0 {
		payload["duration"] = req.Duration
	}
	if req.NumOutputs > 1 {
		payload["num_images"] = req.NumOutputs
	}

	var references []string
	for i, in := range req.Inputs {
		url := inputURLs[i]
		switch in.Role {
		case RoleStartFrame:
			payload["start_image_url"] = url
		case RoleEndFrame:
			payload["end_image_url"] = url
		case RoleMotion, RoleSource:
			payload["video_url"] = url
		default:
			references = append(references, url)
		}
	}
	switch len(references) {
	case 0:
	case 1:
		if _, taken := payload["image_url"]; taken {
			payload["image_urls"] = references
		} else {
			payload["image_url"] = references[0]
		}
	default:
		payload["image_urls"] = references
	}
	return payload
}
