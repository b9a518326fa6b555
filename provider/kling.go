// ABOUTME: Create-task/poll adapter for Kling-style video APIs with JWT auth.
// ABOUTME: Poll responses are normalized to pending/succeeded/failed via ClassifyState.
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// KlingAdapter implements TaskAdapter for Kling's task-based generation API.
// Every poll reduces the provider's vocabulary of task states to the three
// the caller understands; states the adapter has never seen stay pending.
type KlingAdapter struct {
	*BaseAdapter
	AccessKey string
	SecretKey string
	Uploader  Uploader

	mu        sync.Mutex
	taskPaths map[string]string // task id -> creation endpoint, for polling
}

// NewKlingAdapter creates a Kling adapter. Auth tokens are minted per
// request from the access/secret key pair.
func NewKlingAdapter(accessKey, secretKey string, uploader Uploader) *KlingAdapter {
	base := NewBaseAdapter("kling", "", "https://api.klingai.com")
	a := &KlingAdapter{
		BaseAdapter: base,
		AccessKey:   accessKey,
		SecretKey:   secretKey,
		Uploader:    uploader,
		taskPaths:   make(map[string]string),
	}
	base.AuthToken = a.mintToken
	return a
}

// Name returns the provider name.
func (a *KlingAdapter) Name() string { return "kling" }

type klingTaskEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type klingTaskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
}

// CreateTask submits a generation job and returns the provider task id.
func (a *KlingAdapter) CreateTask(ctx context.Context, req Request) (string, error) {
	if req.ModelID == "" {
		return "", &ValidationError{Message: "model id is required"}
	}
	// Only roles the text2video/image2video endpoints can express are
	// accepted. Anything else must not be dropped silently: the caller
	// resolved a mode, and a payload missing that mode's input would run
	// a different generation than the one requested.
	for _, in := range req.Inputs {
		switch in.Role {
		case RoleStartFrame, RoleEndFrame, RoleReference:
		default:
			return "", &ValidationError{Message: fmt.Sprintf("kling has no field for a %s input", in.Role)}
		}
	}
	urls, err := EnsureURLs(ctx, a.Uploader, req.Inputs)
	if err != nil {
		return "", err
	}

	path := "/v1/videos/text2video"
	payload := map[string]any{
		"model_name": req.ModelID,
		"prompt":     req.Prompt,
	}
	if req.AspectRatio != "" {
		payload["aspect_ratio"] = req.AspectRatio
	}
	if req.Duration > 0 {
		payload["duration"] = fmt.Sprintf("%d", req.Duration)
	}
	if req.VideoMode != "" {
		payload["mode"] = req.VideoMode
	}
	for i, in := range req.Inputs {
		switch in.Role {
		case RoleStartFrame:
			path = "/v1/videos/image2video"
			payload["image"] = urls[i]
		case RoleEndFrame:
			path = "/v1/videos/image2video"
			payload["image_tail"] = urls[i]
		case RoleReference:
			if _, taken := payload["image"]; taken {
				return "", &ValidationError{Message: "kling accepts a single reference image"}
			}
			path = "/v1/videos/image2video"
			payload["image"] = urls[i]
		}
	}

	resp, err := a.DoRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}
	var envelope klingTaskEnvelope
	if _, err := a.DecodeJSON(resp, &envelope); err != nil {
		return "", err
	}
	if envelope.Code != 0 {
		return "", &ProviderError{Provider: a.Provider, Message: envelope.Message}
	}
	var data klingTaskData
	if err := json.Unmarshal(envelope.Data, &data); err != nil || data.TaskID == "" {
		return "", &MalformedResponseError{Message: "create response missing task_id"}
	}
	a.mu.Lock()
	a.taskPaths[data.TaskID] = path
	a.mu.Unlock()
	return data.TaskID, nil
}

// pollPath returns the endpoint a task was created on. Tasks the adapter
// did not create itself poll the text2video endpoint.
func (a *KlingAdapter) pollPath(taskID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.taskPaths[taskID]; ok {
		return p
	}
	return "/v1/videos/text2video"
}

// PollTask fetches the task and classifies its state. Unknown provider
// states are treated as still pending rather than failures.
func (a *KlingAdapter) PollTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	resp, err := a.DoRequest(ctx, http.MethodGet, a.pollPath(taskID)+"/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	var envelope klingTaskEnvelope
	raw, err := a.DecodeJSON(resp, &envelope)
	if err != nil {
		return nil, err
	}
	if envelope.Code != 0 {
		return nil, &ProviderError{Provider: a.Provider, Message: envelope.Message}
	}
	var data klingTaskData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, &MalformedResponseError{Message: "poll response has malformed data"}
	}

	status := &TaskStatus{State: ClassifyState(data.TaskStatus)}
	switch status.State {
	case TaskSucceeded:
		status.ResultURL = ExtractResultURLFromRaw(raw)
	case TaskFailed:
		status.FailureReason = data.TaskStatusMsg
		if status.FailureReason == "" {
			status.FailureReason = "task " + data.TaskStatus
		}
	}
	return status, nil
}

// mintToken builds a short-lived HS256 JWT from the key pair.
func (a *KlingAdapter) mintToken() string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	now := time.Now().Unix()
	claims := fmt.Sprintf(`{"iss":%q,"exp":%d,"nbf":%d}`, a.AccessKey, now+1800, now-5)
	body := base64.RawURLEncoding.EncodeToString([]byte(claims))
	signingInput := header + "." + body
	mac := hmac.New(sha256.New, []byte(a.SecretKey))
	mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return strings.Join([]string{header, body, sig}, ".")
}
