// ABOUTME: Tests for the Kling task adapter: create/poll wire contract and state normalization.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKlingCreateTask(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ey") {
			t.Errorf("missing JWT auth header, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"code": 0, "data": {"task_id": "task-42"}}`))
	}))
	defer server.Close()

	adapter := NewKlingAdapter("ak", "sk", nil)
	adapter.BaseURL = server.URL
	taskID, err := adapter.CreateTask(context.Background(), Request{
		ModelID:     "kling-v2-1",
		Prompt:      "waves at dusk",
		AspectRatio: "16:9",
		Duration:    5,
		VideoMode:   "pro",
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if taskID != "task-42" {
		t.Errorf("taskID = %q", taskID)
	}
	if gotPath != "/v1/videos/text2video" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["model_name"] != "kling-v2-1" || gotBody["duration"] != "5" || gotBody["mode"] != "pro" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestKlingCreateTaskImageToVideo(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"code": 0, "data": {"task_id": "task-43"}}`))
	}))
	defer server.Close()

	adapter := NewKlingAdapter("ak", "sk", nil)
	adapter.BaseURL = server.URL
	_, err := adapter.CreateTask(context.Background(), Request{
		ModelID: "kling-v2-1",
		Prompt:  "morph between frames",
		Inputs: []Input{
			{URL: "https://cdn.example.com/start.png", Kind: InputImage, Role: RoleStartFrame},
			{URL: "https://cdn.example.com/end.png", Kind: InputImage, Role: RoleEndFrame},
		},
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if gotPath != "/v1/videos/image2video" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["image"] != "https://cdn.example.com/start.png" {
		t.Errorf("image = %v", gotBody["image"])
	}
	if gotBody["image_tail"] != "https://cdn.example.com/end.png" {
		t.Errorf("image_tail = %v", gotBody["image_tail"])
	}
}

func TestKlingCreateTaskRejectsVideoRoles(t *testing.T) {
	// No server: the request must be rejected before any upload or submit,
	// otherwise the task would run without the input the mode resolved.
	adapter := NewKlingAdapter("ak", "sk", nil)
	for _, role := range []InputRole{RoleMotion, RoleSource} {
		_, err := adapter.CreateTask(context.Background(), Request{
			ModelID: "kling-v2-1",
			Prompt:  "march",
			Inputs: []Input{
				{URL: "https://cdn.example.com/clip.mp4", Kind: InputVideo, Role: role},
			},
		})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("CreateTask(%s input) error = %v, want *ValidationError", role, err)
		}
	}
}

func TestKlingCreateTaskRejectsSecondReference(t *testing.T) {
	adapter := NewKlingAdapter("ak", "sk", nil)
	_, err := adapter.CreateTask(context.Background(), Request{
		ModelID: "kling-v2-1",
		Prompt:  "p",
		Inputs: []Input{
			{URL: "https://cdn.example.com/a.png", Kind: InputImage, Role: RoleReference},
			{URL: "https://cdn.example.com/b.png", Kind: InputImage, Role: RoleReference},
		},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("CreateTask() error = %v, want *ValidationError", err)
	}
}

func TestKlingPollTaskUsesCreationEndpoint(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"code": 0, "data": {"task_id": "task-77"}}`))
			return
		}
		w.Write([]byte(`{"code": 0, "data": {"task_id": "task-77", "task_status": "processing"}}`))
	}))
	defer server.Close()

	adapter := NewKlingAdapter("ak", "sk", nil)
	adapter.BaseURL = server.URL
	taskID, err := adapter.CreateTask(context.Background(), Request{
		ModelID: "kling-v2-1",
		Prompt:  "p",
		Inputs: []Input{
			{URL: "https://cdn.example.com/start.png", Kind: InputImage, Role: RoleStartFrame},
		},
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := adapter.PollTask(context.Background(), taskID); err != nil {
		t.Fatalf("PollTask() error = %v", err)
	}
	want := []string{"/v1/videos/image2video", "/v1/videos/image2video/task-77"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}

	// Tasks this adapter never created fall back to the text2video endpoint.
	if _, err := adapter.PollTask(context.Background(), "foreign"); err != nil {
		t.Fatalf("PollTask() error = %v", err)
	}
	if got := paths[len(paths)-1]; got != "/v1/videos/text2video/foreign" {
		t.Errorf("foreign poll path = %q", got)
	}
}

func TestKlingCreateTaskAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 1201, "message": "invalid model"}`))
	}))
	defer server.Close()

	adapter := NewKlingAdapter("ak", "sk", nil)
	adapter.BaseURL = server.URL
	_, err := adapter.CreateTask(context.Background(), Request{ModelID: "bad", Prompt: "p"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("CreateTask() error = %v, want *ProviderError", err)
	}
	if perr.Message != "invalid model" {
		t.Errorf("Message = %q", perr.Message)
	}
}

func TestKlingPollTask(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantState  TaskState
		wantURL    string
		wantReason string
	}{
		{
			name:      "processing stays pending",
			body:      `{"code": 0, "data": {"task_id": "t", "task_status": "processing"}}`,
			wantState: TaskPending,
		},
		{
			name:      "unknown vendor state stays pending",
			body:      `{"code": 0, "data": {"task_id": "t", "task_status": "queued_extended"}}`,
			wantState: TaskPending,
		},
		{
			name: "succeed with nested result",
			body: `{"code": 0, "data": {"task_id": "t", "task_status": "succeed",
				"task_result": {"videos": [{"url": "https://cdn.example.com/out.mp4"}]}}}`,
			wantState: TaskSucceeded,
			wantURL:   "https://cdn.example.com/out.mp4",
		},
		{
			name:       "failed carries reason",
			body:       `{"code": 0, "data": {"task_id": "t", "task_status": "failed", "task_status_msg": "risk control"}}`,
			wantState:  TaskFailed,
			wantReason: "risk control",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewKlingAdapter("ak", "sk", nil)
			adapter.BaseURL = server.URL
			status, err := adapter.PollTask(context.Background(), "t")
			if err != nil {
				t.Fatalf("PollTask() error = %v", err)
			}
			if status.State != tt.wantState {
				t.Errorf("State = %q, want %q", status.State, tt.wantState)
			}
			if status.ResultURL != tt.wantURL {
				t.Errorf("ResultURL = %q, want %q", status.ResultURL, tt.wantURL)
			}
			if status.FailureReason != tt.wantReason {
				t.Errorf("FailureReason = %q, want %q", status.FailureReason, tt.wantReason)
			}
		})
	}
}

func TestKlingMintTokenShape(t *testing.T) {
	adapter := NewKlingAdapter("access", "secret", nil)
	token := adapter.mintToken()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}
	for i, p := range parts {
		if p == "" {
			t.Errorf("segment %d is empty", i)
		}
	}
}
