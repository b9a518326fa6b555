// ABOUTME: OpenAI Images adapter using the official SDK, exposed through the blocking-subscribe shape.
// ABOUTME: Base64 image payloads are republished through the uploader so callers always get a URL.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter implements SubscribeAdapter over the OpenAI Images API. The
// API is synchronous, so the full call maps to a single subscribe with at
// most one progress event.
type OpenAIAdapter struct {
	client   openai.Client
	Uploader Uploader
}

// NewOpenAIAdapter creates an Images adapter. A custom base URL routes to
// OpenAI-compatible image services.
func NewOpenAIAdapter(apiKey, baseURL string, uploader Uploader) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client:   openai.NewClient(opts...),
		Uploader: uploader,
	}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Subscribe generates or edits an image. Reference inputs select the edit
// endpoint; a bare prompt selects generation.
func (a *OpenAIAdapter) Subscribe(ctx context.Context, req Request, onProgress ProgressFunc) (*Outcome, error) {
	if req.Prompt == "" {
		return nil, &ValidationError{Message: "prompt is required"}
	}
	if onProgress != nil {
		onProgress(Progress{Status: "IN_PROGRESS"})
	}

	var (
		b64 string
		err error
	)
	if len(req.Inputs) == 0 {
		b64, err = a.generate(ctx, req)
	} else {
		b64, err = a.edit(ctx, req)
	}
	if err != nil {
		return nil, convertOpenAIError(err)
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &MalformedResponseError{Message: "response image is not valid base64"}
	}
	url, err := a.Uploader.Upload(ctx, data, "image/png")
	if err != nil {
		return nil, err
	}
	return &Outcome{ResultURL: url}, nil
}

func (a *OpenAIAdapter) generate(ctx context.Context, req Request) (string, error) {
	params := openai.ImageGenerateParams{
		Model:  openai.ImageModel(req.ModelID),
		Prompt: req.Prompt,
	}
	if size := openAISize(req.AspectRatio); size != "" {
		params.Size = openai.ImageGenerateParamsSize(size)
	}
	resp, err := a.client.Images.Generate(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", &MalformedResponseError{Message: "generate response contains no image data"}
	}
	return resp.Data[0].B64JSON, nil
}

func (a *OpenAIAdapter) edit(ctx context.Context, req Request) (string, error) {
	var files []io.Reader
	for i, in := range req.Inputs {
		if in.Kind != InputImage {
			return "", &ValidationError{Message: "image editing accepts image inputs only"}
		}
		if len(in.Data) == 0 {
			return "", &ValidationError{Message: "image editing requires raw image bytes"}
		}
		mime := in.Mime
		if mime == "" {
			mime = "image/png"
		}
		name := fmt.Sprintf("input-%d.png", i)
		files = append(files, openai.File(bytes.NewReader(in.Data), name, mime))
	}

	params := openai.ImageEditParams{
		Model:  openai.ImageModel(req.ModelID),
		Prompt: req.Prompt,
		Image:  openai.ImageEditParamsImageUnion{OfFileArray: files},
	}
	if size := openAISize(req.AspectRatio); size != "" {
		params.Size = openai.ImageEditParamsSize(size)
	}
	resp, err := a.client.Images.Edit(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", &MalformedResponseError{Message: "edit response contains no image data"}
	}
	return resp.Data[0].B64JSON, nil
}

// convertOpenAIError maps SDK errors onto the adapter error hierarchy.
func convertOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		var requestID string
		if apierr.Response != nil {
			requestID = apierr.Response.Header.Get("x-request-id")
		}
		return &ProviderError{
			Provider:   "openai",
			StatusCode: apierr.StatusCode,
			Message:    apierr.Message,
			RequestID:  requestID,
			Raw:        json.RawMessage(apierr.RawJSON()),
		}
	}
	return err
}

// openAISize maps the shared aspect-ratio vocabulary to the fixed sizes
// gpt-image models accept.
func openAISize(aspectRatio string) string {
	switch aspectRatio {
	case "1:1":
		return "1024x1024"
	case "16:9", "3:2", "4:3":
		return "1536x1024"
	case "9:16", "2:3", "3:4":
		return "1024x1536"
	default:
		return ""
	}
}
