// ABOUTME: Static model catalog: capability flags, allowed settings, and mode-based filtering.
// ABOUTME: Descriptors are read-only at runtime; the catalog can be loaded from YAML at startup.
package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MediaKind distinguishes image-generating from video-generating models.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// ModelDescriptor is a static catalog entry describing one provider model.
// Capability flags gate which generation modes the model can serve.
type ModelDescriptor struct {
	ID          string    `yaml:"id"`
	Provider    string    `yaml:"provider"`
	DisplayName string    `yaml:"display_name"`
	Kind        MediaKind `yaml:"kind"`

	TextToMedia     bool `yaml:"text_to_media"`
	SingleReference bool `yaml:"single_reference"`
	MultiReference  bool `yaml:"multi_reference"`
	FrameToFrame    bool `yaml:"frame_to_frame"`
	Reference       bool `yaml:"reference"`
	MotionControl   bool `yaml:"motion_control"`
	Extend          bool `yaml:"extend"`

	AspectRatios []string `yaml:"aspect_ratios,omitempty"`
	Resolutions  []string `yaml:"resolutions,omitempty"`
	Durations    []int    `yaml:"durations,omitempty"`

	// DurationResolutions restricts resolutions for specific durations.
	// Durations without an entry allow every value in Resolutions.
	DurationResolutions map[int][]string `yaml:"duration_resolutions,omitempty"`
}

// SupportsMode reports whether the model's capability flags satisfy mode.
func (m ModelDescriptor) SupportsMode(mode Mode) bool {
	switch mode {
	case ModeTextOnly:
		return m.TextToMedia
	case ModeSingleReference:
		return m.SingleReference
	case ModeMultiReference:
		return m.MultiReference
	case ModeFrameToFrame:
		return m.FrameToFrame
	case ModeReference:
		return m.Reference
	case ModeMotionControl:
		return m.MotionControl
	case ModeExtend:
		return m.Extend
	default:
		return false
	}
}

// ResolutionsFor returns the resolutions allowed for the given duration.
func (m ModelDescriptor) ResolutionsFor(duration int) []string {
	if rs, ok := m.DurationResolutions[duration]; ok {
		return rs
	}
	return m.Resolutions
}

// Catalog holds model descriptors and supports lookup and mode filtering.
type Catalog struct {
	models []ModelDescriptor
}

// builtinModels returns the default model set.
func builtinModels() []ModelDescriptor {
	return []ModelDescriptor{
		{
			ID:              "flux-pro-1.1",
			Provider:        "fal",
			DisplayName:     "FLUX1.1 Pro",
			Kind:            KindImage,
			TextToMedia:     true,
			SingleReference: true,
			AspectRatios:    []string{"1:1", "16:9", "9:16", "4:3", "3:4"},
		},
		{
			ID:              "flux-kontext-max",
			Provider:        "fal",
			DisplayName:     "FLUX Kontext Max",
			Kind:            KindImage,
			SingleReference: true,
			MultiReference:  true,
			AspectRatios:    []string{"1:1", "16:9", "9:16", "4:3", "3:4"},
		},
		{
			ID:              "gpt-image-1",
			Provider:        "openai",
			DisplayName:     "GPT Image 1",
			Kind:            KindImage,
			TextToMedia:     true,
			SingleReference: true,
			MultiReference:  true,
			AspectRatios:    []string{"1:1", "3:2", "2:3"},
		},
		// Kling's task API expresses text-to-video and image-to-video only;
		// modes that need a video input are served by the fal models below.
		{
			ID:              "kling-v2-1",
			Provider:        "kling",
			DisplayName:     "Kling 2.1",
			Kind:            KindVideo,
			TextToMedia:     true,
			SingleReference: true,
			FrameToFrame:    true,
			AspectRatios:    []string{"16:9", "9:16", "1:1"},
			Resolutions:     []string{"720p", "1080p"},
			Durations:       []int{5, 10},
			DurationResolutions: map[int][]string{
				10: {"720p"},
			},
		},
		{
			ID:              "kling-v2-1-pro",
			Provider:        "kling",
			DisplayName:     "Kling 2.1 Pro",
			Kind:            KindVideo,
			TextToMedia:     true,
			SingleReference: true,
			FrameToFrame:    true,
			AspectRatios:    []string{"16:9", "9:16", "1:1"},
			Resolutions:     []string{"720p", "1080p"},
			Durations:       []int{5, 10},
		},
		{
			ID:              "hailuo-02",
			Provider:        "fal",
			DisplayName:     "Hailuo 02",
			Kind:            KindVideo,
			TextToMedia:     true,
			SingleReference: true,
			Reference:       true,
			MotionControl:   true,
			AspectRatios:    []string{"16:9", "9:16"},
			Resolutions:     []string{"768p", "1080p"},
			Durations:       []int{6, 10},
		},
		{
			ID:              "pixverse-v4.5",
			Provider:        "fal",
			DisplayName:     "PixVerse 4.5",
			Kind:            KindVideo,
			TextToMedia:     true,
			SingleReference: true,
			FrameToFrame:    true,
			Extend:          true,
			AspectRatios:    []string{"16:9", "9:16", "1:1"},
			Resolutions:     []string{"720p", "1080p"},
			Durations:       []int{5, 8},
		},
	}
}

// DefaultCatalog returns a catalog pre-populated with the built-in models.
// Each call returns an independent copy.
func DefaultCatalog() *Catalog {
	return &Catalog{models: builtinModels()}
}

// LoadCatalog reads model descriptors from a YAML file. Entries with an ID
// matching a built-in model replace it; others are appended.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc struct {
		Models []ModelDescriptor `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := DefaultCatalog()
	for _, m := range doc.Models {
		if m.ID == "" || m.Provider == "" {
			return nil, fmt.Errorf("catalog entry missing id or provider: %+v", m)
		}
		c.Register(m)
	}
	return c, nil
}

// Register adds a model to the catalog, replacing any existing entry with the
// same ID.
func (c *Catalog) Register(model ModelDescriptor) {
	for i := range c.models {
		if c.models[i].ID == model.ID {
			c.models[i] = model
			return
		}
	}
	c.models = append(c.models, model)
}

// Get looks up a model by ID. Returns nil if not found.
func (c *Catalog) Get(id string) *ModelDescriptor {
	for i := range c.models {
		if c.models[i].ID == id {
			m := c.models[i]
			return &m
		}
	}
	return nil
}

// FilterForMode returns the descriptors of the given kind whose capability
// flags satisfy mode, in catalog order.
func (c *Catalog) FilterForMode(kind MediaKind, mode Mode) []ModelDescriptor {
	var out []ModelDescriptor
	for _, m := range c.models {
		if m.Kind == kind && m.SupportsMode(mode) {
			out = append(out, m)
		}
	}
	return out
}

// SelectModel keeps current if it appears in filtered, otherwise falls back
// to the first filtered entry. The second return reports whether the
// selection changed, so callers can surface the new default.
func SelectModel(current string, filtered []ModelDescriptor) (string, bool) {
	for _, m := range filtered {
		if m.ID == current {
			return current, false
		}
	}
	if len(filtered) == 0 {
		return "", current != ""
	}
	return filtered[0].ID, filtered[0].ID != current
}
