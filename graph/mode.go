// ABOUTME: Pure generation-mode resolution from graph topology and node-type metadata.
// ABOUTME: Counts image- and video-producing parents to classify a node's generation strategy.
package graph

import (
	"errors"
	"fmt"
)

// Mode is the generation strategy derived from topology. It is a pure
// function of the target node type and its ordered connected parents.
type Mode string

const (
	ModeTextOnly        Mode = "text_only"
	ModeSingleReference Mode = "single_reference"
	ModeMultiReference  Mode = "multi_reference"
	ModeFrameToFrame    Mode = "frame_to_frame"
	ModeReference       Mode = "reference"
	ModeMotionControl   Mode = "motion_control"
	ModeExtend          Mode = "extend"
)

// ErrUnsupportedTopology is returned for parent combinations the product has
// not defined a mode for (e.g. more than one video parent).
var ErrUnsupportedTopology = errors.New("unsupported input topology")

// TargetKind returns whether the node generates an image or a video.
// Editor and local-model nodes resolve the same way as their base type.
func TargetKind(t NodeType) MediaKind {
	if t.ProducesVideo() {
		return KindVideo
	}
	return KindImage
}

// ResolveMode classifies the generation mode for a target node given its
// ordered connected parents. Callers pass only Success-status parents; the
// function itself filters by type, not status.
func ResolveMode(target *Node, parents []*Node) (Mode, error) {
	var images, videos int
	for _, p := range parents {
		switch {
		case p.Type.ProducesImage():
			images++
		case p.Type.ProducesVideo():
			videos++
		}
	}

	if TargetKind(target.Type) == KindImage {
		if videos > 0 {
			return "", fmt.Errorf("%w: image node with %d video parent(s)", ErrUnsupportedTopology, videos)
		}
		switch {
		case images == 0:
			return ModeTextOnly, nil
		case images == 1:
			return ModeSingleReference, nil
		default:
			return ModeMultiReference, nil
		}
	}

	// Video target.
	switch {
	case videos == 0 && images == 0:
		return ModeTextOnly, nil
	case videos == 0 && images == 1:
		return ModeSingleReference, nil
	case videos == 0 && images == 2:
		return ModeFrameToFrame, nil
	case videos == 0 && images >= 3:
		return ModeReference, nil
	case videos == 1 && images == 1:
		return ModeMotionControl, nil
	case videos == 1 && images == 0:
		return ModeExtend, nil
	default:
		return "", fmt.Errorf("%w: %d image and %d video parent(s)", ErrUnsupportedTopology, images, videos)
	}
}

// FramePair is the resolved start/end assignment for a frame-to-frame job.
type FramePair struct {
	StartID string
	EndID   string
}

// ResolveFramePair assigns start and end roles to the two image parents of a
// frame-to-frame video node. Explicit FrameInputs entries win; otherwise
// connection order decides (first connected = start).
func ResolveFramePair(target *Node, parents []*Node) (FramePair, error) {
	var images []*Node
	for _, p := range parents {
		if p.Type.ProducesImage() {
			images = append(images, p)
		}
	}
	if len(images) != 2 {
		return FramePair{}, fmt.Errorf("frame-to-frame requires exactly 2 image parents, got %d", len(images))
	}

	var start, end string
	for _, img := range images {
		switch target.FrameInputs[img.ID] {
		case FrameStart:
			start = img.ID
		case FrameEnd:
			end = img.ID
		}
	}

	// A parent with an explicit role pins it; its sibling takes the other
	// role. With no explicit roles, connection order decides.
	switch {
	case start == "" && end == "":
		start, end = images[0].ID, images[1].ID
	case start == "":
		start = otherOf(images, end)
	case end == "":
		end = otherOf(images, start)
	}
	return FramePair{StartID: start, EndID: end}, nil
}

// otherOf returns the id of whichever of the two images is not id.
func otherOf(images []*Node, id string) string {
	if images[0].ID == id {
		return images[1].ID
	}
	return images[0].ID
}
