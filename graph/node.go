// ABOUTME: Node entity for the generation canvas: types, statuses, settings, and frame-role mappings.
// ABOUTME: Nodes are graph vertices; connections are derived from each node's ordered parent list.
package graph

// NodeType identifies what kind of generation step a node represents.
// The set is closed: the mode resolver and dispatcher only understand these.
type NodeType string

const (
	NodeText            NodeType = "text"
	NodeImage           NodeType = "image"
	NodeVideo           NodeType = "video"
	NodeStyleImmutable  NodeType = "style_immutable"
	NodeImageEditor     NodeType = "image_editor"
	NodeVideoEditor     NodeType = "video_editor"
	NodeCameraAngle     NodeType = "camera_angle"
	NodeLocalImageModel NodeType = "local_image_model"
	NodeLocalVideoModel NodeType = "local_video_model"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeText, NodeImage, NodeVideo, NodeStyleImmutable, NodeImageEditor,
		NodeVideoEditor, NodeCameraAngle, NodeLocalImageModel, NodeLocalVideoModel:
		return true
	}
	return false
}

// ProducesImage reports whether a successful node of this type yields an image
// usable as a downstream generation input.
func (t NodeType) ProducesImage() bool {
	switch t {
	case NodeImage, NodeStyleImmutable, NodeImageEditor, NodeCameraAngle, NodeLocalImageModel:
		return true
	}
	return false
}

// ProducesVideo reports whether a successful node of this type yields a video
// usable as a downstream generation input.
func (t NodeType) ProducesVideo() bool {
	switch t {
	case NodeVideo, NodeVideoEditor, NodeLocalVideoModel:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a node's most recent generation.
type NodeStatus string

const (
	StatusIdle    NodeStatus = "idle"
	StatusLoading NodeStatus = "loading"
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
)

// FrameRole assigns an image parent to one end of a frame-to-frame generation.
type FrameRole string

const (
	FrameStart FrameRole = "start"
	FrameEnd   FrameRole = "end"
)

// FrameInputs is a sparse parentID -> role mapping. It is only consulted when
// exactly two image parents feed a video node.
type FrameInputs map[string]FrameRole

// Swap returns a copy with start and end roles exchanged. Swapping twice
// returns the original mapping.
func (f FrameInputs) Swap() FrameInputs {
	if f == nil {
		return nil
	}
	out := make(FrameInputs, len(f))
	for id, role := range f {
		switch role {
		case FrameStart:
			out[id] = FrameEnd
		case FrameEnd:
			out[id] = FrameStart
		default:
			out[id] = role
		}
	}
	return out
}

// Node is one generation step on the canvas. ParentIDs is ordered; order is
// significant for frame-role assignment. The mutable generation fields
// (Status, ResultURL, ResultURLs, ResultAspectRatio, ErrorMessage) are owned
// by the dispatcher while a job is active.
type Node struct {
	ID     string     `json:"id"`
	Type   NodeType   `json:"type"`
	Status NodeStatus `json:"status"`

	Prompt  string `json:"prompt,omitempty"`
	ModelID string `json:"model_id,omitempty"`

	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	VideoDuration  int    `json:"video_duration,omitempty"`
	VideoMode      string `json:"video_mode,omitempty"`
	VariationCount int    `json:"variation_count,omitempty"`

	ResultURL         string   `json:"result_url,omitempty"`
	ResultURLs        []string `json:"result_urls,omitempty"`
	ResultAspectRatio string   `json:"result_aspect_ratio,omitempty"`
	ErrorMessage      string   `json:"error_message,omitempty"`

	ParentIDs   []string    `json:"parent_ids,omitempty"`
	FrameInputs FrameInputs `json:"frame_inputs,omitempty"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	cp := *n
	cp.ParentIDs = append([]string(nil), n.ParentIDs...)
	cp.ResultURLs = append([]string(nil), n.ResultURLs...)
	if n.FrameInputs != nil {
		cp.FrameInputs = make(FrameInputs, len(n.FrameInputs))
		for k, v := range n.FrameInputs {
			cp.FrameInputs[k] = v
		}
	}
	return &cp
}

// Update is a partial write to a node's mutable generation fields.
// Nil pointer fields are left untouched.
type Update struct {
	Status            *NodeStatus
	Prompt            *string
	ModelID           *string
	AspectRatio       *string
	Resolution        *string
	VideoDuration     *int
	VideoMode         *string
	VariationCount    *int
	ResultURL         *string
	ResultURLs        []string
	ResultAspectRatio *string
	ErrorMessage      *string
	FrameInputs       FrameInputs
}

// apply writes the update's non-nil fields onto the node.
func (u Update) apply(n *Node) {
	if u.Status != nil {
		n.Status = *u.Status
	}
	if u.Prompt != nil {
		n.Prompt = *u.Prompt
	}
	if u.ModelID != nil {
		n.ModelID = *u.ModelID
	}
	if u.AspectRatio != nil {
		n.AspectRatio = *u.AspectRatio
	}
	if u.Resolution != nil {
		n.Resolution = *u.Resolution
	}
	if u.VideoDuration != nil {
		n.VideoDuration = *u.VideoDuration
	}
	if u.VideoMode != nil {
		n.VideoMode = *u.VideoMode
	}
	if u.VariationCount != nil {
		n.VariationCount = *u.VariationCount
	}
	if u.ResultURL != nil {
		n.ResultURL = *u.ResultURL
	}
	if u.ResultURLs != nil {
		n.ResultURLs = append([]string(nil), u.ResultURLs...)
	}
	if u.ResultAspectRatio != nil {
		n.ResultAspectRatio = *u.ResultAspectRatio
	}
	if u.ErrorMessage != nil {
		n.ErrorMessage = *u.ErrorMessage
	}
	if u.FrameInputs != nil {
		n.FrameInputs = u.FrameInputs
	}
}

// StrPtr returns a pointer to s, for building Updates.
func StrPtr(s string) *string { return &s }

// StatusPtr returns a pointer to st, for building Updates.
func StatusPtr(st NodeStatus) *NodeStatus { return &st }
