package transport

// Control names accepted in inbound control messages.
const (
	controlPause        = "pause"
	controlResume       = "resume"
	controlMaxRenderRes = "max_render_res"
)

// inboundMessage is what a client sends: camera pose updates and GUI
// control changes share one envelope, discriminated by Type.
type inboundMessage struct {
	Type string `json:"type"` // "camera" or "control"

	// Camera fields.
	Fov      float64    `json:"fov,omitempty"`
	Aspect   float64    `json:"aspect,omitempty"`
	Position [3]float64 `json:"position,omitempty"`
	WXYZ     [4]float64 `json:"wxyz,omitempty"` // orientation quaternion, w first

	// Control fields.
	Name  string `json:"name,omitempty"`
	Value int    `json:"value,omitempty"`
}

// frameMessage delivers one rendered frame to a client. JPEG holds the
// encoded image; Depth, when present, is the row-major float32 depth map
// in little-endian bytes. Both are base64 on the wire via encoding/json.
type frameMessage struct {
	Type   string `json:"type"` // "frame"
	Width  int    `json:"width"`
	Height int    `json:"height"`
	JPEG   []byte `json:"jpeg"`
	Depth  []byte `json:"depth,omitempty"`
}

// statsMessage updates the client's stats display line.
type statsMessage struct {
	Type string `json:"type"` // "stats"
	Text string `json:"text"`
}

// controlsMessage tells clients which training controls to show.
type controlsMessage struct {
	Type            string `json:"type"` // "controls"
	TrainingVisible bool   `json:"training_visible"`
	Paused          bool   `json:"paused"`
}
