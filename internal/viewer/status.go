package viewer

// Mode selects the coordinator lifecycle at construction time. A training
// coordinator cycles Training↔Paused and ends in Completed; a rendering
// coordinator stays in Rendering for its whole life.
type Mode int

const (
	ModeTraining Mode = iota
	ModeRendering
)

// Status is the coordinator-wide lifecycle phase. It gates training-driven
// updates only; camera-driven previews work in every phase, including
// Completed (viewing a finished result stays interactive).
type Status int

const (
	StatusTraining Status = iota
	StatusPaused
	StatusRendering
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusTraining:
		return "training"
	case StatusPaused:
		return "paused"
	case StatusRendering:
		return "rendering"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// transitions is the explicit table of allowed status changes. Rendering
// and Completed have no outgoing edges: Rendering is fixed at
// construction, Completed is terminal.
var transitions = map[Status][]Status{
	StatusTraining: {StatusPaused, StatusCompleted},
	StatusPaused:   {StatusTraining, StatusCompleted},
}

func (s Status) canTransition(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}
