package viewer

import "errors"

var (
	// ErrInvalidConfig is returned when a configuration mutation is out of
	// the documented range; the previous valid value stays in effect.
	ErrInvalidConfig = errors.New("invalid render configuration")

	// ErrRenderingMode is returned by Update on a coordinator constructed
	// in rendering mode. Training-step updates on such a coordinator are a
	// caller wiring mistake, not a runtime condition.
	ErrRenderingMode = errors.New("training update on rendering-mode coordinator")

	// ErrInvalidTransition is returned for a lifecycle change not in the
	// transition table, e.g. pausing after Complete.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrClientClosed is returned by ClientHandle.Publish once the
	// underlying connection is gone. Schedulers swallow it: a render that
	// finishes for a disconnected client is a no-op, not a failure.
	ErrClientClosed = errors.New("client connection closed")
)
