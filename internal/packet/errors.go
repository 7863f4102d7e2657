package packet

import "errors"

// Error conditions shared by sources, decoders and sinks. They are distinct
// kinds, not a hierarchy; match with errors.Is.
var (
	// ErrStreamInitialization reports a source that failed to open or
	// negotiate: file not found, codec unavailable, channel rejected.
	ErrStreamInitialization = errors.New("can't initialize video stream")

	// ErrFrameGeneration reports a source that failed mid-stream while
	// producing a frame.
	ErrFrameGeneration = errors.New("can't generate video frame")

	// ErrEndOfStream reports end of input when the source is not
	// configured to loop.
	ErrEndOfStream = errors.New("end of video stream")

	// ErrFrameNotReady reports a synchronous poll before a frame was
	// assembled.
	ErrFrameNotReady = errors.New("frame not ready")
)
