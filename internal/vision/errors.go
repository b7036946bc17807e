package vision

import "errors"

var (
	// ErrModelsNotReady is returned while the model boundary is loading or reloading.
	ErrModelsNotReady = errors.New("vision: models not ready")
	// ErrBusy means the frame was dropped because earlier work is still in flight.
	ErrBusy = errors.New("vision: busy, frame dropped")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("vision: engine closed")
)
