package streamsplit

import "context"

// Input is an opened hardware capture stream.
type Input interface {
	// BufferSize is the preferred read size in bytes.
	BufferSize() uint32
	SampleRate() uint32
	// FrameSize is the size of one frame (all channels) in bytes.
	FrameSize() uint32
	// Read fills p with captured PCM. Returning 0 bytes with a nil error
	// means no data is available yet.
	Read(p []byte) (int, error)
}

// HAL opens and releases hardware inputs.
type HAL interface {
	OpenInput(ctx context.Context, deviceID uint32) (Input, error)
	CloseInput(in Input) error
}

