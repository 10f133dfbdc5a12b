package core

import "context"

type AudioFormat struct {
	SampleRate  int
	NumChannels int
}

// AudioStream is an exclusive live capture. Frames is closed after Close
// or when the device runs dry.
type AudioStream interface {
	Frames() <-chan []int
	Format() AudioFormat
	Close() error
}

// Microphone opens exclusive captures. A nil Microphone means capture is unsupported.
type Microphone interface {
	Open(ctx context.Context) (AudioStream, error)
}
