package stt

import "context"

// LoadOptions are fixed when the model is loaded and never change afterwards.
type LoadOptions struct {
	Model         string
	Device        Device
	HalfPrecision bool
	Language      string
	Threads       int
}

// Backend is an inference runtime able to load a transcription model.
type Backend interface {
	Name() string
	// Available returns a dependency_missing error when the runtime is not installed.
	Available() error
	Load(ctx context.Context, opts LoadOptions) (Model, error)
}

// Model is a loaded, immutable transcription model.
type Model interface {
	// Transcribe runs inference over samples normalized to [-1, 1].
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error)
	// Reentrant reports whether Transcribe may run concurrently with itself.
	Reentrant() bool
	Close() error
}
