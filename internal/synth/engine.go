// Package synth holds the text to PCM synthesis engines.
package synth

import (
	"fmt"
	"strings"

	"github.com/ent0n29/voiced/internal/audio"
)

// Engine turns text into a PCM16LE clip. Implementations are stateless and safe for concurrent use.
type Engine interface {
	Name() string
	SampleRate() int
	Channels() int
	Synthesize(text string) audio.Clip
}

const (
	EngineTone = "null"
	// DefaultText is spoken when a stream request carries no text.
	DefaultText = "Hello from voice-daemon"
)

// New returns the engine registered under name. An empty name selects the tone engine.
func New(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EngineTone, "tone":
		return NewTone(), nil
	default:
		return nil, fmt.Errorf("unknown tts engine %q", name)
	}
}
