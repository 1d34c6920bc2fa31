// Package wake listens to the microphone for a wake phrase and asks the core service to start a
// realtime session when it hears one.
package wake

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SampleRate is the capture rate every keyword engine expects.
const SampleRate = 16000

// Detection is one keyword hit reported by an engine.
type Detection struct {
	Keyword string
	Text    string
	At      time.Time
}

// Engine consumes fixed-size frames and reports keyword hits.
type Engine interface {
	Name() string
	// FrameLength is the number of samples Process expects per call.
	FrameLength() int
	Process(ctx context.Context, frame []int16) (Detection, bool, error)
	Close() error
}

// EngineOpener builds an engine or reports the missing dependency that prevents it.
type EngineOpener func() (Engine, error)

const (
	EnginePhrase = "phrase"
	EngineExec   = "exec"
)

// EngineConfig carries the settings of every engine; each engine reads its own fields.
type EngineConfig struct {
	Phrase      string
	Transcriber Transcriber
	Language    string

	Command     string
	Keyword     KeywordConfig
	AccessKey   string
	Sensitivity float64
}

// NewEngineOpener returns the opener for name.
func NewEngineOpener(name string, cfg EngineConfig) (EngineOpener, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EnginePhrase:
		return func() (Engine, error) {
			e, err := OpenPhraseEngine(cfg.Phrase, cfg.Language, cfg.Transcriber)
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	case EngineExec:
		return func() (Engine, error) {
			e, err := OpenExecEngine(cfg.Command, cfg.Keyword, cfg.AccessKey, cfg.Sensitivity)
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown wake engine %q", name)
	}
}
