package wake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/audio"
	"github.com/ent0n29/voiced/internal/stt"
)

const (
	phraseFrameMS   = 30
	phraseFrameLen  = SampleRate * phraseFrameMS / 1000
	energyThreshold = 0.010
	minSpeechMS     = 400
	maxUtteranceMS  = 10_000
)

// Transcriber turns a captured utterance into text.
type Transcriber interface {
	Available() error
	Transcribe(ctx context.Context, pcm []byte, req stt.Request) (stt.Result, error)
}

// PhraseEngine segments speech with an energy gate and transcribes each utterance long enough to
// hold the wake phrase.
type PhraseEngine struct {
	phrase      string
	language    string
	transcriber Transcriber

	inSpeech bool
	speechMS int
	buf      []int16
}

// OpenPhraseEngine fails with a dependency error when no transcription backend is usable.
func OpenPhraseEngine(phrase, language string, tr Transcriber) (*PhraseEngine, error) {
	const op = "wake.phrase.open"
	if strings.TrimSpace(phrase) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, op, "wake phrase is empty")
	}
	if tr == nil {
		return nil, apperr.New(apperr.KindDependencyMissing, op, "no transcriber configured")
	}
	if err := tr.Available(); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyMissing, op, "transcriber unavailable", err)
	}
	return &PhraseEngine{
		phrase:      phrase,
		language:    language,
		transcriber: tr,
		buf:         make([]int16, 0, SampleRate*2),
	}, nil
}

func (e *PhraseEngine) Name() string     { return EnginePhrase }
func (e *PhraseEngine) FrameLength() int { return phraseFrameLen }

// Process feeds one frame. A hit is reported on the frame that ends an utterance.
func (e *PhraseEngine) Process(ctx context.Context, frame []int16) (Detection, bool, error) {
	if audio.MeanAbs(frame) > energyThreshold {
		e.inSpeech = true
		e.speechMS += phraseFrameMS
		e.buf = append(e.buf, frame...)
		if e.speechMS < maxUtteranceMS {
			return Detection{}, false, nil
		}
	}
	if !e.inSpeech {
		return Detection{}, false, nil
	}

	utterance, speechMS := e.buf, e.speechMS
	defer e.reset()
	if speechMS < minSpeechMS {
		return Detection{}, false, nil
	}
	res, err := e.transcriber.Transcribe(ctx, audio.EncodeInt16(utterance), stt.Request{
		Language:   e.language,
		SampleRate: SampleRate,
	})
	if err != nil {
		return Detection{}, false, fmt.Errorf("transcribe utterance: %w", err)
	}
	if !MatchPhrase(res.Text, e.phrase) {
		return Detection{}, false, nil
	}
	return Detection{Keyword: e.phrase, Text: res.Text, At: time.Now()}, true, nil
}

func (e *PhraseEngine) reset() {
	e.inSpeech = false
	e.speechMS = 0
	e.buf = e.buf[:0]
}

func (e *PhraseEngine) Close() error {
	e.reset()
	return nil
}

var _ Engine = (*PhraseEngine)(nil)
