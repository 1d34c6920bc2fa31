package voice

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/stt"
)

// MockTranscriber answers every request with a fixed text. Used when exercising transports without a model.
type MockTranscriber struct {
	mu       sync.Mutex
	Text     string
	Err      error
	Snap     stt.Snapshot
	Requests []stt.Request
}

func NewMockTranscriber(text string) *MockTranscriber {
	return &MockTranscriber{
		Text: text,
		Snap: stt.Snapshot{Model: "mock", Device: "auto", HaveNative: true, HaveNumeric: true, Backend: "mock"},
	}
}

func (m *MockTranscriber) Transcribe(_ context.Context, pcm []byte, req stt.Request) (stt.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(pcm) == 0 {
		return stt.Result{}, apperr.New(apperr.KindInvalidInput, "stt.transcribe", "empty body")
	}
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return stt.Result{}, m.Err
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	return stt.Result{
		Text:     m.Text,
		Language: req.Language,
		Device:   stt.DeviceCPU,
		Audio:    time.Duration(len(pcm)/2) * time.Second / time.Duration(sr),
	}, nil
}

func (m *MockTranscriber) Snapshot() stt.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Snap
}

// LastRequest returns the most recent request, if any.
func (m *MockTranscriber) LastRequest() (stt.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return stt.Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}
