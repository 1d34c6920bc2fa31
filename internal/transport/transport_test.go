package transport

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/ent0n29/voiced/internal/journal"
	"github.com/ent0n29/voiced/internal/synth"
	"github.com/ent0n29/voiced/internal/voice"
)

func testDeps() Deps {
	svc := voice.NewService(voice.Config{}, synth.NewTone(), voice.NewMockTranscriber(""), journal.NewInMemoryStore(4), nil, zap.NewNop())
	return Deps{Service: svc, Logger: zap.NewNop()}
}

func TestSelectModes(t *testing.T) {
	autoWant := ModeFallback
	if ConcurrentAvailable {
		autoWant = ModeConcurrent
	}
	cases := []struct {
		mode string
		want string
	}{
		{"", autoWant},
		{"auto", autoWant},
		{" AUTO ", autoWant},
		{"fallback", ModeFallback},
		{"Fallback", ModeFallback},
	}
	for _, tc := range cases {
		srv, err := Select(tc.mode, testDeps())
		if err != nil {
			t.Fatalf("Select(%q) error = %v", tc.mode, err)
		}
		if srv.Name() != tc.want {
			t.Fatalf("Select(%q).Name() = %q, want %q", tc.mode, srv.Name(), tc.want)
		}
	}
}

func TestSelectConcurrent(t *testing.T) {
	srv, err := Select(ModeConcurrent, testDeps())
	if !ConcurrentAvailable {
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Select(concurrent) error = %v, want %v", err, ErrUnavailable)
		}
		return
	}
	if err != nil {
		t.Fatalf("Select(concurrent) error = %v", err)
	}
	if srv.Name() != ModeConcurrent {
		t.Fatalf("Name() = %q, want %q", srv.Name(), ModeConcurrent)
	}
}

func TestSelectRejectsUnknownMode(t *testing.T) {
	if _, err := Select("quic", testDeps()); err == nil {
		t.Fatalf("Select(quic) error = nil, want error")
	}
	if _, err := Select(ModeAuto, Deps{}); err == nil {
		t.Fatalf("Select without service error = nil, want error")
	}
}
