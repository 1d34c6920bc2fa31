package synth

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestToneIsDeterministic(t *testing.T) {
	engine := NewTone()
	a := engine.Synthesize("hello")
	b := engine.Synthesize("hello")
	if !bytes.Equal(a.PCM, b.PCM) {
		t.Fatalf("identical text produced different clips")
	}
	if a.SampleRate != 24000 || a.Channels != 1 {
		t.Fatalf("format = %d Hz x%d, want 24000 Hz mono", a.SampleRate, a.Channels)
	}
}

func TestToneEmptyTextUsesMinimumDuration(t *testing.T) {
	clip := NewTone().Synthesize("")
	if got := clip.Duration(); got != 200*time.Millisecond {
		t.Fatalf("Duration() = %v, want 200ms", got)
	}
	if len(clip.PCM) != 4800*2 {
		t.Fatalf("len(PCM) = %d, want %d", len(clip.PCM), 4800*2)
	}
}

func TestToneDurationClamp(t *testing.T) {
	engine := NewTone()
	cases := []struct {
		text string
		want time.Duration
	}{
		{"hi", 200 * time.Millisecond},
		{strings.Repeat("a", 10), 500 * time.Millisecond},
		{strings.Repeat("a", 500), 2 * time.Second},
	}
	for _, tc := range cases {
		if got := engine.Duration(tc.text); got != tc.want {
			t.Fatalf("Duration(len=%d) = %v, want %v", len(tc.text), got, tc.want)
		}
	}
}

func TestToneFrequencyRange(t *testing.T) {
	engine := NewTone()
	for _, text := range []string{"", "hello", "hey vim", strings.Repeat("x", 99)} {
		f := engine.Frequency(text)
		if f < 440 || f >= 840 {
			t.Fatalf("Frequency(%q) = %v, outside [440, 840)", text, f)
		}
	}
}

func TestToneAmplitudeBound(t *testing.T) {
	clip := NewTone().Synthesize("amplitude check")
	limit := int16(math.Ceil(toneAmplitude * 32767))
	for i := 0; i+1 < len(clip.PCM); i += 2 {
		s := int16(uint16(clip.PCM[i]) | uint16(clip.PCM[i+1])<<8)
		if s > limit || s < -limit {
			t.Fatalf("sample %d = %d exceeds %d", i/2, s, limit)
		}
	}
}

func TestNewSelectsEngine(t *testing.T) {
	for _, name := range []string{"", "null", "tone", "NULL"} {
		engine, err := New(name)
		if err != nil {
			t.Fatalf("New(%q) error = %v", name, err)
		}
		if engine.Name() != "null" {
			t.Fatalf("New(%q).Name() = %q", name, engine.Name())
		}
	}
	if _, err := New("piper"); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}
