package synth

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/ent0n29/voiced/internal/audio"
)

const (
	toneBaseHz    = 440
	toneSpreadHz  = 400
	toneAmplitude = 0.2
	toneCharsPerS = 20.0
	toneMinDur    = 200 * time.Millisecond
	toneMaxDur    = 2 * time.Second
)

// Tone renders a sine wave whose pitch comes from a hash of the text and whose length grows with it.
type Tone struct {
	sampleRate int
}

func NewTone() *Tone {
	return &Tone{sampleRate: audio.SynthSampleRate}
}

func (t *Tone) Name() string    { return EngineTone }
func (t *Tone) SampleRate() int { return t.sampleRate }
func (t *Tone) Channels() int   { return 1 }

// Frequency maps text into [440, 840) Hz.
func (t *Tone) Frequency(text string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return float64(toneBaseHz + h.Sum32()%toneSpreadHz)
}

// Duration is len(text)/20 seconds clamped to [0.2s, 2s].
func (t *Tone) Duration(text string) time.Duration {
	d := time.Duration(float64(len(text)) / toneCharsPerS * float64(time.Second))
	return min(toneMaxDur, max(toneMinDur, d))
}

func (t *Tone) Synthesize(text string) audio.Clip {
	freq := t.Frequency(text)
	n := int(int64(t.sampleRate) * int64(t.Duration(text)) / int64(time.Second))
	pcm := make([]byte, 0, n*audio.BytesPerSample)
	for i := 0; i < n; i++ {
		at := float64(i) / float64(t.sampleRate)
		s := int16(toneAmplitude * 32767 * math.Sin(2*math.Pi*freq*at))
		pcm = audio.AppendSample(pcm, s)
	}
	return audio.Clip{PCM: pcm, SampleRate: t.sampleRate, Channels: 1}
}
