package audio

import (
	"encoding/binary"
	"iter"
	"math"
	"time"
)

const (
	// SynthSampleRate is the rate of every clip the synthesis engines produce.
	SynthSampleRate = 24000
	// InputSampleRate is the rate assumed for transcription uploads and wake capture.
	InputSampleRate = 16000
	BytesPerSample  = 2
	DefaultChunkMS  = 50
)

// Clip is a mono or interleaved PCM16LE buffer with its sample rate.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func (c Clip) Samples() int {
	ch := c.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(c.PCM) / (BytesPerSample * ch)
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.SampleRate)
}

// Quantize converts an amplitude in [-1, 1] to a signed 16-bit sample. Out of range values clip.
func Quantize(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}

// AppendSample appends s to dst as two little-endian bytes.
func AppendSample(dst []byte, s int16) []byte {
	return binary.LittleEndian.AppendUint16(dst, uint16(s))
}

// DecodePCM16 interprets b as PCM16LE and scales every sample by 1/32768.
// A trailing odd byte is ignored.
func DecodePCM16(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out
}

// DecodeInt16 fills dst with the samples stored in b and returns the count written.
func DecodeInt16(dst []int16, b []byte) int {
	n := min(len(dst), len(b)/2)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return n
}

// EncodeInt16 is the inverse of DecodeInt16.
func EncodeInt16(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = AppendSample(out, s)
	}
	return out
}

// ChunkBytes returns the byte size of one chunkMS slice of 16-bit audio.
func ChunkBytes(sampleRate, chunkMS, channels int) int {
	if chunkMS <= 0 {
		chunkMS = DefaultChunkMS
	}
	if channels <= 0 {
		channels = 1
	}
	return sampleRate * chunkMS / 1000 * BytesPerSample * channels
}

// Chunks yields consecutive slices of buf of at most size bytes. Only the last may be shorter.
// Each yielded slice aliases buf.
func Chunks(buf []byte, size int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if size <= 0 {
			size = len(buf)
		}
		for start := 0; start < len(buf); start += size {
			end := min(start+size, len(buf))
			if !yield(buf[start:end]) {
				return
			}
		}
	}
}

// MeanAbs returns the mean absolute amplitude of samples normalized to [0, 1].
func MeanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v / 32768
	}
	return sum / float64(len(samples))
}
