package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes normalized float samples as a 16-bit mono WAV stream.
func WriteWAV(out io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = InputSampleRate
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		data[i] = int(max(-32768, min(32767, v)))
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile creates a temp file under dir holding samples as WAV. The caller removes it.
func WriteWAVFile(dir string, samples []float32, sampleRate int) (*os.File, error) {
	f, err := os.CreateTemp(dir, "voiced_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return f, nil
}

// ReadWAV decodes a 16-bit WAV stream back into PCM16LE bytes and its sample rate.
func ReadWAV(in io.ReadSeeker) ([]byte, int, error) {
	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid wav stream")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	out := make([]byte, 0, len(buf.Data)*2)
	for _, v := range buf.Data {
		out = AppendSample(out, int16(v))
	}
	return out, int(dec.SampleRate), nil
}
