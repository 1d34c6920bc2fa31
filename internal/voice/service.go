// Package voice is the transport independent core behind every endpoint.
package voice

import (
	"context"
	"iter"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/audio"
	"github.com/ent0n29/voiced/internal/journal"
	"github.com/ent0n29/voiced/internal/observability"
	"github.com/ent0n29/voiced/internal/policy"
	"github.com/ent0n29/voiced/internal/protocol"
	"github.com/ent0n29/voiced/internal/stt"
	"github.com/ent0n29/voiced/internal/synth"
)

// Transcriber is the slice of stt.Service the endpoints need.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, req stt.Request) (stt.Result, error)
	Snapshot() stt.Snapshot
}

type Config struct {
	ChunkMS int
	// RedactJournal masks contact details and secrets in journaled transcripts. Responses are never masked.
	RedactJournal bool
}

type Service struct {
	cfg     Config
	engine  synth.Engine
	stt     Transcriber
	journal journal.Store
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewService(cfg Config, engine synth.Engine, transcriber Transcriber, store journal.Store, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if cfg.ChunkMS <= 0 {
		cfg.ChunkMS = audio.DefaultChunkMS
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		engine:  engine,
		stt:     transcriber,
		journal: store,
		metrics: metrics,
		logger:  logger.Named("voice"),
	}
}

func (s *Service) Metrics() *observability.Metrics { return s.metrics }

func (s *Service) TTSHealth() protocol.TTSHealth {
	return protocol.TTSHealth{
		OK:         true,
		Engine:     s.engine.Name(),
		SampleRate: s.engine.SampleRate(),
		Channels:   s.engine.Channels(),
		TTSReady:   true,
	}
}

// STTHealth never triggers or waits on a model load.
func (s *Service) STTHealth() protocol.STTHealth {
	snap := s.stt.Snapshot()
	return protocol.STTHealth{
		OK:             true,
		STTReady:       snap.Ready,
		HaveNativeSTT:  snap.HaveNative,
		HaveNumericDep: snap.HaveNumeric,
		Model:          snap.Model,
		Device:         snap.Device,
		Loading:        snap.Loading,
		Backend:        snap.Backend,
		LastError:      snap.LastLoadError,
	}
}

// Stream is a synthesized clip ready to be framed for a client.
type Stream struct {
	Clip      audio.Clip
	ChunkSize int
}

func (st Stream) Chunks() iter.Seq[[]byte] {
	return audio.Chunks(st.Clip.PCM, st.ChunkSize)
}

// Synthesize renders text, substituting the default greeting when text is blank.
func (s *Service) Synthesize(text string) Stream {
	if strings.TrimSpace(text) == "" {
		text = synth.DefaultText
	}
	clip := s.engine.Synthesize(text)
	return Stream{
		Clip:      clip,
		ChunkSize: audio.ChunkBytes(clip.SampleRate, s.cfg.ChunkMS, clip.Channels),
	}
}

// Transcribe runs body through the model and journals the result.
func (s *Service) Transcribe(ctx context.Context, body []byte, language string, sampleRate int) (protocol.TranscribeResponse, error) {
	res, err := s.stt.Transcribe(ctx, body, stt.Request{Language: strings.TrimSpace(language), SampleRate: sampleRate})
	if err != nil {
		s.metrics.ObserveTranscription(string(apperr.KindOf(err)))
		return protocol.TranscribeResponse{}, err
	}
	s.metrics.ObserveTranscription("ok")

	out := protocol.TranscribeResponse{Text: res.Text, Language: res.Language}
	if s.journal == nil {
		return out, nil
	}
	text := res.Text
	if s.cfg.RedactJournal {
		var hits []string
		if text, hits = policy.RedactTranscript(text); len(hits) > 0 {
			s.logger.Debug("transcript redacted for journal", zap.Strings("rules", hits))
		}
	}
	entry, err := s.journal.Append(ctx, journal.Entry{
		Kind:      journal.KindTranscription,
		Text:      text,
		Language:  res.Language,
		Device:    string(res.Device),
		AudioMS:   res.Audio.Milliseconds(),
		LatencyMS: res.Took.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("journal append failed", zap.Error(err))
		return out, nil
	}
	out.ID = entry.ID
	return out, nil
}

// Recent lists the newest transcriptions.
func (s *Service) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return []journal.Entry{}, nil
	}
	entries, err := s.journal.Recent(ctx, journal.KindTranscription, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "voice.recent", "journal query failed", err)
	}
	return entries, nil
}

const (
	minSampleRate = 8000
	maxSampleRate = 192000
)

// ParseSampleRate reads the X-Sample-Rate header value. Blank means 16 kHz.
func ParseSampleRate(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return audio.InputSampleRate, nil
	}
	sr, err := strconv.Atoi(raw)
	if err != nil || sr < minSampleRate || sr > maxSampleRate {
		return 0, apperr.New(apperr.KindInvalidInput, "voice.sample_rate", "invalid sample rate "+strconv.Quote(raw))
	}
	return sr, nil
}

// ParseLimit reads the ?limit= query value for the recent listing.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return journal.DefaultRecentLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperr.New(apperr.KindInvalidInput, "voice.limit", "invalid limit "+strconv.Quote(raw))
	}
	return n, nil
}

// ErrorBody renders err the way both transports report failures.
func ErrorBody(err error) (int, protocol.ErrorMessage) {
	return apperr.HTTPStatus(err), protocol.ErrorMessage{Error: apperr.Message(err), Code: string(apperr.KindOf(err))}
}
