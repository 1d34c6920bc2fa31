// Package journal records transcriptions and accepted wake events.
package journal

import (
	"context"
	"time"
)

type Kind string

const (
	KindTranscription Kind = "transcription"
	KindWake          Kind = "wake"
)

// Entry is one journaled event.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Language  string    `json:"language,omitempty"`
	Device    string    `json:"device,omitempty"`
	AudioMS   int64     `json:"audio_ms,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists journal entries. Recent returns newest first; an empty kind matches every entry.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	Recent(ctx context.Context, kind Kind, limit int) ([]Entry, error)
	Close() error
}

const DefaultRecentLimit = 20

func normalizeLimit(limit, max int) int {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}
