package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidStreamRequest = errors.New("invalid stream request")

// StreamRequest is the text frame a client sends to open a synthesis stream.
type StreamRequest struct {
	Text *string `json:"text"`
}

type ErrorMessage struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type TTSHealth struct {
	OK         bool   `json:"ok"`
	Engine     string `json:"engine"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	TTSReady   bool   `json:"tts_ready"`
}

type STTHealth struct {
	OK             bool   `json:"ok"`
	STTReady       bool   `json:"stt_ready"`
	HaveNativeSTT  bool   `json:"have_native_stt"`
	HaveNumericDep bool   `json:"have_numeric_dep"`
	Model          string `json:"model"`
	Device         string `json:"device"`
	Loading        bool   `json:"loading"`
	Backend        string `json:"backend,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

type TranscribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	ID       string `json:"id,omitempty"`
}

// RealtimeStart is posted to the control endpoint when the wake phrase is heard.
type RealtimeStart struct {
	Voice string        `json:"voice"`
	Audio RealtimeAudio `json:"audio"`
}

type RealtimeAudio struct {
	InSR      int    `json:"in_sr"`
	OutFormat string `json:"out_format"`
}

// ParseStreamRequest decodes a stream request frame. A missing, null or blank text yields fallback.
func ParseStreamRequest(raw []byte, fallback string) (string, error) {
	var req StreamRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStreamRequest, err)
	}
	if req.Text == nil || strings.TrimSpace(*req.Text) == "" {
		return fallback, nil
	}
	return *req.Text, nil
}
