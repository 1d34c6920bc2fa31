package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/audio"
)

func TestWhisperServerAvailability(t *testing.T) {
	b := NewWhisperServer("")
	b.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	if err := b.Available(); !apperr.IsKind(err, apperr.KindDependencyMissing) {
		t.Fatalf("Available() error = %v, want dependency_missing", err)
	}
	b.LookPath = func(name string) (string, error) { return "/usr/local/bin/" + name, nil }
	if err := b.Available(); err != nil {
		t.Fatalf("Available() error = %v", err)
	}
}

func TestWhisperServerLoadRequiresModelFile(t *testing.T) {
	b := NewWhisperServer("whisper-server")
	b.LookPath = func(name string) (string, error) { return "/usr/local/bin/" + name, nil }
	_, err := b.Load(context.Background(), LoadOptions{Model: filepath.Join(t.TempDir(), "missing.bin")})
	if err == nil {
		t.Fatalf("expected error for missing model file")
	}
}

func TestWhisperModelPostsWAV(t *testing.T) {
	pcm := audio.EncodeInt16([]int16{100, -100, 2000})
	var gotLanguage string
	var gotPCM []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw, _ := io.ReadAll(file)
		gotPCM, _, err = audio.ReadWAV(bytes.NewReader(raw))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  hey vim \n"})
	}))
	defer srv.Close()

	m := &whisperModel{baseURL: srv.URL, client: srv.Client()}
	text, err := m.Transcribe(context.Background(), audio.DecodePCM16(pcm), 16000, "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hey vim" {
		t.Fatalf("text = %q, want %q", text, "hey vim")
	}
	if gotLanguage != "en" {
		t.Fatalf("language = %q, want en", gotLanguage)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Fatalf("uploaded pcm = %v, want %v", gotPCM, pcm)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := m.Transcribe(context.Background(), nil, 16000, ""); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestWhisperModelHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	m := &whisperModel{baseURL: srv.URL, client: srv.Client()}
	if _, err := m.Transcribe(context.Background(), []float32{0}, 16000, ""); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestWaitReadyHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &whisperModel{baseURL: srv.URL, client: srv.Client()}
	if err := m.waitReady(ctx); err == nil {
		t.Fatalf("waitReady() succeeded with canceled context")
	}
}

func TestWhisperServerLoadFailsWhenChildExits(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper-server")
	script := "#!/bin/sh\necho 'error: failed to load model' >&2\nexit 1\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	model := filepath.Join(dir, "ggml-base.en.bin")
	if err := os.WriteFile(model, []byte("ggml"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	b := NewWhisperServer(bin)
	b.LookPath = func(string) (string, error) { return bin, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	started := time.Now()
	_, err := b.Load(ctx, LoadOptions{Model: model, Device: DeviceCPU})
	if err == nil {
		t.Fatalf("Load() succeeded for a server that exits")
	}
	if took := time.Since(started); took > 5*time.Second {
		t.Fatalf("Load() took %v, want an early failure", took)
	}
	if !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("Load() error = %v, want child output", err)
	}
}
