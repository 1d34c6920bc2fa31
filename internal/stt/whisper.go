package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/audio"
)

const DefaultWhisperBinary = "whisper-server"

// WhisperServer runs whisper.cpp's HTTP server as a child process and sends it WAV uploads.
type WhisperServer struct {
	Binary string
	// LookPath resolves Binary; exec.LookPath when nil.
	LookPath func(string) (string, error)
}

func NewWhisperServer(binary string) *WhisperServer {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultWhisperBinary
	}
	return &WhisperServer{Binary: binary}
}

func (b *WhisperServer) Name() string { return "whisper-server" }

func (b *WhisperServer) resolve() (string, error) {
	lookPath := b.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return lookPath(b.Binary)
}

func (b *WhisperServer) Available() error {
	if _, err := b.resolve(); err != nil {
		return apperr.Wrap(apperr.KindDependencyMissing, "stt.backend", b.Binary+" not installed", err)
	}
	return nil
}

func (b *WhisperServer) Load(ctx context.Context, opts LoadOptions) (Model, error) {
	path, err := b.resolve()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.Model); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	port, err := pickFreePort()
	if err != nil {
		return nil, err
	}

	args := []string{
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"-m", opts.Model,
		"-nt",
	}
	if opts.Language != "" {
		args = append(args, "-l", opts.Language)
	}
	if opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(opts.Threads))
	}
	if opts.Device == DeviceCPU {
		args = append(args, "-ng")
	}
	if opts.HalfPrecision {
		args = append(args, "-fa")
	}

	tail := newTailBuffer(24 << 10)
	cmd := exec.Command(path, args...)
	cmd.Stdout = tail
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	m := &whisperModel{
		cmd:     cmd,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		client:  &http.Client{},
		exited:  make(chan struct{}),
	}
	go func() {
		m.waitErr = cmd.Wait()
		close(m.exited)
	}()
	if err := m.waitReady(ctx); err != nil {
		_ = cmd.Process.Kill()
		<-m.exited
		if msg := tail.String(); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return m, nil
}

type whisperModel struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	baseURL string
	client  *http.Client
	closed  bool

	// exited is closed once the child has been reaped; waitErr is valid after that.
	exited  chan struct{}
	waitErr error
}

func (m *whisperModel) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/", nil)
		if resp, err := m.client.Do(req); err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("whisper-server did not become ready: %w", ctx.Err())
		case <-m.exited:
			if m.waitErr != nil {
				return fmt.Errorf("whisper-server exited before ready: %w", m.waitErr)
			}
			return errors.New("whisper-server exited before ready")
		case <-ticker.C:
		}
	}
}

// Reentrant is false; the server runs a single decoder.
func (m *whisperModel) Reentrant() bool { return false }

func (m *whisperModel) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", errors.New("whisper-server closed")
	}

	wav, err := audio.WriteWAVFile("", samples, sampleRate)
	if err != nil {
		return "", err
	}
	defer os.Remove(wav.Name())
	defer wav.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, wav); err != nil {
		return "", err
	}
	_ = mw.WriteField("temperature", "0.0")
	_ = mw.WriteField("response_format", "json")
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/inference", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper-server HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

func (m *whisperModel) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cmd := m.cmd
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-m.exited
	case <-m.exited:
	}
	return nil
}

func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok || addr == nil || addr.Port == 0 {
		return 0, fmt.Errorf("failed to allocate port")
	}
	return addr.Port, nil
}

// tailBuffer keeps the last max bytes of child process output for load errors.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
