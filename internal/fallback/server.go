// Package fallback is the dependency-light transport: one goroutine per TCP connection,
// one request per connection, and synthesis streamed with hand-framed chunked encoding.
package fallback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/observability"
	"github.com/ent0n29/voiced/internal/reliability"
	"github.com/ent0n29/voiced/internal/voice"
)

const (
	transportName  = "fallback"
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	defaultMaxBody = 32 << 20
	maxDrain       = 256 << 10
)

type Config struct {
	MaxBodyBytes int64
}

type Server struct {
	cfg     Config
	svc     *voice.Service
	metrics *observability.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func New(cfg Config, svc *voice.Service, logger *zap.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, svc: svc, metrics: svc.Metrics(), logger: logger.Named("fallback")}
}

func (s *Server) Name() string { return transportName }

func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts until ctx is canceled, then waits for in-flight connections.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("transport", transportName))
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	attempt := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			delay := reliability.ExponentialBackoff(attempt, 5*time.Millisecond, time.Second)
			attempt++
			s.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			reliability.Sleep(ctx, delay)
			continue
		}
		attempt = 0
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reqID := uuid.NewString()
	logger := s.logger.With(zap.String("request_id", reqID), zap.String("remote", conn.RemoteAddr().String()))
	bw := bufio.NewWriter(conn)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler panic", zap.Any("panic", rec))
			writeJSON(bw, http.StatusInternalServerError, voiceError(apperr.New(apperr.KindInternal, "fallback.conn", "internal error")))
			_ = bw.Flush()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			writeJSON(bw, http.StatusBadRequest, voiceError(apperr.Wrap(apperr.KindInvalidInput, "fallback.read", "malformed request", err)))
			_ = bw.Flush()
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.route(reqCtx, conn, bw, req, logger)
	_ = bw.Flush()
	// Unread request bytes turn close into a reset, which clients report instead of the response.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = io.Copy(io.Discard, io.LimitReader(req.Body, maxDrain))
}

func (s *Server) route(ctx context.Context, conn net.Conn, bw *bufio.Writer, req *http.Request, logger *zap.Logger) {
	path := req.URL.Path
	switch {
	case req.Method == http.MethodGet && path == "/healthz":
		writeJSON(bw, http.StatusOK, map[string]any{"status": "ok", "transport": transportName})
	case req.Method == http.MethodGet && path == "/readyz":
		writeJSON(bw, http.StatusOK, map[string]any{
			"status":    "ready",
			"tts_ready": s.svc.TTSHealth().TTSReady,
			"stt_ready": s.svc.STTHealth().STTReady,
		})
	case req.Method == http.MethodGet && path == "/metrics":
		s.writeMetrics(bw, req)
	case req.Method == http.MethodGet && path == "/v1/tts/health":
		writeJSON(bw, http.StatusOK, s.svc.TTSHealth())
	case req.Method == http.MethodGet && path == "/v1/tts/stream":
		s.stream(ctx, conn, bw, req.URL.Query().Get("text"), logger)
	case req.Method == http.MethodGet && path == "/v1/stt/health":
		writeJSON(bw, http.StatusOK, s.svc.STTHealth())
	case req.Method == http.MethodGet && path == "/v1/stt/recent":
		s.recent(ctx, bw, req)
	case req.Method == http.MethodPost && path == "/v1/stt/transcribe":
		s.transcribe(ctx, bw, req, logger)
	case isKnownPath(path):
		writeJSON(bw, http.StatusMethodNotAllowed, voiceError(apperr.New(apperr.KindInvalidInput, "fallback.route", "method not allowed")))
	default:
		writeStatus(bw, http.StatusNotFound)
	}
}

func isKnownPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/v1/tts/health", "/v1/tts/stream", "/v1/stt/health", "/v1/stt/recent", "/v1/stt/transcribe":
		return true
	}
	return false
}

func (s *Server) transcribe(ctx context.Context, bw *bufio.Writer, req *http.Request, logger *zap.Logger) {
	sampleRate, err := voice.ParseSampleRate(req.Header.Get("X-Sample-Rate"))
	if err != nil {
		writeAppError(bw, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		writeAppError(bw, apperr.Wrap(apperr.KindInvalidInput, "fallback.transcribe", "read body", err))
		return
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		writeJSON(bw, http.StatusRequestEntityTooLarge, voiceError(apperr.New(apperr.KindInvalidInput, "fallback.transcribe", "body too large")))
		return
	}
	out, err := s.svc.Transcribe(ctx, body, req.URL.Query().Get("language"), sampleRate)
	if err != nil {
		if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
			logger.Warn("transcription failed", zap.Error(err))
		}
		writeAppError(bw, err)
		return
	}
	writeJSON(bw, http.StatusOK, out)
}

func (s *Server) recent(ctx context.Context, bw *bufio.Writer, req *http.Request) {
	limit, err := voice.ParseLimit(req.URL.Query().Get("limit"))
	if err != nil {
		writeAppError(bw, err)
		return
	}
	entries, err := s.svc.Recent(ctx, limit)
	if err != nil {
		writeAppError(bw, err)
		return
	}
	writeJSON(bw, http.StatusOK, map[string]any{"entries": entries})
}

// stream writes the clip as hex-length-prefixed segments and a terminating zero-length segment.
// A failed write means the client left; nothing more is sent on this connection.
func (s *Server) stream(ctx context.Context, conn net.Conn, bw *bufio.Writer, text string, logger *zap.Logger) {
	st := s.svc.Synthesize(text)
	fmt.Fprintf(bw, "HTTP/1.1 200 OK\r\nContent-Type: application/octet-stream\r\nTransfer-Encoding: chunked\r\nX-Sample-Rate: %d\r\nConnection: close\r\n\r\n", st.Clip.SampleRate)
	for chunk := range st.Chunks() {
		if ctx.Err() != nil {
			s.metrics.ObserveStream(transportName, "aborted")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := writeChunk(bw, chunk); err != nil {
			s.metrics.ObserveStream(transportName, "aborted")
			logger.Debug("stream client gone", zap.Error(err))
			return
		}
		s.metrics.AddChunk(transportName)
	}
	if _, err := bw.WriteString("0\r\n\r\n"); err != nil {
		s.metrics.ObserveStream(transportName, "aborted")
		return
	}
	s.metrics.ObserveStream(transportName, "ok")
}

func writeChunk(bw *bufio.Writer, chunk []byte) error {
	if _, err := fmt.Fprintf(bw, "%X\r\n", len(chunk)); err != nil {
		return err
	}
	if _, err := bw.Write(chunk); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func voiceError(err error) any {
	_, body := voice.ErrorBody(err)
	return body
}

func writeAppError(bw *bufio.Writer, err error) {
	status, body := voice.ErrorBody(err)
	writeJSON(bw, status, body)
}

func writeJSON(bw *bufio.Writer, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode response","code":"internal"}`)
	}
	body = append(body, '\n')
	writeResponse(bw, status, "application/json", body)
}

func writeStatus(bw *bufio.Writer, status int) {
	writeResponse(bw, status, "text/plain; charset=utf-8", []byte(http.StatusText(status)+"\n"))
}

func writeResponse(bw *bufio.Writer, status int, contentType string, body []byte) {
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, http.StatusText(status), contentType, len(body))
	_, _ = bw.Write(body)
}

// writeMetrics renders the Prometheus handler into a buffer and replays it on the raw connection.
func (s *Server) writeMetrics(bw *bufio.Writer, req *http.Request) {
	req.Header.Del("Accept-Encoding")
	rec := &bufferedResponse{header: http.Header{}, status: http.StatusOK}
	observability.MetricsHandler().ServeHTTP(rec, req)
	contentType := rec.header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	writeResponse(bw, rec.status, contentType, []byte(rec.body.String()))
}

type bufferedResponse struct {
	header http.Header
	status int
	body   strings.Builder
}

func (b *bufferedResponse) Header() http.Header         { return b.header }
func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }
func (b *bufferedResponse) WriteHeader(status int)      { b.status = status }
