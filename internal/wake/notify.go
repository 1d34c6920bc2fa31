package wake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ent0n29/voiced/internal/observability"
	"github.com/ent0n29/voiced/internal/protocol"
	"github.com/ent0n29/voiced/internal/reliability"
)

const (
	realtimeStartPath     = "/api/realtime/start"
	defaultNotifyTimeout  = 2 * time.Second
	defaultNotifyAttempts = 3
	notifyOutFormat       = "pcm16"
)

// Notifier tells the core service that the wake phrase was heard.
type Notifier interface {
	Notify(ctx context.Context) error
}

// HTTPNotifier posts a realtime start request to the core service.
type HTTPNotifier struct {
	Endpoint string
	Voice    string
	Timeout  time.Duration
	Attempts int
	Client   *http.Client
}

func NewHTTPNotifier(baseURL, voice string) *HTTPNotifier {
	return &HTTPNotifier{
		Endpoint: strings.TrimRight(baseURL, "/") + realtimeStartPath,
		Voice:    voice,
		Timeout:  defaultNotifyTimeout,
		Attempts: defaultNotifyAttempts,
		Client:   &http.Client{},
	}
}

// Notify retries transient failures until the timeout budget is spent.
func (n *HTTPNotifier) Notify(ctx context.Context) error {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := observability.Tracer().Start(ctx, "wake.notify")
	span.SetAttributes(attribute.String("wake.endpoint", n.Endpoint), attribute.String("wake.voice", n.Voice))
	defer span.End()

	body, err := json.Marshal(protocol.RealtimeStart{
		Voice: n.Voice,
		Audio: protocol.RealtimeAudio{InSR: SampleRate, OutFormat: notifyOutFormat},
	})
	if err != nil {
		return err
	}

	attempts := max(n.Attempts, 1)
	for attempt := 0; ; attempt++ {
		status, err := n.post(ctx, body)
		if err == nil && status < http.StatusMultipleChoices {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("realtime start returned status %d", status)
			if !reliability.IsRetryableHTTPStatus(status) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "rejected")
				return err
			}
		}
		if attempt+1 >= attempts || !reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt, 100*time.Millisecond, 500*time.Millisecond)) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "notify failed")
			return err
		}
	}
}

func (n *HTTPNotifier) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
