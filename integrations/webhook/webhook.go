package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"leaderwatch/core"
)

// Sink posts domain events to configured HTTP endpoints.
// It is synchronous; subscribe it to an async event bus when endpoints are slow.
type Sink struct {
	client    *http.Client
	endpoints []string
	log       *slog.Logger
}

// Option configures a Sink or a Sender.
type Option func(*options)

type options struct {
	client *http.Client
	log    *slog.Logger
}

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{client: &http.Client{Timeout: 2 * time.Second}, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	o := applyOptions(opts)
	return &Sink{
		client:    o.client,
		log:       o.log,
		endpoints: append([]string{}, endpoints...),
	}
}

// OnEvent posts the event JSON to all endpoints. Failures are logged and do
// not affect the other endpoints.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	for _, ep := range s.endpoints {
		if err := post(ctx, s.client, ep, body); err != nil {
			s.log.Warn("webhook delivery failed", "endpoint", ep, "event", e.Type, "error", err)
		}
	}
}

// Sender implements push.Sender by posting each notification to a relay
// endpoint. A 404 or 410 from the relay marks the token as no longer valid.
type Sender struct {
	client   *http.Client
	endpoint string
}

// NewSender creates a push sender for the given relay endpoint.
func NewSender(endpoint string, opts ...Option) (*Sender, error) {
	if endpoint == "" {
		return nil, errors.New("webhook push endpoint not set")
	}
	o := applyOptions(opts)
	return &Sender{client: o.client, endpoint: endpoint}, nil
}

type pushPayload struct {
	Token        string            `json:"token"`
	Notification core.Notification `json:"notification"`
}

func (s *Sender) Send(ctx context.Context, token string, n core.Notification) error {
	body, err := json.Marshal(pushPayload{Token: token, Notification: n})
	if err != nil {
		return core.Transient("encode", err)
	}
	err = post(ctx, s.client, s.endpoint, body)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusGone) {
		return core.InvalidToken(http.StatusText(se.code), err)
	}
	if err != nil {
		return core.Transient("webhook", err)
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func post(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
