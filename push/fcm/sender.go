// Package fcm sends notifications through the Firebase Cloud Messaging HTTP
// v1 API, authenticating with a service-account OAuth2 token.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"leaderwatch/core"
)

const (
	DefaultEndpoint = "https://fcm.googleapis.com"
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
)

// Sender implements push.Sender for FCM.
type Sender struct {
	creds    *Credentials
	client   *http.Client
	endpoint string

	mu     sync.Mutex
	source oauth2.TokenSource
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient overrides the HTTP client used for sends and token
// exchanges (defaults to a 10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithEndpoint overrides the FCM base URL.
func WithEndpoint(endpoint string) Option {
	return func(s *Sender) {
		if endpoint != "" {
			s.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// New creates a sender for the project named in creds.
func New(creds *Credentials, opts ...Option) (*Sender, error) {
	if creds == nil || creds.key == nil || len(creds.raw) == 0 {
		return nil, errors.New("fcm: parsed credentials required")
	}
	s := &Sender{
		creds:    creds,
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.resetSource(); err != nil {
		return nil, err
	}
	return s, nil
}

// resetSource drops any cached access token.
func (s *Sender) resetSource() error {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.client)
	src, err := s.creds.TokenSource(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
	return nil
}

func (s *Sender) token() (*oauth2.Token, error) {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	return src.Token()
}

type message struct {
	Message struct {
		Token        string            `json:"token"`
		Notification core.Notification `json:"notification"`
		Data         map[string]string `json:"data,omitempty"`
	} `json:"message"`
}

// Send delivers n to one registration token. Unregistered or malformed
// tokens yield a FailureInvalidToken error; everything else is transient.
func (s *Sender) Send(ctx context.Context, token string, n core.Notification) error {
	access, err := s.token()
	if err != nil {
		return core.Transient("auth", err)
	}

	var msg message
	msg.Message.Token = token
	msg.Message.Notification = core.Notification{Title: n.Title, Body: n.Body}
	msg.Message.Data = n.Data
	body, err := json.Marshal(msg)
	if err != nil {
		return core.Transient("encode", err)
	}

	u := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.endpoint, url.PathEscape(s.creds.ProjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return core.Transient("request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	access.SetAuthHeader(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return core.Transient("network", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// revoked or rotated key; the next send exchanges a fresh token
		_ = s.resetSource()
	}
	return classify(resp)
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

func classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ae apiError
	if err := json.Unmarshal(raw, &ae); err != nil || ae.Error.Status == "" {
		return core.Transient(resp.Status, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(raw))))
	}
	cause := errors.New(ae.Error.Message)
	for _, d := range ae.Error.Details {
		if d.ErrorCode == "UNREGISTERED" {
			return core.InvalidToken(d.ErrorCode, cause)
		}
	}
	switch ae.Error.Status {
	case "NOT_FOUND":
		return core.InvalidToken(ae.Error.Status, cause)
	case "INVALID_ARGUMENT":
		if strings.Contains(strings.ToLower(ae.Error.Message), "registration token") {
			return core.InvalidToken(ae.Error.Status, cause)
		}
	}
	return core.Transient(ae.Error.Status, cause)
}
