// Package api is the HTTP client for the remote chat service.
package api

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/logging"
)

const (
	// DefaultTimeout bounds a single request when no override is given.
	DefaultTimeout = 30 * time.Second
	// RequestIDHeader carries a per-request uuid for log correlation.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes int64 = 4 << 20
)

// ErrTransport marks failures where no usable response arrived: dial
// errors, timeouts, truncated or undecodable bodies.
var ErrTransport = errors.New("api: transport failure")

// RemoteError is a response the server sent back with a non-success status.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status > 0 {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return "request failed"
}

// Client talks to the chat service.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
	timeout time.Duration

	mu    sync.RWMutex
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("api: base url %q must include scheme and host", baseURL)
	}
	c := &Client{
		baseURL: parsed,
		http:    &http.Client{},
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Timeout returns the per-request bound.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Credentials is what a successful login yields.
type Credentials struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type loginEnvelope struct {
	Credentials
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// Login exchanges email and password for a token. The token is kept for
// subsequent calls. Servers that authenticate without issuing a token get
// the email echoed back as an opaque bearer value, since they only check
// that the header is present.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	body := map[string]string{"email": email, "password": password}
	var envelope loginEnvelope
	if err := c.do(ctx, http.MethodPost, "/login", nil, body, &envelope); err != nil {
		return Credentials{}, err
	}
	if envelope.Success != nil && !*envelope.Success {
		return Credentials{}, &RemoteError{Status: http.StatusOK, Message: envelope.Message}
	}
	creds := envelope.Credentials
	if creds.Email == "" {
		creds.Email = email
	}
	if creds.Token == "" {
		creds.Token = creds.Email
	}
	c.SetToken(creds.Token)
	return creds, nil
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	ChatID  string `json:"chatId,omitempty"`
}

// ChatReply is the body returned by POST /chat.
type ChatReply struct {
	Response string `json:"response"`
	ChatID   string `json:"chatId,omitempty"`
}

// SendMessage posts one user message and returns the bot reply.
func (c *Client) SendMessage(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var reply ChatReply
	if err := c.do(ctx, http.MethodPost, "/chat", nil, req, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

type historyEnvelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Chats   []RemoteChat `json:"chats"`
}

// ListHistory fetches userID's conversations, newest first.
func (c *Client) ListHistory(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	query := url.Values{"user_email": {userID}}
	var envelope historyEnvelope
	if err := c.do(ctx, http.MethodGet, "/chat-history", query, nil, &envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, &RemoteError{Status: http.StatusOK, Message: envelope.Message}
	}
	convs := make([]conversation.Conversation, 0, len(envelope.Chats))
	for _, chat := range envelope.Chats {
		convs = append(convs, chat.Conversation())
	}
	return convs, nil
}

type statusEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeleteHistory removes one conversation on the server.
func (c *Client) DeleteHistory(ctx context.Context, userID, id string) error {
	query := url.Values{"user_email": {userID}}
	var envelope statusEnvelope
	if err := c.do(ctx, http.MethodDelete, "/chat-history/"+url.PathEscape(id), query, nil, &envelope); err != nil {
		return err
	}
	if !envelope.Success {
		return &RemoteError{Status: http.StatusOK, Message: envelope.Message}
	}
	return nil
}

// Health returns the service status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &body); err != nil {
		return "", err
	}
	return body.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrTransport, method, path, err)
	}
	c.logger.Debug("request complete",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(started)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrTransport, method, path, err)
	}
	return nil
}

// errorMessage pulls a human message out of an error body. The service uses
// "message" for most failures and "error" for auth failures.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(body.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(body.Error)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Message returns the text to show a user for err, or fallback when the
// server gave none.
func Message(err error, fallback string) string {
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Message != "" {
		return remote.Message
	}
	return fallback
}
