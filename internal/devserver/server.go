// Package devserver is a small in-memory implementation of the chat service
// for local development and loopback tests.
package devserver

import (
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

	"github.com/kingrea/chatup/internal/logging"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

const (
	isoLayout     = "2006-01-02T15:04:05.000000"
	rfc1123Layout = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// Server wraps the HTTP listener and the chat handlers.
type Server struct {
	settings  Settings
	responder Responder
	logger    *zap.Logger
	clock     func() time.Time
	store     *chatStore

	accounts map[string]Account
	tokensMu sync.RWMutex
	tokens   map[string]string

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	served    chan error
}

// Option customizes server construction.
type Option func(*Server)

// WithResponder overrides the canned responder.
func WithResponder(r Responder) Option {
	return func(s *Server) {
		if r != nil {
			s.responder = r
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(l)
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings:  settings,
		responder: NewCannedResponder(nil),
		logger:    zap.NewNop(),
		clock:     func() time.Time { return time.Now().UTC() },
		store:     newChatStore(),
		accounts:  map[string]Account{},
		tokens:    map[string]string{},
		status:    StatusStarting,
	}
	for _, account := range settings.Accounts {
		s.accounts[strings.ToLower(account.Email)] = account
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("GET /chat-history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("DELETE /chat-history/{id}", s.requireAuth(s.handleDelete))
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("devserver: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("devserver: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("devserver: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.now()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	served := make(chan error, 1)
	s.served = served
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("serve error", zap.Error(err))
		}
		served <- err
		close(served)
	}()
	s.logger.Info("listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Wait blocks until the serve loop started by Start exits. It returns nil
// after a clean Shutdown and the serve error otherwise.
func (s *Server) Wait() error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	served := s.served
	s.mu.RUnlock()
	if served == nil {
		return fmt.Errorf("devserver: server not started")
	}
	return <-served
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IssueToken signs email in without a password. Tests use it to skip /login.
func (s *Server) IssueToken(email string) string {
	token := uuid.NewString()
	s.tokensMu.Lock()
	s.tokens[token] = email
	s.tokensMu.Unlock()
	return token
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.now().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		State:         string(s.Status()),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Email and password are required"})
		return
	}
	account, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || account.Password != req.Password {
		s.logger.Info("login rejected", zap.String("email", req.Email))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
		return
	}
	token := s.IssueToken(account.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Login successful",
		"token":   token,
		"name":    account.Name,
		"email":   account.Email,
	})
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	ChatID  string `json:"chatId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, owner string) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"response": "Message is required"})
		return
	}
	user := req.UserID
	if user == "" {
		user = owner
	}
	if !strings.EqualFold(user, owner) {
		writeJSON(w, http.StatusForbidden, map[string]string{"response": "Not allowed"})
		return
	}
	reply := s.responder.Reply(message)
	chatID := s.store.appendExchange(owner, req.ChatID, message, reply, s.now())
	s.logger.Debug("chat exchange", zap.String("user", owner), zap.String("chat", chatID), zap.String("request_id", r.Header.Get("X-Request-ID")))
	writeJSON(w, http.StatusOK, map[string]string{"response": reply, "chatId": chatID})
}

type wireMessage struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type wireChat struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
	Messages  []wireMessage `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, owner string) {
	user, ok := s.scopedUser(w, r, owner)
	if !ok {
		return
	}
	chats := s.store.list(user, s.settings.HistoryLimit)
	out := make([]wireChat, 0, len(chats))
	for _, chat := range chats {
		wc := wireChat{
			ID:        chat.ID,
			Title:     chat.Title,
			CreatedAt: chat.CreatedAt.UTC().Format(isoLayout),
			UpdatedAt: chat.UpdatedAt.UTC().Format(isoLayout),
			Messages:  make([]wireMessage, 0, len(chat.Messages)),
		}
		for _, msg := range chat.Messages {
			wc.Messages = append(wc.Messages, wireMessage{
				Sender:    msg.Sender,
				Text:      msg.Text,
				Timestamp: msg.Timestamp.UTC().Format(rfc1123Layout),
			})
		}
		out = append(out, wc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chats": out})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, owner string) {
	user, ok := s.scopedUser(w, r, owner)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !s.store.remove(user, id) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Chat not found or you do not have permission to delete it",
		})
		return
	}
	s.logger.Info("chat deleted", zap.String("user", user), zap.String("chat", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Chat deleted successfully"})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, owner string)

func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Authentication required"})
			return
		}
		s.tokensMu.RLock()
		owner, ok := s.tokens[strings.TrimSpace(token)]
		s.tokensMu.RUnlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid token"})
			return
		}
		next(w, r, owner)
	}
}

func (s *Server) scopedUser(w http.ResponseWriter, r *http.Request, owner string) (string, bool) {
	user := strings.TrimSpace(r.URL.Query().Get("user_email"))
	if user == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "User email is required"})
		return "", false
	}
	if !strings.EqualFold(user, owner) {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "Not allowed"})
		return "", false
	}
	return owner, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
