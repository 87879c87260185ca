// Package manager assembles the chat session core (session state, history
// synchronizer, presenter and message pipeline) for one signed-in user.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/chatup/internal/api"
	"github.com/kingrea/chatup/internal/config"
	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/history"
	"github.com/kingrea/chatup/internal/localstore"
	"github.com/kingrea/chatup/internal/logbook"
	"github.com/kingrea/chatup/internal/logging"
	"github.com/kingrea/chatup/internal/pipeline"
	"github.com/kingrea/chatup/internal/presenter"
	"github.com/kingrea/chatup/internal/session"
)

// ErrNotLoggedIn is returned by operations that need a user.
var ErrNotLoggedIn = errors.New("manager: not logged in")

// Manager owns the long-lived collaborators of a chatup process.
type Manager struct {
	cfg     *config.Config
	store   *localstore.Store
	client  *api.Client
	journal *logbook.Logbook
	logger  *zap.Logger
	ids     *conversation.IDGenerator
	now     func() time.Time

	user      api.Credentials
	state     *session.State
	sync      *history.Synchronizer
	presenter *presenter.Presenter
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger attaches a logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(logger)
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// Open wires the store, client and journal from cfg and restores a saved
// login if there is one.
func Open(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("manager: config is required")
	}
	m := &Manager{cfg: cfg, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.ids = conversation.NewIDGenerator(m.now)

	store, err := localstore.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	m.store = store
	client, err := api.New(cfg.BaseURL(), api.WithTimeout(cfg.APITimeout()), api.WithLogger(m.logger.Named("api")))
	if err != nil {
		store.Close()
		return nil, err
	}
	m.client = client
	if journal, err := logbook.New(cfg.JournalPath()); err == nil {
		m.journal = journal
	} else {
		m.logger.Warn("journal unavailable", zap.Error(err))
	}

	raw, ok, err := store.Get(context.Background(), localstore.KeyCredentials)
	if err != nil {
		store.Close()
		return nil, err
	}
	if ok {
		var creds api.Credentials
		if err := json.Unmarshal([]byte(raw), &creds); err != nil {
			m.logger.Warn("discarding unreadable credentials", zap.Error(err))
		} else if creds.Email != "" {
			m.bind(creds)
		}
	}
	return m, nil
}

func (m *Manager) bind(creds api.Credentials) {
	m.user = creds
	m.client.SetToken(creds.Token)
	m.state = session.New(m.store, conversation.NewCache(), creds.Email,
		session.WithLogger(m.logger.Named("session")),
		session.WithClock(m.now),
	)
	m.sync = history.New(m.client, m.state,
		history.WithPersister(m.store),
		history.WithLogger(m.logger.Named("history")),
		history.WithRefreshLimit(m.cfg.RefreshDelay(), m.cfg.RefreshBurst()),
	)
	m.presenter = presenter.New(m.state, m.sync)
}

// Close releases the database.
func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

// LoggedIn reports whether a user is bound.
func (m *Manager) LoggedIn() bool {
	return m.state != nil
}

// User returns the signed-in user.
func (m *Manager) User() api.Credentials {
	return m.user
}

// Login authenticates, remembers the credentials and binds the user.
func (m *Manager) Login(ctx context.Context, email, password string) (api.Credentials, error) {
	creds, err := m.client.Login(ctx, email, password)
	if err != nil {
		return api.Credentials{}, err
	}
	payload, err := json.Marshal(creds)
	if err != nil {
		return api.Credentials{}, fmt.Errorf("manager: encode credentials: %w", err)
	}
	if err := m.store.Set(ctx, localstore.KeyCredentials, string(payload)); err != nil {
		return api.Credentials{}, err
	}
	m.bind(creds)
	m.journal.Info("Signed in as %s", creds.Email)
	m.logger.Info("login", zap.String("user", creds.Email))
	return creds, nil
}

// Logout purges the user's local data and forgets the credentials. Remote
// history is kept.
func (m *Manager) Logout(ctx context.Context) error {
	if !m.LoggedIn() {
		return ErrNotLoggedIn
	}
	if err := m.state.Clear(ctx); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, localstore.KeyCredentials, localstore.KeySessionMarker); err != nil {
		return err
	}
	if err := m.journal.Reset(); err != nil {
		m.logger.Warn("reset journal", zap.Error(err))
	}
	m.logger.Info("logout", zap.String("user", m.user.Email))
	m.client.SetToken("")
	m.user = api.Credentials{}
	m.state = nil
	m.sync = nil
	m.presenter = nil
	return nil
}

// DetectContinuation decides whether this launch resumes the last session.
func (m *Manager) DetectContinuation(ctx context.Context) (bool, error) {
	return session.DetectContinuation(ctx, m.store, m.now(), m.cfg.ResumeWindow())
}

// Start initializes the session once and warms the cache from disk.
func (m *Manager) Start(ctx context.Context, continuation bool) error {
	if !m.LoggedIn() {
		return ErrNotLoggedIn
	}
	if err := m.state.Init(ctx, continuation); err != nil {
		return err
	}
	if _, err := m.sync.Restore(ctx, m.user.Email); err != nil {
		m.logger.Warn("restore cache", zap.Error(err))
	}
	if active, ok := m.state.Active(); ok && !m.state.Cache().Has(active) {
		m.logger.Debug("restored pointer awaits history", zap.String("id", active))
	}
	return nil
}

// NewPipeline builds a message pipeline reporting to the given listeners.
// Nil listeners are ignored.
func (m *Manager) NewPipeline(transcript pipeline.Transcript, indicator pipeline.Indicator, refresher pipeline.Refresher) (*pipeline.Pipeline, error) {
	if !m.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	return pipeline.New(m.client, m.state,
		pipeline.WithTranscript(transcript),
		pipeline.WithIndicator(indicator),
		pipeline.WithRefresher(refresher),
		pipeline.WithRecorder(m.sync),
		pipeline.WithTimeout(m.cfg.APITimeout()),
		pipeline.WithLogger(m.logger.Named("pipeline")),
		pipeline.WithClock(m.now),
		pipeline.WithIDGenerator(m.ids),
	), nil
}

// Touch refreshes the session marker.
func (m *Manager) Touch(ctx context.Context) error {
	if !m.LoggedIn() {
		return nil
	}
	return m.state.Touch(ctx)
}

// Config returns the loaded configuration.
func (m *Manager) Config() *config.Config { return m.cfg }

// Client returns the chat service client.
func (m *Manager) Client() *api.Client { return m.client }

// Journal returns the local event journal.
func (m *Manager) Journal() *logbook.Logbook { return m.journal }

// Logger returns the manager's logger.
func (m *Manager) Logger() *zap.Logger { return m.logger }

// State returns the session state.
func (m *Manager) State() *session.State { return m.state }

// Synchronizer returns the history synchronizer.
func (m *Manager) Synchronizer() *history.Synchronizer { return m.sync }

// Presenter returns the history list presenter.
func (m *Manager) Presenter() *presenter.Presenter { return m.presenter }
