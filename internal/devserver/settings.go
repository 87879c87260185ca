package devserver

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort matches the port the client config points at by default.
	DefaultPort = 5000
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultHistoryLimit caps the chats returned by one history listing.
	DefaultHistoryLimit = 50

	// DemoEmail and DemoPassword sign in to a server started without accounts.
	DemoEmail    = "demo@chatup.local"
	DemoPassword = "demo"
)

// Account is a user the server accepts at /login.
type Account struct {
	Email    string
	Name     string
	Password string
}

// Settings captures runtime configuration for the development server.
type Settings struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	HistoryLimit int
	Accounts     []Account
}

// DefaultSettings returns loopback settings with environment overrides applied.
func DefaultSettings() Settings {
	settings := Settings{
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
		HistoryLimit: DefaultHistoryLimit,
	}
	settings.applyEnvOverrides()
	settings.normalize()
	return settings
}

func (s *Settings) applyEnvOverrides() {
	if s == nil {
		return
	}
	if host := strings.TrimSpace(os.Getenv("CHATUP_DEV_HOST")); host != "" {
		s.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("CHATUP_DEV_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			s.Port = parsed
		}
	}
}

func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port != 0 && !isValidPort(s.Port) {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = DefaultHistoryLimit
	}
	if len(s.Accounts) == 0 {
		s.Accounts = []Account{{Email: DemoEmail, Name: "Demo", Password: DemoPassword}}
	}
}

// ParseAccount reads "email:password" or "email:password:name".
func ParseAccount(raw string) (Account, bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Account{}, false
	}
	account := Account{Email: parts[0], Password: parts[1]}
	if len(parts) == 3 {
		account.Name = parts[2]
	}
	if account.Name == "" {
		account.Name = strings.SplitN(account.Email, "@", 2)[0]
	}
	return account, true
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
