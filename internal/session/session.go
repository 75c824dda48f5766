package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"direct-chat/internal/api"
	"direct-chat/internal/authutil"
	"direct-chat/internal/chaterr"
	"direct-chat/internal/message"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	AccessTTL  = time.Hour
	RefreshTTL = 24 * time.Hour
)

// Authenticator is the part of the API the session talks to.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (api.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (api.TokenPair, error)
	Register(ctx context.Context, reg api.Registration) (message.User, error)
}

// Jar persists the token cookies.
type Jar interface {
	Set(c *http.Cookie) error
	Get(name string) (*http.Cookie, error)
	Remove(name string) error
}

// Store owns the current tokens and the identity derived from them.
type Store struct {
	auth Authenticator
	jar  Jar
	now  func() time.Time
	log  zerolog.Logger

	mu            sync.RWMutex
	authenticated bool
	self          int64
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a store. A session that survived in the jar counts as
// authenticated until the guard says otherwise.
func New(auth Authenticator, jar Jar, opts ...Option) *Store {
	s := &Store{auth: auth, jar: jar, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if tok := s.cookie(AccessCookie); tok != "" {
		s.authenticated = true
		s.self, _ = authutil.SubjectID(tok)
	}
	return s
}

// SetAuthenticator swaps the API used for login and refresh.
func (s *Store) SetAuthenticator(auth Authenticator) {
	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()
}

// Authenticated reports the session flag.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Identity is the local user id, zero when unknown.
func (s *Store) Identity() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// AccessToken returns the stored access token, or "" when absent.
func (s *Store) AccessToken() string {
	return s.cookie(AccessCookie)
}

// Login exchanges credentials for tokens and stores them.
func (s *Store) Login(ctx context.Context, identifier, secret string) error {
	if verr := validateCredentials(identifier, secret); verr != nil {
		return verr
	}
	pair, err := s.authenticator().Login(ctx, strings.TrimSpace(identifier), secret)
	if err != nil {
		var authErr *chaterr.AuthError
		if !errors.As(err, &authErr) {
			s.log.Warn().Err(err).Msg("login failed")
		}
		return err
	}
	self, err := authutil.SubjectID(pair.AccessToken)
	if err != nil {
		return &chaterr.FetchError{Op: "login", Err: fmt.Errorf("token subject: %w", err)}
	}
	if err := s.store(AccessCookie, pair.AccessToken, AccessTTL); err != nil {
		return &chaterr.FetchError{Op: "login", Err: err}
	}
	if err := s.store(RefreshCookie, pair.RefreshToken, RefreshTTL); err != nil {
		return &chaterr.FetchError{Op: "login", Err: err}
	}
	s.mu.Lock()
	s.authenticated = true
	s.self = self
	s.mu.Unlock()
	s.log.Info().Int64("user", self).Msg("logged in")
	return nil
}

// Logout forgets both tokens. There is no server call.
func (s *Store) Logout() error {
	errAccess := s.jar.Remove(AccessCookie)
	errRefresh := s.jar.Remove(RefreshCookie)
	s.mu.Lock()
	s.authenticated = false
	s.self = 0
	s.mu.Unlock()
	return errors.Join(errAccess, errRefresh)
}

// Refresh replaces the access token using the stored refresh token.
func (s *Store) Refresh(ctx context.Context) error {
	refresh := s.cookie(RefreshCookie)
	if refresh == "" {
		return chaterr.ErrLoginRequired
	}
	pair, err := s.authenticator().Refresh(ctx, refresh)
	if err != nil {
		return err
	}
	self, err := authutil.SubjectID(pair.AccessToken)
	if err != nil {
		return &chaterr.FetchError{Op: "refresh", Err: fmt.Errorf("token subject: %w", err)}
	}
	if err := s.store(AccessCookie, pair.AccessToken, AccessTTL); err != nil {
		return &chaterr.FetchError{Op: "refresh", Err: err}
	}
	if pair.RefreshToken != "" {
		if err := s.store(RefreshCookie, pair.RefreshToken, RefreshTTL); err != nil {
			return &chaterr.FetchError{Op: "refresh", Err: err}
		}
	}
	s.mu.Lock()
	s.authenticated = true
	s.self = self
	s.mu.Unlock()
	s.log.Debug().Int64("user", self).Msg("access token refreshed")
	return nil
}

// Register validates the form locally and, only if it passes, creates the
// account. It does not log in.
func (s *Store) Register(ctx context.Context, f Form) (message.User, error) {
	if verr := Validate(f); verr != nil {
		return message.User{}, verr
	}
	return s.authenticator().Register(ctx, api.Registration{
		FirstName: strings.TrimSpace(f.FirstName),
		LastName:  strings.TrimSpace(f.LastName),
		Email:     strings.TrimSpace(f.Email),
		Password:  f.Password,
	})
}

// Guard admits the caller when an unexpired access token is held. An expired
// access token is renewed through the refresh token when one is still live.
// Every other case logs out and returns chaterr.ErrLoginRequired.
func (s *Store) Guard(ctx context.Context) error {
	access := s.cookie(AccessCookie)
	if access != "" && !authutil.Expired(access, s.now()) {
		return nil
	}
	err := s.Refresh(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, chaterr.ErrLoginRequired) {
		s.log.Warn().Err(err).Msg("refresh failed")
	}
	if err := s.Logout(); err != nil {
		s.log.Warn().Err(err).Msg("clear session")
	}
	return chaterr.ErrLoginRequired
}

func (s *Store) authenticator() Authenticator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth
}

func (s *Store) store(name, value string, ttl time.Duration) error {
	return s.jar.Set(&http.Cookie{
		Name:     name,
		Value:    value,
		Expires:  s.now().Add(ttl),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Store) cookie(name string) string {
	c, err := s.jar.Get(name)
	if err != nil {
		s.log.Warn().Err(err).Str("cookie", name).Msg("read cookie")
		return ""
	}
	if c == nil {
		return ""
	}
	return c.Value
}
