package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/verivox/internal/logging"
	"go.uber.org/zap"
)

// EventKind distinguishes session transitions.
type EventKind int

const (
	LoggedIn EventKind = iota
	LoggedOut
)

func (k EventKind) String() string {
	if k == LoggedIn {
		return "logged_in"
	}
	return "logged_out"
}

// Reason explains why a LoggedOut event fired.
type Reason string

const (
	ReasonLogout   Reason = "logout"
	ReasonExpired  Reason = "expired"
	ReasonExternal Reason = "external"
)

// Event describes a session transition. Identity is the identity that
// signed in or the one that was signed out.
type Event struct {
	Kind     EventKind
	Identity Identity
	Reason   Reason
}

// Listener receives session events. Listeners run synchronously on the
// goroutine that changed the session and must not call Login or Logout.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// storedUser is the serialized identity kept under KeyUser.
type storedUser struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	UserType string `json:"user_type"`
}

// Store holds at most one Identity and keeps it consistent with storage.
type Store struct {
	mu      sync.Mutex
	storage Storage
	current *Identity
	logger  *logging.Logger

	subMu  sync.Mutex
	subs   []subscription
	nextID int
}

// NewStore creates a store over storage. Call Restore before use.
func NewStore(storage Storage, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		storage: storage,
		logger:  logger.Named("session"),
	}
}

// Restore loads a persisted identity. Missing or malformed data leaves the
// store unauthenticated; it is logged, never returned as an error.
func (s *Store) Restore(ctx context.Context) (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.read(ctx)
	if !ok {
		s.current = nil
		return Identity{}, false
	}
	s.current = &id
	s.logger.Debug(logging.WithSession(ctx, ShortFingerprint(id.Credential)), "session restored",
		zap.String("role", string(id.Role)))
	return id, true
}

// read decodes the persisted identity. Caller holds s.mu.
func (s *Store) read(ctx context.Context) (Identity, bool) {
	token, hasToken, err := s.storage.Get(KeyToken)
	if err != nil {
		s.logger.Warn(ctx, "session storage unreadable, treating as signed out", zap.Error(err))
		return Identity{}, false
	}
	raw, hasUser, err := s.storage.Get(KeyUser)
	if err != nil {
		s.logger.Warn(ctx, "session storage unreadable, treating as signed out", zap.Error(err))
		return Identity{}, false
	}
	if !hasToken || !hasUser || token == "" {
		return Identity{}, false
	}

	var u storedUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		s.logger.Warn(ctx, "stored user record malformed, treating as signed out", zap.Error(err))
		return Identity{}, false
	}
	role, err := RoleFromUserType(u.UserType)
	if err != nil {
		s.logger.Warn(ctx, "stored user record malformed, treating as signed out", zap.Error(err))
		return Identity{}, false
	}

	return Identity{
		DisplayName: u.Username,
		Email:       u.Email,
		Role:        role,
		Credential:  token,
	}, true
}

// Login signs id in. Both storage keys are written before the identity
// becomes visible. Switching identities requires Logout first.
func (s *Store) Login(ctx context.Context, id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return ErrSessionActive
	}

	user, err := json.Marshal(storedUser{
		Username: id.DisplayName,
		Email:    id.Email,
		UserType: id.Role.UserType(),
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	if err := s.storage.SetAll(map[string]string{
		KeyToken: id.Credential,
		KeyUser:  string(user),
	}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist session: %w", err)
	}

	stored := id
	s.current = &stored
	s.mu.Unlock()

	s.logger.Info(logging.WithSession(ctx, ShortFingerprint(id.Credential)), "signed in",
		zap.String("role", string(id.Role)))
	s.publish(Event{Kind: LoggedIn, Identity: id})
	return nil
}

// Logout signs out and removes both storage keys. The in-memory identity
// is cleared even if storage removal fails.
func (s *Store) Logout(ctx context.Context) error {
	return s.signOut(ctx, ReasonLogout)
}

// Evict signs out in response to an authentication failure.
func (s *Store) Evict(ctx context.Context, reason Reason) {
	if reason == "" {
		reason = ReasonExpired
	}
	if err := s.signOut(ctx, reason); err != nil {
		s.logger.Error(ctx, "failed to clear session storage on eviction", zap.Error(err))
	}
}

func (s *Store) signOut(ctx context.Context, reason Reason) error {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	err := s.storage.Remove(KeyToken, KeyUser)
	s.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("failed to clear session storage: %w", err)
	}
	if prev == nil {
		return err
	}

	ctx = logging.WithSession(ctx, ShortFingerprint(prev.Credential))
	if reason == ReasonExpired {
		s.logger.Warn(ctx, "session evicted", zap.String("reason", string(reason)))
	} else {
		s.logger.Info(ctx, "signed out", zap.String("reason", string(reason)))
	}
	s.publish(Event{Kind: LoggedOut, Identity: *prev, Reason: reason})
	return err
}

// Reload re-reads storage and applies any change made by another process.
func (s *Store) Reload(ctx context.Context) {
	s.mu.Lock()
	next, ok := s.read(ctx)
	prev := s.current
	if !ok && prev == nil {
		s.mu.Unlock()
		return
	}
	if ok && prev != nil && *prev == next {
		s.mu.Unlock()
		return
	}
	if ok {
		s.current = &next
	} else {
		s.current = nil
	}
	s.mu.Unlock()

	s.logger.Info(ctx, "session changed externally", zap.Bool("signed_in", ok))
	if prev != nil {
		s.publish(Event{Kind: LoggedOut, Identity: *prev, Reason: ReasonExternal})
	}
	if ok {
		s.publish(Event{Kind: LoggedIn, Identity: next})
	}
}

// Current returns a copy of the active identity.
func (s *Store) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Identity{}, false
	}
	return *s.current, true
}

// Credential returns the active credential, or "" when signed out.
func (s *Store) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Credential
}

// Authenticated reports whether a credential is present.
func (s *Store) Authenticated() bool {
	return s.Credential() != ""
}

// Subscribe registers fn for session events and returns a function that
// removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
