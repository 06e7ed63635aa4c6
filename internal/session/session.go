package session

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// User is the profile record returned by /api/v1/auth/me
type User struct {
	ID                 int    `json:"id"`
	Username           string `json:"username"`
	Email              string `json:"email"`
	FullName           string `json:"fullName,omitempty"`
	SubscriptionTier   string `json:"subscriptionTier"`
	MonthlyQueriesUsed int    `json:"monthlyQueriesUsed"`
}

// UnmarshalJSON also accepts the server's snake_case full_name
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	aux := struct {
		*alias
		FullNameSnake string `json:"full_name"`
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if u.FullName == "" {
		u.FullName = aux.FullNameSnake
	}
	return nil
}

// State is the persisted form of the session
type State struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
}

// IsAuthenticated reports whether the state carries a token
func (s State) IsAuthenticated() bool {
	return s.Token != ""
}

// Persister is the storage port the Store writes through
type Persister interface {
	Load() (State, error)
	Save(State) error
	Clear() error
}

// Observer is notified after every session transition
type Observer func(State)

// Store holds the current authentication token and user profile.
// Mutations are single assignments under a write lock; any number of
// readers may observe the store concurrently. writeMu serializes each
// transition with its persister write so storage always ends up holding
// the last state set in memory.
type Store struct {
	writeMu   sync.Mutex
	mu        sync.RWMutex
	state     State
	persister Persister
	logger    *slog.Logger
	observers []Observer
}

// NewStore creates a store and restores whatever the persister holds.
// A nil persister keeps the session in memory only.
func NewStore(persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if persister == nil {
		persister = NewMemoryPersister()
	}

	s := &Store{persister: persister, logger: logger}

	restored, err := persister.Load()
	if err != nil {
		logger.Warn("failed to restore session, starting empty", "error", err)
		return s
	}
	if restored.Token == "" {
		restored.User = nil
	}
	s.state = restored
	if restored.IsAuthenticated() {
		logger.Info("restored session", "username", usernameOf(restored.User))
	}
	return s
}

// SetAuth stores token and user together and persists them
func (s *Store) SetAuth(token string, user *User) {
	next := State{Token: token, User: cloneUser(user)}
	if token == "" {
		next.User = nil
	}

	s.writeMu.Lock()
	s.mu.Lock()
	s.state = next
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if err := s.persister.Save(next); err != nil {
		s.logger.Warn("failed to persist session", "error", err)
	}
	s.writeMu.Unlock()

	s.logger.Info("session authenticated", "username", usernameOf(next.User))
	notify(observers, next)
}

// Logout clears the session and persists the cleared state
func (s *Store) Logout() {
	s.writeMu.Lock()
	s.mu.Lock()
	wasAuthenticated := s.state.IsAuthenticated()
	s.state = State{}
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if err := s.persister.Clear(); err != nil {
		s.logger.Warn("failed to clear persisted session", "error", err)
	}
	s.writeMu.Unlock()

	if wasAuthenticated {
		s.logger.Info("session cleared")
	}
	notify(observers, State{})
}

// IsAuthenticated reports whether a token is present
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsAuthenticated()
}

// Token returns the current bearer token, or "" when logged out
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// User returns a copy of the current profile, or nil
func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUser(s.state.User)
}

// Snapshot returns a copy of the full state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{Token: s.state.Token, User: cloneUser(s.state.User)}
}

// Subscribe registers fn to run after every SetAuth and Logout
func (s *Store) Subscribe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func notify(observers []Observer, st State) {
	for _, fn := range observers {
		fn(State{Token: st.Token, User: cloneUser(st.User)})
	}
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func usernameOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.Username
}
