package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// StorageKey is the row key the session is persisted under
const StorageKey = "medchat-auth"

// MemoryPersister keeps the session in process memory
type MemoryPersister struct {
	mu    sync.Mutex
	state State
	saves int
}

// NewMemoryPersister creates an empty in-memory persister
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

// Load returns the last saved state
func (p *MemoryPersister) Load() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{Token: p.state.Token, User: cloneUser(p.state.User)}, nil
}

// Save replaces the stored state
func (p *MemoryPersister) Save(st State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{Token: st.Token, User: cloneUser(st.User)}
	p.saves++
	return nil
}

// Clear drops the stored state
func (p *MemoryPersister) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{}
	p.saves++
	return nil
}

// Writes returns how many Save/Clear calls were made
func (p *MemoryPersister) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// SQLitePersister stores the session as a JSON row in SQLite
type SQLitePersister struct {
	db  *sql.DB
	key string
}

// NewSQLitePersister creates the auth_session table if needed
func NewSQLitePersister(db *sql.DB) (*SQLitePersister, error) {
	createTable := `
	CREATE TABLE IF NOT EXISTS auth_session (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at DATETIME
	);`

	if _, err := db.Exec(createTable); err != nil {
		return nil, fmt.Errorf("failed to create auth_session table: %w", err)
	}

	return &SQLitePersister{db: db, key: StorageKey}, nil
}

// Load reads the persisted session; a missing row is an empty state
func (p *SQLitePersister) Load() (State, error) {
	var raw string
	err := p.db.QueryRow("SELECT value FROM auth_session WHERE key = ?", p.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to load session: %w", err)
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return st, nil
}

// Save upserts the session row
func (p *SQLitePersister) Save(st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = p.db.Exec(
		"INSERT OR REPLACE INTO auth_session (key, value, updated_at) VALUES (?, ?, ?)",
		p.key, string(raw), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear deletes the session row
func (p *SQLitePersister) Clear() error {
	if _, err := p.db.Exec("DELETE FROM auth_session WHERE key = ?", p.key); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
