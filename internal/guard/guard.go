package guard

import (
	"log/slog"
	"sync"

	"MedChat/internal/session"
)

// View is a screen of the client
type View string

const (
	ViewLanding   View = "landing"
	ViewLogin     View = "login"
	ViewRegister  View = "register"
	ViewDashboard View = "dashboard"
)

// Authenticator is the read side of the session store
type Authenticator interface {
	IsAuthenticated() bool
}

// Guard decides whether a view is reachable for the current session
type Guard struct {
	auth   Authenticator
	logger *slog.Logger

	mu           sync.RWMutex
	protected    map[View]bool
	lastRedirect View
}

// New creates a guard where dashboard is the only protected view
func New(auth Authenticator, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		auth:      auth,
		protected: map[View]bool{ViewDashboard: true},
		logger:    logger,
	}
}

// Protect marks more views as requiring a session
func (g *Guard) Protect(views ...View) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range views {
		g.protected[v] = true
	}
}

// Allowed reports whether view can be shown right now
func (g *Guard) Allowed(view View) bool {
	g.mu.RLock()
	protected := g.protected[view]
	g.mu.RUnlock()
	return !protected || g.auth.IsAuthenticated()
}

// Resolve returns view when allowed and the login view otherwise
func (g *Guard) Resolve(view View) View {
	if g.Allowed(view) {
		return view
	}

	g.mu.Lock()
	g.lastRedirect = view
	g.mu.Unlock()

	g.logger.Info("redirecting to login", "requested", string(view))
	return ViewLogin
}

// LastRedirect returns the view most recently denied, or ""
func (g *Guard) LastRedirect() View {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastRedirect
}

// Watch logs session transitions seen by the guard
func (g *Guard) Watch(store *session.Store) {
	store.Subscribe(func(st session.State) {
		if !st.IsAuthenticated() {
			g.logger.Info("session ended, protected views locked")
		}
	})
}
