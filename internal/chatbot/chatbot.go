package chatbot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"MedChat/internal/api"
	"MedChat/internal/cache"
	"MedChat/internal/config"
	"MedChat/internal/guard"
	"MedChat/internal/session"
	"MedChat/internal/telemetry"
)

// Banner is shown above the dashboard and every reply
const Banner = "⚠️  MedChat provides educational health information only. It does not diagnose.\n    Always consult a healthcare professional about medical concerns."

var (
	// ErrBusy is returned when an action of the same kind is still pending
	ErrBusy = errors.New("a previous request is still pending")
	// ErrNotLoggedIn is returned when the dashboard is not reachable
	ErrNotLoggedIn = errors.New("please log in first")
	// ErrEmptyMessage is returned for blank chat input
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInvalidCredentials is returned when the server refuses a login
	ErrInvalidCredentials = errors.New("incorrect username or password")
)

const (
	actionLogin    = "login"
	actionRegister = "register"
	actionChat     = "chat"
)

// ChatBot represents the main application
type ChatBot struct {
	config       config.Config
	client       *api.Client
	store        *session.Store
	guard        *guard.Guard
	conversation *session.Conversation
	replies      *cache.ReplyCache
	logger       *slog.Logger
	prompt       Prompter
	renderer     Renderer
	out          io.Writer

	mu      sync.Mutex
	pending map[string]bool

	closers []func()
}

// Deps are the collaborators a ChatBot is built from
type Deps struct {
	Client   *api.Client
	Store    *session.Store
	Logger   *slog.Logger
	Prompt   Prompter
	Renderer Renderer
	Out      io.Writer
}

// NewChatBot wires logging, telemetry, session storage and the API gateway from cfg
func NewChatBot(cfg config.Config, prompt Prompter, out io.Writer) (*ChatBot, error) {
	logger, logFile, err := telemetry.InitLogger(cfg.DataDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.DataDir)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, persister, err := telemetry.InitDB(cfg.DataDir)
	if err != nil {
		shutdown()
		logFile.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	store := session.NewStore(persister, logger)
	client := api.NewClient(cfg.APIURL, store,
		api.WithLogger(logger),
		api.WithTelemetry(tracer, meter),
		api.WithTimeout(cfg.Timeout),
	)

	cb := New(cfg, Deps{
		Client:   client,
		Store:    store,
		Logger:   logger,
		Prompt:   prompt,
		Renderer: NewRenderer(),
		Out:      out,
	})
	cb.closers = append(cb.closers,
		func() { closeDB(db, logger) },
		shutdown,
		func() { logFile.Close() },
	)
	return cb, nil
}

// New builds a ChatBot from already constructed collaborators
func New(cfg config.Config, deps Deps) *ChatBot {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Renderer == nil {
		deps.Renderer = PlainRenderer{}
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}

	cb := &ChatBot{
		config:       cfg,
		client:       deps.Client,
		store:        deps.Store,
		guard:        guard.New(deps.Store, deps.Logger),
		conversation: session.NewConversation(),
		logger:       deps.Logger,
		prompt:       deps.Prompt,
		renderer:     deps.Renderer,
		out:          deps.Out,
		pending:      make(map[string]bool),
	}
	cb.conversation.ClearOnLogout(deps.Store)
	cb.guard.Watch(deps.Store)

	if cfg.CacheEnabled {
		cb.replies = cache.New(cfg.CacheTTL)
		deps.Store.Subscribe(func(st session.State) {
			if !st.IsAuthenticated() {
				cb.replies.Purge()
			}
		})
	}
	return cb
}

// Close releases the database, telemetry exporters and log file
func (cb *ChatBot) Close() {
	for _, fn := range cb.closers {
		fn()
	}
	cb.closers = nil
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}

// Conversation returns the transcript of the current chat
func (cb *ChatBot) Conversation() *session.Conversation {
	return cb.conversation
}

// Store returns the session store
func (cb *ChatBot) Store() *session.Store {
	return cb.store
}

// begin marks kind as pending, refusing a second concurrent submission
func (cb *ChatBot) begin(kind string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.pending[kind] {
		return ErrBusy
	}
	cb.pending[kind] = true
	return nil
}

func (cb *ChatBot) end(kind string) {
	cb.mu.Lock()
	delete(cb.pending, kind)
	cb.mu.Unlock()
}

// Pending reports whether an action of kind is outstanding
func (cb *ChatBot) Pending(kind string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.pending[kind]
}

// Login signs in and stores the session
func (cb *ChatBot) Login(ctx context.Context, username, password string) (*session.User, error) {
	if err := cb.begin(actionLogin); err != nil {
		return nil, err
	}
	defer cb.end(actionLogin)

	user, err := cb.client.SignIn(ctx, strings.TrimSpace(username), password)
	if err != nil {
		cb.logger.Warn("login failed", "username", username, "error", err)
		var unauthorized *api.UnauthorizedError
		if errors.As(err, &unauthorized) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}

// Register creates an account; the user still has to log in afterwards
func (cb *ChatBot) Register(ctx context.Context, req api.RegisterRequest) error {
	if err := cb.begin(actionRegister); err != nil {
		return err
	}
	defer cb.end(actionRegister)

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := cb.client.Register(ctx, req); err != nil {
		cb.logger.Warn("registration failed", "username", req.Username, "error", err)
		return err
	}
	return nil
}

// Logout ends the session; the conversation is cleared with it
func (cb *ChatBot) Logout() {
	cb.store.Logout()
}

// Send appends the user's message, asks the assistant and appends the reply
func (cb *ChatBot) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if !cb.guard.Allowed(guard.ViewDashboard) {
		return "", ErrNotLoggedIn
	}
	if err := cb.begin(actionChat); err != nil {
		return "", err
	}
	defer cb.end(actionChat)

	cb.conversation.Append(session.RoleUser, text)

	var cacheKey string
	if cb.replies != nil {
		cacheKey = cache.GenerateCacheKey(cb.username(), text)
		if cached, ok := cb.replies.Get(cacheKey); ok {
			if err := cb.checkSession(ctx); err != nil {
				return "", err
			}
			cb.logger.Info("cache hit", "key", cacheKey[:16])
			cb.conversation.Append(session.RoleAssistant, cached)
			return cached, nil
		}
	}

	start := time.Now()
	reply, err := cb.client.SendChatMessage(ctx, text)
	if err != nil {
		cb.logger.Error("failed to send message", "error", err)
		return "", err
	}
	cb.logger.Info("assistant replied", "duration_ms", time.Since(start).Milliseconds(), "length", len(reply))

	if cb.replies != nil {
		cb.replies.Put(cacheKey, reply)
	}
	cb.conversation.Append(session.RoleAssistant, reply)
	return reply, nil
}

// checkSession confirms the token is still accepted before a cached reply
// is served. An expired token ends the session locally; a revoked one gets
// a 401 from the profile endpoint, which the client turns into a logout.
func (cb *ChatBot) checkSession(ctx context.Context) error {
	token := cb.store.Token()
	if exp, ok := session.TokenExpiry(token); ok && !time.Now().Before(exp) {
		cb.logger.Info("token expired, ending session", "expired_at", exp)
		cb.store.Logout()
		return &api.UnauthorizedError{Detail: "Token expired"}
	}
	if _, err := cb.client.CurrentUser(ctx, token); err != nil {
		return err
	}
	return nil
}

func (cb *ChatBot) username() string {
	if u := cb.store.User(); u != nil {
		return u.Username
	}
	return ""
}

// WhoAmI describes the current session
func (cb *ChatBot) WhoAmI() string {
	st := cb.store.Snapshot()
	if !st.IsAuthenticated() {
		return "Not logged in."
	}

	var b strings.Builder
	if st.User != nil {
		fmt.Fprintf(&b, "Logged in as %s <%s>\n", st.User.Username, st.User.Email)
		if st.User.FullName != "" {
			fmt.Fprintf(&b, "Name:    %s\n", st.User.FullName)
		}
		if st.User.SubscriptionTier != "" {
			fmt.Fprintf(&b, "Plan:    %s (%d queries this month)\n", st.User.SubscriptionTier, st.User.MonthlyQueriesUsed)
		}
	} else {
		b.WriteString("Logged in (profile not loaded)\n")
	}
	if exp, ok := session.TokenExpiry(st.Token); ok {
		fmt.Fprintf(&b, "Token expires %s\n", exp.Local().Format(time.RFC1123))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Status checks that the API is reachable
func (cb *ChatBot) Status(ctx context.Context) (api.Health, error) {
	return cb.client.Health(ctx)
}
