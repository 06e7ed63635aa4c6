package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"MedChat/internal/session"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	PathRegister = "/api/v1/auth/register"
	PathLogin    = "/api/v1/auth/login"
	PathMe       = "/api/v1/auth/me"
	PathChat     = "/api/v1/chat"
	PathHealth   = "/health"
)

// RegisterRequest is the body of POST /api/v1/auth/register
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName,omitempty"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Health is the body of GET /health
type Health struct {
	Status string `json:"status"`
	Groq   string `json:"groq"`
}

// Client is the single gateway every API call goes through
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessions   *session.Store
	logger     *slog.Logger
}

type options struct {
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
}

// Option configures a Client
type Option func(*options)

// WithTransport sets the innermost transport (defaults to http.DefaultTransport)
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTimeout sets an overall per-call timeout; zero keeps the transport default
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger used by the client and its logging middleware
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetry sets the tracer and meter for the telemetry middleware
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(o *options) {
		o.tracer = tracer
		o.meter = meter
	}
}

// NewClient creates a gateway for baseURL bound to the given session store.
// Requests pass through request-id, logging, telemetry, bearer auth and
// 401 invalidation, in that order.
func NewClient(baseURL string, sessions *session.Store, opts ...Option) *Client {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	transport := Chain(o.transport,
		RequestID(),
		Logging(o.logger),
		Telemetry(o.tracer, o.meter),
		BearerAuth(sessions),
		InvalidateOnUnauthorized(sessions),
	)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport, Timeout: o.timeout},
		sessions:   sessions,
		logger:     o.logger,
	}
}

// BaseURL returns the configured API address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register creates an account. It never changes the session.
func (c *Client) Register(ctx context.Context, in RegisterRequest) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, PathRegister, in)
	if err != nil {
		return err
	}
	if err := c.do(req, "register", nil); err != nil {
		return err
	}
	c.logger.Info("registered account", "username", in.Username)
	return nil
}

// Login exchanges credentials for a bearer token using a form-encoded body.
// The session is not updated; see SignIn.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathLogin, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out loginResponse
	if err := c.do(req, "login", &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("login: empty access_token in response")
	}
	return out.AccessToken, nil
}

// CurrentUser fetches the profile for token
func (c *Client) CurrentUser(ctx context.Context, token string) (*session.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathMe, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var user session.User
	if err := c.do(req, "current user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignIn runs the full login sequence: token, then profile, then SetAuth
func (c *Client) SignIn(ctx context.Context, username, password string) (*session.User, error) {
	token, err := c.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	user, err := c.CurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}

	c.sessions.SetAuth(token, user)
	return user, nil
}

// SendChatMessage posts one message and returns the assistant's reply
func (c *Client) SendChatMessage(ctx context.Context, text string) (string, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, PathChat, chatRequest{Message: text})
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := c.do(req, "chat", &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Health reports the API's status
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return Health{}, fmt.Errorf("failed to create request: %w", err)
	}

	var out Health
	if err := c.do(req, "health", &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req through the middleware chain and decodes a 2xx body into out
func (c *Client) do(req *http.Request, op string, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errorFromResponse(resp.StatusCode, body)
		c.logger.Warn("api error", "op", op, "status", resp.StatusCode, "error", apiErr)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to unmarshal response: %w", op, err)
	}
	return nil
}
