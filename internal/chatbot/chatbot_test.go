package chatbot

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"MedChat/internal/api"
	"MedChat/internal/api/apitest"
	"MedChat/internal/config"
	"MedChat/internal/session"

	"github.com/golang-jwt/jwt/v5"
)

func setupBot(t *testing.T, cfg config.Config, input string) (*ChatBot, *apitest.Server, *bytes.Buffer) {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser("alice", "alice@x.com", "secret")

	store := session.NewStore(session.NewMemoryPersister(), nil)
	out := &bytes.Buffer{}
	bot := New(cfg, Deps{
		Client: api.NewClient(srv.URL, store),
		Store:  store,
		Prompt: NewLinePrompter(strings.NewReader(input), out),
		Out:    out,
	})
	return bot, srv, out
}

func countRequests(srv *apitest.Server, path string) int {
	n := 0
	for _, r := range srv.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func TestSendAppendsReplyAfterUserMessage(t *testing.T) {
	bot, srv, _ := setupBot(t, config.Default(), "")
	srv.SetReply(func(string) string { return "A fever is a raised body temperature." })

	if _, err := bot.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !bot.Store().IsAuthenticated() {
		t.Fatal("expected authenticated after login")
	}

	reply, err := bot.Send(context.Background(), "What is a fever?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs := bot.Conversation().Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != session.RoleUser || msgs[0].Content != "What is a fever?" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != session.RoleAssistant || msgs[1].Content != reply {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
}

func TestLoginWrongPassword(t *testing.T) {
	bot, _, _ := setupBot(t, config.Default(), "")

	_, err := bot.Login(context.Background(), "alice", "nope")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if bot.Store().IsAuthenticated() {
		t.Fatal("failed login must not create a session")
	}
}

func TestSendRequiresLogin(t *testing.T) {
	bot, srv, _ := setupBot(t, config.Default(), "")

	_, err := bot.Send(context.Background(), "hello")
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if countRequests(srv, api.PathChat) != 0 {
		t.Fatal("guarded send must not reach the API")
	}
	if bot.Conversation().Len() != 0 {
		t.Fatal("rejected send must not touch the conversation")
	}
}

func TestSendEmptyMessage(t *testing.T) {
	bot, _, _ := setupBot(t, config.Default(), "")
	if _, err := bot.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendUnauthorizedClearsSessionAndConversation(t *testing.T) {
	bot, srv, _ := setupBot(t, config.Default(), "")
	if _, err := bot.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := bot.Send(context.Background(), "first"); err != nil {
		t.Fatalf("send: %v", err)
	}

	srv.Revoke(bot.Store().Token())
	_, err := bot.Send(context.Background(), "second")

	var unauthorized *api.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if bot.Store().IsAuthenticated() {
		t.Fatal("expected session cleared")
	}
	if bot.Conversation().Len() != 0 {
		t.Fatal("expected conversation cleared with the session")
	}
}

func TestDoubleSubmitIsRejected(t *testing.T) {
	bot, srv, _ := setupBot(t, config.Default(), "")
	if _, err := bot.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	release := make(chan struct{})
	srv.SetReply(func(string) string {
		<-release
		return "ok"
	})

	done := make(chan error, 1)
	go func() {
		_, err := bot.Send(context.Background(), "slow question")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !bot.Pending(actionChat) {
		if time.Now().After(deadline) {
			t.Fatal("first send never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := bot.Send(context.Background(), "impatient"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if bot.Pending(actionChat) {
		t.Fatal("pending flag not released")
	}
}

func TestRegisterDuplicateLeavesSessionUntouched(t *testing.T) {
	bot, srv, _ := setupBot(t, config.Default(), "")
	srv.AddUser("bob", "bob@x.com", "pw123456")

	err := bot.Register(context.Background(), api.RegisterRequest{Username: "bob", Email: "bob@x.com", Password: "pw123456"})
	var validation *api.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if bot.Store().IsAuthenticated() {
		t.Fatal("register must not log in")
	}
}

func TestCachedReplySkipsAPI(t *testing.T) {
	cfg := config.Default()
	cfg.CacheEnabled = true
	bot, srv, _ := setupBot(t, cfg, "")
	if _, err := bot.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	first, err := bot.Send(context.Background(), "What is a fever?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := bot.Send(context.Background(), "what is a fever?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if first != second {
		t.Fatal("expected cached reply")
	}
	if n := countRequests(srv, api.PathChat); n != 1 {
		t.Fatalf("expected 1 chat request, got %d", n)
	}
	if bot.Conversation().Len() != 4 {
		t.Fatalf("expected 4 messages, got %d", bot.Conversation().Len())
	}
}

func TestCachedReplyRequiresValidToken(t *testing.T) {
	cfg := config.Default()
	cfg.CacheEnabled = true
	bot, srv, _ := setupBot(t, cfg, "")
	if _, err := bot.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := bot.Send(context.Background(), "What is a fever?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	srv.Revoke(bot.Store().Token())
	_, err := bot.Send(context.Background(), "What is a fever?")

	var unauthorized *api.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if bot.Store().IsAuthenticated() {
		t.Fatal("expected session cleared")
	}
	if bot.Conversation().Len() != 0 {
		t.Fatalf("expected conversation cleared, got %d messages", bot.Conversation().Len())
	}
}

func TestCachedReplyWithExpiredTokenLogsOut(t *testing.T) {
	cfg := config.Default()
	cfg.CacheEnabled = true
	bot, srv, _ := setupBot(t, cfg, "")
	user, err := bot.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := bot.Send(context.Background(), "What is a fever?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bot.Store().SetAuth(expired, user)
	before := countRequests(srv, api.PathMe)

	_, err = bot.Send(context.Background(), "What is a fever?")

	var unauthorized *api.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if bot.Store().IsAuthenticated() {
		t.Fatal("expected session cleared")
	}
	if n := countRequests(srv, api.PathMe); n != before {
		t.Fatalf("expired token should not reach the server, got %d extra requests", n-before)
	}
}

func TestRunLoginChatLogout(t *testing.T) {
	input := strings.Join([]string{
		"",
		"What is a fever?",
		"/login alice",
		"secret",
		"What is a fever?",
		"/whoami",
		"/history",
		"/logout",
		"/quit",
	}, "\n") + "\n"
	bot, _, out := setupBot(t, config.Default(), input)

	if err := bot.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Please log in (/login)",
		"Error: please log in first",
		"Welcome back, alice!",
		Banner,
		"Assistant:",
		"MEDICAL DISCLAIMER",
		"Logged in as alice <alice@x.com>",
		"user: What is a fever?",
		"Logged out successfully.",
		"Goodbye!",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q\n---\n%s", want, text)
		}
	}
	if bot.Store().IsAuthenticated() {
		t.Fatal("expected logged out at the end")
	}
}

func TestRunPromptsForLoginWhenLoggedOut(t *testing.T) {
	input := strings.Join([]string{
		"alice",
		"secret",
		"What is a fever?",
	}, "\n") + "\n"
	bot, srv, out := setupBot(t, config.Default(), input)

	if err := bot.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	for _, want := range []string{"Username", "Password: ", "Welcome back, alice!", "Assistant:", "Goodbye!"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q\n---\n%s", want, text)
		}
	}
	if n := countRequests(srv, api.PathChat); n != 1 {
		t.Fatalf("expected 1 chat request, got %d", n)
	}
}

func TestRunLoginPromptAcceptsQuit(t *testing.T) {
	bot, srv, out := setupBot(t, config.Default(), "/quit\nWhat is a fever?\n")
	if err := bot.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Goodbye!") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if len(srv.Requests()) != 0 {
		t.Fatalf("expected no requests, got %d", len(srv.Requests()))
	}
}

func TestRunSkipsLoginPromptWhenAuthenticated(t *testing.T) {
	bot, _, out := setupBot(t, config.Default(), "What is a fever?\n")
	if _, err := bot.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := bot.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out.String(), "Username") {
		t.Fatalf("did not expect a login prompt:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Assistant:") {
		t.Fatalf("expected a reply:\n%s", out.String())
	}
}

func TestRunRegisterThenLogin(t *testing.T) {
	input := strings.Join([]string{
		"/register",
		"carol",
		"carol@x.com",
		"Carol C",
		"pw123456",
		"/login carol",
		"pw123456",
	}, "\n") + "\n"
	bot, _, out := setupBot(t, config.Default(), input)

	if err := bot.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "Account created!") || !strings.Contains(text, "Welcome back, Carol C!") {
		t.Fatalf("unexpected output:\n%s", text)
	}
	if !bot.Store().IsAuthenticated() {
		t.Fatal("expected session after login")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	bot, _, out := setupBot(t, config.Default(), "/dance\n")
	if err := bot.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "unknown command: /dance") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestWhoAmINotLoggedIn(t *testing.T) {
	bot, _, _ := setupBot(t, config.Default(), "")
	if bot.WhoAmI() != "Not logged in." {
		t.Fatalf("unexpected whoami: %q", bot.WhoAmI())
	}
}
