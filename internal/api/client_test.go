package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"MedChat/internal/api/apitest"
	"MedChat/internal/session"
)

func newTestClient(t *testing.T) (*Client, *session.Store, *session.MemoryPersister, *apitest.Server) {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)

	persister := session.NewMemoryPersister()
	store := session.NewStore(persister, nil)
	return NewClient(srv.URL, store), store, persister, srv
}

func TestSignInSetsSession(t *testing.T) {
	client, store, _, srv := newTestClient(t)
	srv.AddUser("alice", "alice@x.com", "secret")

	user, err := client.SignIn(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if user.Username != "alice" || user.Email != "alice@x.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if !store.IsAuthenticated() {
		t.Fatal("expected authenticated session after sign in")
	}
	if store.User().Username != "alice" {
		t.Fatalf("expected alice in store, got %+v", store.User())
	}

	login, ok := srv.LastRequest(PathLogin)
	if !ok {
		t.Fatal("login request not seen")
	}
	if login.ContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("expected form-encoded login, got %q", login.ContentType)
	}
	if !strings.Contains(login.Body, "username=alice") || !strings.Contains(login.Body, "password=secret") {
		t.Fatalf("unexpected login body: %q", login.Body)
	}

	me, _ := srv.LastRequest(PathMe)
	if me.Authorization != "Bearer "+store.Token() {
		t.Fatalf("profile fetch used %q, want token from login", me.Authorization)
	}
}

func TestLoginDoesNotTouchSession(t *testing.T) {
	client, store, _, srv := newTestClient(t)
	srv.AddUser("alice", "alice@x.com", "secret")

	token, err := client.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if store.IsAuthenticated() {
		t.Fatal("Login alone must not update the session")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	client, store, _, srv := newTestClient(t)
	srv.AddUser("alice", "alice@x.com", "secret")

	_, err := client.SignIn(context.Background(), "alice", "wrong")
	var unauthorized *UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if unauthorized.Detail != "Incorrect credentials" {
		t.Fatalf("unexpected detail %q", unauthorized.Detail)
	}
	if store.IsAuthenticated() {
		t.Fatal("expected no session after failed login")
	}
}

func TestRegisterDuplicateReturnsValidationError(t *testing.T) {
	client, store, persister, srv := newTestClient(t)
	srv.AddUser("bob", "bob@x.com", "pw123456")

	store.SetAuth("T0", &session.User{Username: "carol"})
	writes := persister.Writes()

	err := client.Register(context.Background(), RegisterRequest{Username: "bob", Email: "bob@x.com", Password: "pw123456"})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validation.Status != http.StatusBadRequest || validation.Detail != "Username already exists" {
		t.Fatalf("unexpected validation error: %+v", validation)
	}

	if store.Token() != "T0" || store.User().Username != "carol" {
		t.Fatalf("session changed by failed register: %+v", store.Snapshot())
	}
	if persister.Writes() != writes {
		t.Fatal("failed register must not persist anything")
	}
}

func TestRegisterDoesNotLogIn(t *testing.T) {
	client, store, _, srv := newTestClient(t)

	err := client.Register(context.Background(), RegisterRequest{
		Username: "dave",
		Email:    "dave@x.com",
		Password: "pw123456",
		FullName: "Dave D",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if store.IsAuthenticated() {
		t.Fatal("registration must not log the user in")
	}

	req, _ := srv.LastRequest(PathRegister)
	if req.ContentType != "application/json" || !strings.Contains(req.Body, `"fullName":"Dave D"`) {
		t.Fatalf("unexpected register request: %+v", req)
	}

	user, err := client.SignIn(context.Background(), "dave", "pw123456")
	if err != nil {
		t.Fatalf("sign in after register: %v", err)
	}
	if user.FullName != "Dave D" {
		t.Fatalf("expected full name from profile, got %q", user.FullName)
	}
}

func TestRegisterFieldValidationDetail(t *testing.T) {
	client, _, _, _ := newTestClient(t)

	err := client.Register(context.Background(), RegisterRequest{Username: "eve", Email: "not-an-email", Password: "pw"})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validation.Status != http.StatusUnprocessableEntity || validation.Detail != "value is not a valid registration" {
		t.Fatalf("unexpected validation error: %+v", validation)
	}
}

func TestSendChatMessage(t *testing.T) {
	client, _, _, srv := newTestClient(t)
	srv.AddUser("alice", "alice@x.com", "secret")
	srv.SetReply(func(string) string { return "A fever is a temporary rise in body temperature." })

	if _, err := client.SignIn(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	reply, err := client.SendChatMessage(context.Background(), "What is a fever?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.HasPrefix(reply, "A fever is") || !strings.HasSuffix(reply, apitest.Disclaimer) {
		t.Fatalf("unexpected reply: %q", reply)
	}

	req, _ := srv.LastRequest(PathChat)
	if req.Body != `{"message":"What is a fever?"}` {
		t.Fatalf("unexpected chat body: %q", req.Body)
	}
}

func TestChatUnauthorizedClearsSession(t *testing.T) {
	client, store, persister, srv := newTestClient(t)
	srv.AddUser("alice", "alice@x.com", "secret")

	if _, err := client.SignIn(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	srv.Revoke(store.Token())

	_, err := client.SendChatMessage(context.Background(), "What is a fever?")
	var unauthorized *UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if store.IsAuthenticated() {
		t.Fatal("expected session cleared after 401")
	}
	if restored, _ := persister.Load(); restored.IsAuthenticated() {
		t.Fatal("expected cleared session to be persisted")
	}
}

func TestChatWithoutSessionIsUnauthenticated(t *testing.T) {
	client, _, _, srv := newTestClient(t)

	_, err := client.SendChatMessage(context.Background(), "hello")
	var unauthorized *UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}

	req, _ := srv.LastRequest(PathChat)
	if req.Authorization != "" {
		t.Fatalf("expected no Authorization header, got %q", req.Authorization)
	}
}

func TestCurrentUserKeepsExplicitToken(t *testing.T) {
	client, store, _, srv := newTestClient(t)
	srv.AddUser("alice", "alice@x.com", "secret")
	store.SetAuth("stale", &session.User{Username: "old"})

	fresh := srv.IssueToken("alice")
	user, err := client.CurrentUser(context.Background(), fresh)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}

	req, _ := srv.LastRequest(PathMe)
	if req.Authorization != "Bearer "+fresh {
		t.Fatalf("explicit token replaced: %q", req.Authorization)
	}
}

func TestNetworkError(t *testing.T) {
	srv := apitest.NewServer()
	url := srv.URL
	srv.Close()

	store := session.NewStore(nil, nil)
	store.SetAuth("T1", &session.User{Username: "alice"})
	client := NewClient(url, store)

	_, err := client.SendChatMessage(context.Background(), "hello")
	var networkErr *NetworkError
	if !errors.As(err, &networkErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !store.IsAuthenticated() {
		t.Fatal("a transport failure must not clear the session")
	}
	if UserMessage(err) != "Network error, please retry." {
		t.Fatalf("unexpected user message %q", UserMessage(err))
	}
}

func TestHealth(t *testing.T) {
	client, _, _, _ := newTestClient(t)

	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "healthy" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ValidationError{Status: 400, Detail: "Username already exists"}, "Username already exists"},
		{&UnauthorizedError{Detail: "Not authenticated"}, "Please log in again."},
		{&ServerError{Status: 500, Detail: "AI service not configured"}, "AI service not configured"},
		{errors.New("boom"), "boom"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.err); got != tc.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestParseDetail(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{400, `{"detail":"Username already exists"}`, "Username already exists"},
		{422, `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`, "value is not a valid email address"},
		{500, `Internal Server Error`, "Internal Server Error"},
		{404, `{}`, "Not Found"},
	}
	for _, tc := range cases {
		if got := parseDetail(tc.status, []byte(tc.body)); got != tc.want {
			t.Errorf("parseDetail(%d, %s) = %q, want %q", tc.status, tc.body, got, tc.want)
		}
	}
}
