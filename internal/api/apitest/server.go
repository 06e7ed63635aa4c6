// Package apitest runs an in-process server that speaks the medical
// assistant's REST contract, for use in tests.
package apitest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Disclaimer is appended to every chat reply
const Disclaimer = "\n\n⚠️ **MEDICAL DISCLAIMER**: This information is for educational purposes only. Always consult healthcare professionals for medical advice."

// Request is what the server saw for one call
type Request struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	Body          string
}

type account struct {
	id       int
	username string
	email    string
	fullName string
	hash     []byte
}

// Server is a fake API backed by in-memory accounts
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	revoked  map[string]bool
	requests []Request
	nextID   int
	secret   []byte
	reply    func(message string) string
}

// NewServer starts a fake API. Close it when done.
func NewServer() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		revoked:  make(map[string]bool),
		secret:   []byte("test-secret"),
		reply: func(message string) string {
			return "Here is some general information about: " + message
		},
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/auth/me", s.handleMe)
		r.Post("/chat", s.handleChat)
	})

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser creates an account directly
func (s *Server) AddUser(username, email, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.accounts[username] = &account{id: s.nextID, username: username, email: email, hash: hash}
}

// IssueToken signs a token for username without a login call
func (s *Server) IssueToken(username string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(30 * time.Minute).Unix(),
	}).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return token
}

// Revoke makes every later request with token fail with 401
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// SetReply replaces the function producing chat replies
func (s *Server) SetReply(fn func(message string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fn
}

// Requests returns every request seen so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request to path
func (s *Server) LastRequest(path string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Path == path {
			return s.requests[i], true
		}
	}
	return Request{}, false
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          string(body),
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "groq": "connected"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if in.Username == "" || in.Password == "" || !strings.Contains(in.Email, "@") {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "value is not a valid registration"}},
		})
		return
	}

	s.mu.Lock()
	_, exists := s.accounts[in.Username]
	s.mu.Unlock()
	if exists {
		writeDetail(w, http.StatusBadRequest, "Username already exists")
		return
	}

	s.AddUser(in.Username, in.Email, in.Password)
	s.mu.Lock()
	s.accounts[in.Username].fullName = in.FullName
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"username":  in.Username,
		"email":     in.Email,
		"full_name": in.FullName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form body")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	s.mu.Lock()
	acct, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": s.IssueToken(username),
		"token_type":   "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authenticate(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 acct.id,
		"username":           acct.username,
		"email":              acct.email,
		"full_name":          acct.fullName,
		"subscriptionTier":   "free",
		"monthlyQueriesUsed": 0,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var in struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Message == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	s.mu.Lock()
	reply := s.reply
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"response": reply(in.Message) + Disclaimer})
}

func (s *Server) authenticate(r *http.Request) (*account, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}
	tokenStr := parts[1]

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[tokenStr] {
		return nil, false
	}
	acct, ok := s.accounts[sub]
	return acct, ok
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
