package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matchbot/matchbot/internal/chat"
	"github.com/matchbot/matchbot/internal/identity"
	"github.com/matchbot/matchbot/internal/quiz"
	"github.com/matchbot/matchbot/internal/shared"
	"github.com/matchbot/matchbot/internal/store"
)

type testServer struct {
	t    *testing.T
	repo store.Repository
	mux  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := store.Open(context.Background(), store.Options{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "api.db"),
		Retry:  shared.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	bank, err := quiz.NewBank([]quiz.Question{
		{Text: "Q0", Arity: quiz.AritySingle, Options: []string{"X", "Y"}},
		{Text: "Q1", Arity: quiz.ArityMulti, Options: []string{"P", "Q", "R"}},
	})
	if err != nil {
		t.Fatalf("NewBank() error = %v", err)
	}
	router := chat.NewRouter(repo, bank, nil, chat.Options{})

	r := chi.NewRouter()
	NewHealthHandler(repo, time.Second).RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, true))
		NewHandler(repo, router).RegisterRoutes(r)
	})
	return &testServer{t: t, repo: repo, mux: r}
}

// do issues a request as the user owning anonID and decodes the JSON body into out.
func (s *testServer) do(method, path, anonID string, body interface{}, out interface{}) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: anonID})
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)

	if out != nil {
		if err := json.NewDecoder(rr.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rr.Code
}

const (
	alice = "anon_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob   = "anon_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type eventResponse struct {
	Replies []chat.Reply `json:"replies"`
}

func (s *testServer) takeQuiz(anonID string, inputs ...string) {
	s.t.Helper()
	for _, text := range append([]string{chat.BtnQuiz}, inputs...) {
		var resp eventResponse
		if code := s.do(http.MethodPost, "/api/events", anonID, chat.Event{Text: text}, &resp); code != http.StatusOK {
			s.t.Fatalf("POST /api/events %q: status %d", text, code)
		}
	}
}

func TestRegisterAndMe(t *testing.T) {
	s := newTestServer(t)

	var me map[string]interface{}
	if code := s.do(http.MethodGet, "/api/me", alice, nil, &me); code != http.StatusOK {
		t.Fatalf("GET /api/me status = %d", code)
	}
	if me["user_id"] != alice || me["has_answers"] != false {
		t.Errorf("me = %v", me)
	}

	tests := []struct {
		name   string
		anonID string
		body   interface{}
		want   int
	}{
		{"valid", alice, map[string]string{"username": "@alice_01", "full_name": "Alice"}, http.StatusOK},
		{"too short", bob, map[string]string{"username": "bob"}, http.StatusBadRequest},
		{"unknown field", bob, map[string]string{"username": "bobby", "role": "admin"}, http.StatusBadRequest},
		{"taken", bob, map[string]string{"username": "ALICE_01"}, http.StatusConflict},
		{"re-register same name", alice, map[string]string{"username": "alice_01"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := s.do(http.MethodPost, "/api/register", tt.anonID, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	s.do(http.MethodGet, "/api/me", alice, nil, &me)
	if me["username"] != "alice_01" || me["full_name"] != "Alice" {
		t.Errorf("me after register = %v", me)
	}
}

func TestQuizOverHTTP(t *testing.T) {
	s := newTestServer(t)

	var questions struct {
		Questions []quiz.Question `json:"questions"`
	}
	s.do(http.MethodGet, "/api/questions", alice, nil, &questions)
	if len(questions.Questions) != 2 || !questions.Questions[1].IsMulti() {
		t.Fatalf("questions = %+v", questions.Questions)
	}

	if code := s.do(http.MethodGet, "/api/answers", alice, nil, nil); code != http.StatusNotFound {
		t.Errorf("GET /api/answers before quiz = %d, want 404", code)
	}

	s.do(http.MethodPost, "/api/register", alice, map[string]string{"username": "alice_01"}, nil)
	s.do(http.MethodPost, "/api/register", bob, map[string]string{"username": "bobby_02"}, nil)
	s.takeQuiz(alice, "1. X", "2. Q", chat.BtnNext)
	s.takeQuiz(bob, "1. X", "3. R", chat.BtnNext)

	var answers struct {
		Answers []chat.AnswerLine `json:"answers"`
	}
	if code := s.do(http.MethodGet, "/api/answers", alice, nil, &answers); code != http.StatusOK {
		t.Fatalf("GET /api/answers status = %d", code)
	}
	if len(answers.Answers) != 2 || answers.Answers[1].Answer != "Q" {
		t.Errorf("answers = %+v", answers.Answers)
	}

	var matches struct {
		Matches []chat.RankedMatch `json:"matches"`
	}
	if code := s.do(http.MethodGet, "/api/matches?limit=3", alice, nil, &matches); code != http.StatusOK {
		t.Fatalf("GET /api/matches status = %d", code)
	}
	if len(matches.Matches) != 1 || matches.Matches[0].Username != "bobby_02" || matches.Matches[0].Score != 0.4 {
		t.Errorf("matches = %+v", matches.Matches)
	}

	var history struct {
		Matches []map[string]interface{} `json:"matches"`
	}
	s.do(http.MethodGet, "/api/matches/history", bob, nil, &history)
	if len(history.Matches) != 1 || history.Matches[0]["username"] != "alice_01" {
		t.Errorf("history = %+v", history.Matches)
	}
	if _, leaked := history.Matches[0]["user_id"]; leaked {
		t.Errorf("history exposes the other user's id: %v", history.Matches[0])
	}

	if code := s.do(http.MethodGet, "/api/matches?limit=abc", alice, nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}

	var stats map[string]int
	s.do(http.MethodGet, "/api/stats", alice, nil, &stats)
	if stats["users"] != 2 || stats["users_with_answers"] != 2 || stats["questions"] != 2 {
		t.Errorf("stats = %v", stats)
	}
}

func TestValentineInboxHidesAnonymousSender(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/register", alice, map[string]string{"username": "alice_01", "full_name": "Alice"}, nil)
	s.do(http.MethodPost, "/api/register", bob, map[string]string{"username": "bobby_02"}, nil)

	for _, text := range []string{chat.BtnValentine, "@bobby_02", "secret admirer", chat.BtnSkipPhoto, chat.BtnAnonymous} {
		s.do(http.MethodPost, "/api/events", alice, chat.Event{Text: text}, nil)
	}

	var inbox struct {
		Valentines []map[string]interface{} `json:"valentines"`
	}
	if code := s.do(http.MethodGet, "/api/valentines", bob, nil, &inbox); code != http.StatusOK {
		t.Fatalf("GET /api/valentines status = %d", code)
	}
	if len(inbox.Valentines) != 1 {
		t.Fatalf("inbox = %+v, want one valentine", inbox.Valentines)
	}
	v := inbox.Valentines[0]
	if v["text"] != "secret admirer" || v["anonymous"] != true {
		t.Errorf("valentine = %v", v)
	}
	if _, leaked := v["sender"]; leaked {
		t.Errorf("anonymous valentine exposes sender: %v", v)
	}
}

func TestEventsCannotClaimUsername(t *testing.T) {
	s := newTestServer(t)
	const carol = "anon_cccccccccccccccccccccccccccccccc"

	if code := s.do(http.MethodPost, "/api/register", alice, map[string]string{"username": "alice_real"}, nil); code != http.StatusOK {
		t.Fatalf("register alice status = %d", code)
	}
	if code := s.do(http.MethodPost, "/api/register", bob, map[string]string{"username": "alice_real"}, nil); code != http.StatusConflict {
		t.Fatalf("register taken name status = %d, want 409", code)
	}

	claims := []map[string]string{
		{"text": "/start", "username": "alice_real"},
		{"text": "/start", "full_name": "Alice"},
	}
	for _, body := range claims {
		if code := s.do(http.MethodPost, "/api/events", bob, body, nil); code != http.StatusBadRequest {
			t.Errorf("event with identity fields %v status = %d, want 400", body, code)
		}
	}
	s.do(http.MethodPost, "/api/events", bob, chat.Event{Text: "/start"}, nil)

	owner, err := s.repo.GetUserByUsername(context.Background(), "alice_real")
	if err != nil || owner == nil || owner.UserID != alice {
		t.Fatalf("GetUserByUsername(alice_real) = %+v, %v; want alice", owner, err)
	}
	if u, _ := s.repo.GetUser(context.Background(), bob); u == nil || u.Username != "" {
		t.Errorf("bob = %+v, want no username", u)
	}

	for _, text := range []string{chat.BtnValentine, "@alice_real", "be mine", chat.BtnSkipPhoto, chat.BtnOpen} {
		s.do(http.MethodPost, "/api/events", carol, chat.Event{Text: text}, nil)
	}
	var inbox struct {
		Valentines []map[string]interface{} `json:"valentines"`
	}
	s.do(http.MethodGet, "/api/valentines", alice, nil, &inbox)
	if len(inbox.Valentines) != 1 {
		t.Errorf("alice inbox = %d valentines, want 1", len(inbox.Valentines))
	}
	s.do(http.MethodGet, "/api/valentines", bob, nil, &inbox)
	if len(inbox.Valentines) != 0 {
		t.Errorf("bob inbox = %d valentines, want 0", len(inbox.Valentines))
	}
}

func TestSearchUsers(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/register", alice, map[string]string{"username": "alice_01", "full_name": "Alice"}, nil)
	s.do(http.MethodPost, "/api/register", bob, map[string]string{"username": "bobby_02", "full_name": "Bob Alison"}, nil)

	var resp struct {
		Users []map[string]interface{} `json:"users"`
	}
	if code := s.do(http.MethodGet, "/api/users/search?q=ali", alice, nil, &resp); code != http.StatusOK {
		t.Fatalf("GET /api/users/search status = %d", code)
	}
	if len(resp.Users) != 1 || resp.Users[0]["username"] != "bobby_02" {
		t.Fatalf("users = %v, want only bobby_02 (caller excluded)", resp.Users)
	}
	if _, leaked := resp.Users[0]["user_id"]; leaked {
		t.Errorf("search result exposes user id: %v", resp.Users[0])
	}

	s.do(http.MethodGet, "/api/users/search?q=ali", bob, nil, &resp)
	if len(resp.Users) != 1 || resp.Users[0]["username"] != "alice_01" {
		t.Errorf("users for bob = %v, want alice_01", resp.Users)
	}

	if code := s.do(http.MethodGet, "/api/users/search?q=x&limit=0", alice, nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

type downRepo struct {
	store.Repository
}

func (downRepo) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	if code := s.do(http.MethodGet, "/health", alice, nil, nil); code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", code)
	}

	rr := httptest.NewRecorder()
	NewHealthHandler(downRepo{}, time.Second).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", rr.Code)
	}
}
