package chat

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matchbot/matchbot/internal/domain"
	"github.com/matchbot/matchbot/internal/quiz"
	"github.com/matchbot/matchbot/internal/store"
)

type fakeRepo struct {
	mu         sync.Mutex
	users      map[string]*domain.User
	answers    map[string]string
	matches    map[[2]string]float64
	valentines []domain.Valentine

	putAnswersErr    error
	saveValentineErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:   make(map[string]*domain.User),
		answers: make(map[string]string),
		matches: make(map[[2]string]float64),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRepo) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	username = domain.CleanUsername(username)
	for _, u := range f.users {
		if u.Username != "" && strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name := domain.CleanUsername(user.Username); name != "" {
		for id, u := range f.users {
			if id != user.UserID && strings.EqualFold(u.Username, name) {
				return store.ErrUsernameTaken
			}
		}
	}
	existing, ok := f.users[user.UserID]
	if !ok {
		cp := *user
		cp.Username = domain.CleanUsername(cp.Username)
		f.users[user.UserID] = &cp
		return nil
	}
	if user.Username != "" {
		existing.Username = domain.CleanUsername(user.Username)
	}
	if user.FullName != "" {
		existing.FullName = user.FullName
	}
	existing.LastSeenAt = user.LastSeenAt
	return nil
}

func (f *fakeRepo) SearchUsers(_ context.Context, query string, limit int) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	query = strings.ToLower(domain.CleanUsername(query))
	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var out []domain.User
	for _, id := range ids {
		u := f.users[id]
		if u.Username == "" || len(out) == limit {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), query) || strings.Contains(strings.ToLower(u.FullName), query) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func (f *fakeRepo) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeRepo) CountUsersWithAnswers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers), nil
}

func (f *fakeRepo) PutAnswers(_ context.Context, userID, blob string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putAnswersErr != nil {
		return f.putAnswersErr
	}
	f.answers[userID] = blob
	return nil
}

func (f *fakeRepo) GetAnswers(_ context.Context, userID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.answers[userID]
	return blob, ok, nil
}

func (f *fakeRepo) ListAllWithAnswers(context.Context) ([]domain.StoredAnswers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.answers))
	for id := range f.answers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]domain.StoredAnswers, 0, len(ids))
	for _, id := range ids {
		sa := domain.StoredAnswers{UserID: id, Blob: f.answers[id]}
		if u, ok := f.users[id]; ok {
			sa.Username = u.Username
			sa.FullName = u.FullName
		}
		out = append(out, sa)
	}
	return out, nil
}

func (f *fakeRepo) SaveMatch(_ context.Context, a, b string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b < a {
		a, b = b, a
	}
	f.matches[[2]string{a, b}] = score
	return nil
}

func (f *fakeRepo) ListMatches(context.Context, string, int) ([]domain.MatchRecord, error) {
	return nil, nil
}

func (f *fakeRepo) CleanupStaleMatches(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) SaveValentine(_ context.Context, v *domain.Valentine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveValentineErr != nil {
		return f.saveValentineErr
	}
	f.valentines = append(f.valentines, *v)
	return nil
}

func (f *fakeRepo) ListValentines(_ context.Context, recipientID string, _ int) ([]domain.Valentine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Valentine
	for _, v := range f.valentines {
		if v.RecipientID == recipientID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type sentMessage struct {
	userID  string
	replies []Reply
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMessenger) Send(_ context.Context, userID string, replies ...Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{userID: userID, replies: replies})
	return nil
}

func (m *fakeMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

func scenarioBank(t *testing.T) *quiz.Bank {
	t.Helper()
	bank, err := quiz.NewBank([]quiz.Question{
		{Text: "Q0", Arity: quiz.AritySingle, Options: []string{"X", "Y"}},
		{Text: "Q1", Arity: quiz.ArityMulti, Options: []string{"P", "Q", "R"}},
	})
	if err != nil {
		t.Fatalf("NewBank failed: %v", err)
	}
	return bank
}

func newTestRouter(t *testing.T) (*Router, *fakeRepo, *fakeMessenger) {
	t.Helper()
	repo := newFakeRepo()
	msgr := &fakeMessenger{}
	r := NewRouter(repo, scenarioBank(t), msgr, Options{MatchLimit: 5, ValentineLimit: 2, ValentineWindow: time.Hour})
	return r, repo, msgr
}

// addUser registers a named user the way POST /api/register does.
func addUser(t *testing.T, r *Router, userID, username, fullName string) {
	t.Helper()
	if err := r.repo.UpsertUser(context.Background(), &domain.User{UserID: userID, Username: username, FullName: fullName}); err != nil {
		t.Fatalf("UpsertUser(%s) error = %v", userID, err)
	}
}

// send delivers text as userID and returns the concatenated reply texts.
func send(t *testing.T, r *Router, userID, text string) string {
	t.Helper()
	replies := r.Handle(context.Background(), userID, Event{Text: text})
	if len(replies) == 0 {
		t.Fatalf("no replies for %q", text)
	}
	texts := make([]string, 0, len(replies))
	for _, rep := range replies {
		texts = append(texts, rep.Text)
	}
	return strings.Join(texts, "\n")
}

func mustContain(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("reply %q does not contain %q", got, want)
	}
}
