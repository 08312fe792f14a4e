// Package chat maps inbound chat events onto quiz sessions, matching and
// the valentine wizard, and renders the results as replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matchbot/matchbot/internal/domain"
	"github.com/matchbot/matchbot/internal/quiz"
	"github.com/matchbot/matchbot/internal/store"
)

var (
	// ErrNoAnswers means the user has not completed the quiz.
	ErrNoAnswers = errors.New("no stored answers")
	// ErrNotEnoughUsers means fewer than two users have answers.
	ErrNotEnoughUsers = errors.New("not enough users with answers")
)

const (
	textWelcome = "Hi %s! I'm a compatibility bot. Take a short quiz and I'll find the people who answered most like you. " +
		"You can also send someone a valentine, openly or anonymously."
	textHelp = "📝 Take the quiz: answer %d questions about yourself.\n" +
		"📊 My answers: see what you answered last time.\n" +
		"🔍 Find matches: the people whose answers are closest to yours.\n" +
		"💌 Send a valentine: write to someone by their username.\n" +
		"❌ Cancel stops whatever you are doing."
	textUnknown        = "I didn't get that. Please use the menu."
	textNothingActive  = "There is nothing to cancel."
	textBusy           = "Finish the current step or press ❌ Cancel first."
	textWrongState     = "That doesn't apply to this question."
	textStorageFailed  = "Something went wrong while saving. Please try again."
	textLookupFailed   = "Something went wrong. Please try again later."
	textNoAnswers      = "You haven't taken the quiz yet. Press 📝 Take the quiz to start."
	textNotEnoughUsers = "Not enough participants yet. Come back a little later!"
	textNoMatches      = "No matches found yet."
)

// Options tunes a Router.
type Options struct {
	MatchLimit      int
	ValentineLimit  int
	ValentineWindow time.Duration
}

// conversation is the transient per-user state. mu serializes every event
// of one user.
type conversation struct {
	mu        sync.Mutex
	quiz      quiz.Session
	valentine *valentineDraft
	lastSeen  time.Time
	evicted   bool
}

func (c *conversation) active() bool {
	return c.quiz.Active() || c.valentine != nil
}

// Router turns inbound events into state transitions and replies. Replies
// to the sender are returned; messages for other users go through the
// Messenger.
type Router struct {
	repo      store.Repository
	bank      *quiz.Bank
	machine   *quiz.Machine
	codec     *quiz.Codec
	scorer    *quiz.Scorer
	messenger Messenger
	limiter   *RateLimiter
	opts      Options

	convs sync.Map // userID -> *conversation
	now   func() time.Time
	newID func() string
}

// NewRouter creates a router. messenger may be nil, in which case
// valentines are only stored in the inbox.
func NewRouter(repo store.Repository, bank *quiz.Bank, messenger Messenger, opts Options) *Router {
	if opts.MatchLimit <= 0 {
		opts.MatchLimit = 5
	}
	if opts.ValentineLimit <= 0 {
		opts.ValentineLimit = 5
	}
	if opts.ValentineWindow <= 0 {
		opts.ValentineWindow = time.Hour
	}
	return &Router{
		repo:      repo,
		bank:      bank,
		machine:   quiz.NewMachine(bank),
		codec:     quiz.NewCodec(bank),
		scorer:    quiz.NewScorer(bank),
		messenger: messenger,
		limiter:   NewRateLimiter(opts.ValentineLimit, opts.ValentineWindow),
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Bank returns the question bank the router serves.
func (r *Router) Bank() *quiz.Bank {
	return r.bank
}

// acquire returns the locked conversation of userID.
func (r *Router) acquire(userID string) *conversation {
	for {
		v, _ := r.convs.LoadOrStore(userID, &conversation{})
		conv := v.(*conversation)
		conv.mu.Lock()
		if !conv.evicted {
			return conv
		}
		conv.mu.Unlock()
	}
}

// Handle processes one event of userID to completion and returns the
// replies for that user.
func (r *Router) Handle(ctx context.Context, userID string, ev Event) []Reply {
	conv := r.acquire(userID)
	defer conv.mu.Unlock()
	conv.lastSeen = r.now()

	if err := r.touch(ctx, userID); err != nil {
		slog.Error("failed to record user", "user_id", userID, "error", err)
		return []Reply{{Text: textStorageFailed}}
	}

	text := strings.TrimSpace(ev.Text)

	switch {
	case text == CmdStart:
		return r.welcome(ctx, conv, userID)
	case text == BtnCancel || text == CmdCancel:
		return r.cancel(conv)
	case conv.quiz.Active():
		return r.handleQuiz(ctx, conv, userID, text)
	case conv.valentine != nil:
		return r.handleValentine(ctx, conv, userID, text, ev.PhotoURL)
	}

	switch text {
	case BtnQuiz:
		return r.startQuiz(conv)
	case BtnMyAnswers:
		return r.myAnswers(ctx, userID)
	case BtnMatches:
		return r.findMatches(ctx, userID)
	case BtnValentine:
		return r.startValentine(conv)
	case BtnHelp:
		return []Reply{menuReply(fmt.Sprintf(textHelp, r.bank.Count()))}
	}
	return []Reply{menuReply(textUnknown)}
}

// touch records activity of userID, creating a nameless user on first contact.
func (r *Router) touch(ctx context.Context, userID string) error {
	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return r.repo.UpsertUser(ctx, &domain.User{UserID: userID, LastSeenAt: r.now()})
	}
	return r.repo.UpdateLastSeen(ctx, userID, r.now())
}

func (r *Router) welcome(ctx context.Context, conv *conversation, userID string) []Reply {
	name := "there"
	if user, err := r.repo.GetUser(ctx, userID); err == nil && user != nil && (user.FullName != "" || user.Username != "") {
		name = user.DisplayName()
	}
	replies := []Reply{menuReply(fmt.Sprintf(textWelcome, name))}
	if conv.active() {
		replies = append(replies, Reply{Text: "You have an unfinished step. Continue, or press ❌ Cancel.", Buttons: cancelOnly()})
	}
	return replies
}

func (r *Router) cancel(conv *conversation) []Reply {
	switch {
	case conv.quiz.Active():
		next, step, _ := r.machine.Cancel(conv.quiz)
		conv.quiz = next
		return []Reply{r.render(step)}
	case conv.valentine != nil:
		conv.valentine = nil
		return []Reply{menuReply("Valentine cancelled.")}
	}
	return []Reply{menuReply(textNothingActive)}
}

func (r *Router) startQuiz(conv *conversation) []Reply {
	next, step, err := r.machine.Start(conv.quiz)
	if err != nil {
		slog.Debug("quiz start rejected", "error", err)
	}
	conv.quiz = next
	return []Reply{r.render(step)}
}

func (r *Router) handleQuiz(ctx context.Context, conv *conversation, userID, text string) []Reply {
	var (
		next quiz.Session
		step quiz.Step
		err  error
	)
	switch {
	case text == BtnNext:
		next, step, err = r.machine.ConfirmMulti(conv.quiz)
	case text == BtnQuiz:
		next, step, err = r.machine.Start(conv.quiz)
	case isMenuCommand(text):
		return []Reply{{Text: textBusy}, r.render(r.reprompt(conv.quiz))}
	default:
		option, ok := parseOption(text)
		if !ok {
			option = -1
		}
		if conv.quiz.Phase == quiz.PhaseAwaitingMulti {
			next, step, err = r.machine.ToggleMulti(conv.quiz, option)
		} else {
			next, step, err = r.machine.SubmitSingle(conv.quiz, option)
		}
	}

	switch {
	case errors.Is(err, quiz.ErrQuestionNotFound):
		slog.Error("question bank lookup failed, session reset", "user_id", userID, "error", err)
	case errors.Is(err, quiz.ErrWrongState):
		return []Reply{r.questionReply(textWrongState, step)}
	case quiz.IsValidation(err), quiz.IsStateConflict(err):
		slog.Debug("quiz input rejected", "user_id", userID, "error", err)
	}

	if step.Kind == quiz.StepComplete {
		if err := r.repo.PutAnswers(ctx, userID, step.Blob); err != nil {
			// Keep the pre-completion session so resending the last answer retries the save.
			slog.Error("failed to store answers", "user_id", userID, "error", err)
			return []Reply{{Text: textStorageFailed}, r.render(r.reprompt(conv.quiz))}
		}
		slog.Info("quiz completed", "user_id", userID)
		conv.quiz = quiz.Session{}
		return []Reply{r.render(step)}
	}

	conv.quiz = next
	return []Reply{r.render(step)}
}

// reprompt re-emits the current question without changing the session.
func (r *Router) reprompt(s quiz.Session) quiz.Step {
	step := quiz.Step{Kind: quiz.StepQuestion, Index: s.Current, Total: r.bank.Count()}
	if q, err := r.bank.Get(s.Current); err == nil {
		step.Question = q
	}
	step.Selection = s.Answers.Selected(s.Current)
	return step
}

func (r *Router) render(step quiz.Step) Reply {
	switch step.Kind {
	case quiz.StepQuestion:
		return r.questionReply("", step)
	case quiz.StepSelection:
		return r.questionReply(selectionText(step), step)
	case quiz.StepInvalidChoice:
		return r.questionReply("Invalid choice, please pick one of the options.", step)
	case quiz.StepNoSelection:
		return r.questionReply("Select at least one option before pressing ✅ Next.", step)
	case quiz.StepNotAllowed:
		if step.Question.Text != "" {
			return r.questionReply("You already have a quiz in progress.", step)
		}
		return menuReply(textNothingActive)
	case quiz.StepComplete:
		return menuReply("Quiz complete! Your answers are saved. Press 🔍 Find matches to see who fits you best.")
	case quiz.StepCancelled:
		return menuReply("Quiz cancelled. Nothing was saved.")
	case quiz.StepUnavailable:
		return menuReply("This question is not available right now, so the quiz was reset. Please try again later.")
	}
	return menuReply(textUnknown)
}

func (r *Router) questionReply(prefix string, step quiz.Step) Reply {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question %d of %d: %s", step.Index+1, step.Total, step.Question.Text)
	if step.Question.IsMulti() {
		b.WriteString("\n(select all that apply, then press ✅ Next)")
	}
	return Reply{Text: b.String(), Buttons: questionKeyboard(step.Question, step.Selection)}
}

func selectionText(step quiz.Step) string {
	if len(step.Selection) == 0 {
		return "Nothing selected yet."
	}
	labels := make([]string, 0, len(step.Selection))
	for _, i := range step.Selection {
		if i >= 0 && i < len(step.Question.Options) {
			labels = append(labels, step.Question.Options[i])
		}
	}
	return "Selected: " + strings.Join(labels, ", ")
}

// loadAnswers decodes stored answers. Corrupt blobs count as empty.
func (r *Router) loadAnswers(ctx context.Context, userID string) (quiz.AnswerSet, error) {
	blob, ok, err := r.repo.GetAnswers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	if !ok {
		return nil, ErrNoAnswers
	}
	return r.decode(userID, blob), nil
}

func (r *Router) decode(userID, blob string) quiz.AnswerSet {
	answers, err := r.codec.Decode(blob)
	if err != nil {
		slog.Warn("stored answers are corrupt, treating as empty", "user_id", userID, "error", err)
		return quiz.AnswerSet{}
	}
	return answers
}

// AnswerLine is one question with the user's selection rendered as text.
type AnswerLine struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// MyAnswers summarizes the stored answers of userID.
func (r *Router) MyAnswers(ctx context.Context, userID string) ([]AnswerLine, error) {
	answers, err := r.loadAnswers(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines := make([]AnswerLine, 0, r.bank.Count())
	for i, q := range r.bank.Questions() {
		lines = append(lines, AnswerLine{
			Index:    i,
			Question: q.Text,
			Answer:   r.bank.Summary(i, answers.Selected(i)),
		})
	}
	return lines, nil
}

func (r *Router) myAnswers(ctx context.Context, userID string) []Reply {
	lines, err := r.MyAnswers(ctx, userID)
	if errors.Is(err, ErrNoAnswers) {
		return []Reply{menuReply(textNoAnswers)}
	}
	if err != nil {
		slog.Error("failed to load answers", "user_id", userID, "error", err)
		return []Reply{menuReply(textLookupFailed)}
	}
	var b strings.Builder
	b.WriteString("Your answers:")
	for _, l := range lines {
		fmt.Fprintf(&b, "\n\n%d. %s\n%s", l.Index+1, l.Question, l.Answer)
	}
	return []Reply{menuReply(b.String())}
}

// RankedMatch is a match with the other user's public names.
type RankedMatch struct {
	UserID   string  `json:"-"`
	Username string  `json:"username,omitempty"`
	FullName string  `json:"full_name,omitempty"`
	Score    float64 `json:"score"`
}

// Handle returns "@username" or the best available name.
func (m RankedMatch) Handle() string {
	u := domain.User{UserID: m.UserID, Username: m.Username, FullName: m.FullName}
	return u.Handle()
}

// FindMatches ranks every other user with answers against userID and
// caches the top results. limit <= 0 uses the configured default.
func (r *Router) FindMatches(ctx context.Context, userID string, limit int) ([]RankedMatch, error) {
	if limit <= 0 {
		limit = r.opts.MatchLimit
	}
	target, err := r.loadAnswers(ctx, userID)
	if err != nil {
		return nil, err
	}

	all, err := r.repo.ListAllWithAnswers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if len(all) < 2 {
		return nil, ErrNotEnoughUsers
	}

	candidates := make([]quiz.Candidate, 0, len(all))
	names := make(map[string]domain.StoredAnswers, len(all))
	for _, sa := range all {
		candidates = append(candidates, quiz.Candidate{UserID: sa.UserID, Answers: r.decode(sa.UserID, sa.Blob)})
		names[sa.UserID] = sa
	}

	top := r.scorer.TopMatches(target, candidates, userID, limit)
	out := make([]RankedMatch, 0, len(top))
	for _, m := range top {
		sa := names[m.UserID]
		out = append(out, RankedMatch{UserID: m.UserID, Username: sa.Username, FullName: sa.FullName, Score: m.Score})
		if err := r.repo.SaveMatch(ctx, userID, m.UserID, m.Score); err != nil {
			slog.Warn("failed to cache match", "user_id", userID, "other_id", m.UserID, "error", err)
		}
	}
	return out, nil
}

func (r *Router) findMatches(ctx context.Context, userID string) []Reply {
	matches, err := r.FindMatches(ctx, userID, 0)
	switch {
	case errors.Is(err, ErrNoAnswers):
		return []Reply{menuReply(textNoAnswers)}
	case errors.Is(err, ErrNotEnoughUsers):
		return []Reply{menuReply(textNotEnoughUsers)}
	case err != nil:
		slog.Error("failed to find matches", "user_id", userID, "error", err)
		return []Reply{menuReply(textLookupFailed)}
	case len(matches) == 0:
		return []Reply{menuReply(textNoMatches)}
	}

	var b strings.Builder
	b.WriteString("Your best matches:")
	for i, m := range matches {
		fmt.Fprintf(&b, "\n%d. %s: %.0f%%", i+1, m.Handle(), m.Score*100)
	}
	return []Reply{menuReply(b.String())}
}
