package quiz

import (
	"fmt"
)

// Phase is the coarse state of a quiz session.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseAwaitingSingle
	PhaseAwaitingMulti
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseAwaitingSingle:
		return "awaiting_single"
	case PhaseAwaitingMulti:
		return "awaiting_multi"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session is the transient progress of one user through the bank.
// The zero value is a session that has not started.
type Session struct {
	Phase   Phase
	Current int
	Answers AnswerSet
}

// Active reports whether the session is waiting for an answer.
func (s Session) Active() bool {
	return s.Phase == PhaseAwaitingSingle || s.Phase == PhaseAwaitingMulti
}

// StepKind tells the caller what to present after a transition.
type StepKind int

const (
	// StepQuestion asks the current question.
	StepQuestion StepKind = iota + 1
	// StepSelection echoes the current multi-answer selection.
	StepSelection
	// StepInvalidChoice re-asks the current question after bad input.
	StepInvalidChoice
	// StepNoSelection asks the user to pick at least one option.
	StepNoSelection
	// StepNotAllowed reports an event the current state does not accept.
	StepNotAllowed
	// StepComplete carries the serialized answers to persist.
	StepComplete
	// StepCancelled confirms that the session was dropped.
	StepCancelled
	// StepUnavailable reports a broken bank; the session was reset.
	StepUnavailable
)

// Step is the output of a transition.
type Step struct {
	Kind      StepKind
	Index     int
	Total     int
	Question  Question
	Selection []int
	Blob      string
}

// Machine drives sessions through a bank. Its methods are pure: they never
// modify the session they receive and return the next session instead.
type Machine struct {
	bank  *Bank
	codec *Codec
}

// NewMachine returns a machine over bank.
func NewMachine(bank *Bank) *Machine {
	return &Machine{bank: bank, codec: NewCodec(bank)}
}

// Bank returns the question bank the machine runs on.
func (m *Machine) Bank() *Bank {
	return m.bank
}

// Start begins a fresh session from a not-started or finished one.
func (m *Machine) Start(s Session) (Session, Step, error) {
	if s.Active() {
		return s, m.prompt(s, StepNotAllowed), ErrAlreadyInProgress
	}
	return m.enter(Session{Answers: AnswerSet{}}, 0)
}

// SubmitSingle answers the current single-answer question and advances.
func (m *Machine) SubmitSingle(s Session, option int) (Session, Step, error) {
	if s.Phase != PhaseAwaitingSingle {
		return s, m.prompt(s, StepNotAllowed), ErrWrongState
	}
	q, err := m.bank.Get(s.Current)
	if err != nil {
		return m.abort(err)
	}
	if option < 0 || option >= len(q.Options) {
		return s, m.prompt(s, StepInvalidChoice), fmt.Errorf("%w: option %d of %d", ErrInvalidChoice, option+1, len(q.Options))
	}
	next := s
	next.Answers = s.Answers.with(s.Current, []int{option})
	return m.advance(next)
}

// ToggleMulti flips one option of the current multi-answer question.
// The session stays on the same question.
func (m *Machine) ToggleMulti(s Session, option int) (Session, Step, error) {
	if s.Phase != PhaseAwaitingMulti {
		return s, m.prompt(s, StepNotAllowed), ErrWrongState
	}
	q, err := m.bank.Get(s.Current)
	if err != nil {
		return m.abort(err)
	}
	if option < 0 || option >= len(q.Options) {
		return s, m.prompt(s, StepInvalidChoice), fmt.Errorf("%w: option %d of %d", ErrInvalidChoice, option+1, len(q.Options))
	}
	next := s
	next.Answers = s.Answers.toggle(s.Current, option)
	return next, m.prompt(next, StepSelection), nil
}

// ConfirmMulti accepts the current multi-answer selection and advances.
func (m *Machine) ConfirmMulti(s Session) (Session, Step, error) {
	if s.Phase != PhaseAwaitingMulti {
		return s, m.prompt(s, StepNotAllowed), ErrWrongState
	}
	if _, err := m.bank.Get(s.Current); err != nil {
		return m.abort(err)
	}
	if !s.Answers.Answered(s.Current) {
		return s, m.prompt(s, StepNoSelection), ErrNoSelection
	}
	return m.advance(s)
}

// Cancel drops an active session without saving anything.
func (m *Machine) Cancel(s Session) (Session, Step, error) {
	if s.Phase == PhaseNotStarted {
		return s, Step{Kind: StepNotAllowed, Total: m.bank.Count()}, ErrWrongState
	}
	return Session{}, Step{Kind: StepCancelled, Total: m.bank.Count()}, nil
}

func (m *Machine) advance(s Session) (Session, Step, error) {
	next := s.Current + 1
	if next < m.bank.Count() {
		return m.enter(s, next)
	}
	done := Session{Phase: PhaseCompleted, Current: s.Current, Answers: s.Answers.Clone()}
	return done, Step{
		Kind:  StepComplete,
		Index: s.Current,
		Total: m.bank.Count(),
		Blob:  m.codec.Serialize(done.Answers),
	}, nil
}

func (m *Machine) enter(s Session, index int) (Session, Step, error) {
	q, err := m.bank.Get(index)
	if err != nil {
		return m.abort(err)
	}
	s.Current = index
	s.Phase = PhaseAwaitingSingle
	if q.IsMulti() {
		s.Phase = PhaseAwaitingMulti
	}
	return s, m.prompt(s, StepQuestion), nil
}

func (m *Machine) abort(err error) (Session, Step, error) {
	return Session{}, Step{Kind: StepUnavailable, Total: m.bank.Count()}, err
}

func (m *Machine) prompt(s Session, kind StepKind) Step {
	step := Step{Kind: kind, Index: s.Current, Total: m.bank.Count()}
	if !s.Active() {
		return step
	}
	if q, err := m.bank.Get(s.Current); err == nil {
		step.Question = q
	}
	step.Selection = s.Answers.Selected(s.Current)
	return step
}
