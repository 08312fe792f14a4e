package quiz

import (
	"errors"
	"slices"
	"testing"
)

func scenarioBank(t *testing.T) *Bank {
	t.Helper()
	bank, err := NewBank([]Question{
		{Text: "Q0", Arity: AritySingle, Options: []string{"X", "Y"}},
		{Text: "Q1", Arity: ArityMulti, Options: []string{"P", "Q", "R"}},
	})
	if err != nil {
		t.Fatalf("NewBank failed: %v", err)
	}
	return bank
}

func TestMachineScenarioA(t *testing.T) {
	bank := scenarioBank(t)
	m := NewMachine(bank)

	s, step, err := m.Start(Session{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Phase != PhaseAwaitingSingle || s.Current != 0 {
		t.Fatalf("expected awaiting_single(0), got %s(%d)", s.Phase, s.Current)
	}
	if step.Kind != StepQuestion || step.Question.Text != "Q0" || step.Total != 2 {
		t.Fatalf("unexpected start step: %+v", step)
	}

	s, _, err = m.SubmitSingle(s, 0)
	if err != nil {
		t.Fatalf("SubmitSingle failed: %v", err)
	}
	if s.Phase != PhaseAwaitingMulti || s.Current != 1 {
		t.Fatalf("expected awaiting_multi(1), got %s(%d)", s.Phase, s.Current)
	}
	if !s.Answers.Equal(AnswerSet{0: {0}}) {
		t.Fatalf("unexpected answers: %v", s.Answers)
	}

	s, _, err = m.ToggleMulti(s, 1)
	if err != nil {
		t.Fatalf("ToggleMulti(1) failed: %v", err)
	}
	if !s.Answers.Equal(AnswerSet{0: {0}, 1: {1}}) {
		t.Fatalf("unexpected answers: %v", s.Answers)
	}

	s, step, err = m.ToggleMulti(s, 2)
	if err != nil {
		t.Fatalf("ToggleMulti(2) failed: %v", err)
	}
	if !s.Answers.Equal(AnswerSet{0: {0}, 1: {1, 2}}) {
		t.Fatalf("unexpected answers: %v", s.Answers)
	}
	if step.Kind != StepSelection || !slices.Equal(step.Selection, []int{1, 2}) {
		t.Fatalf("unexpected selection step: %+v", step)
	}

	s, step, err = m.ConfirmMulti(s)
	if err != nil {
		t.Fatalf("ConfirmMulti failed: %v", err)
	}
	if s.Phase != PhaseCompleted {
		t.Fatalf("expected completed, got %s", s.Phase)
	}
	if step.Kind != StepComplete {
		t.Fatalf("expected complete step, got %+v", step)
	}

	decoded, err := NewCodec(bank).Decode(step.Blob)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.Equal(AnswerSet{0: {0}, 1: {1, 2}}) {
		t.Fatalf("blob decoded to %v", decoded)
	}
}

func TestSubmitSingleOutOfRangeLeavesSessionUnchanged(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	s, _, _ := m.Start(Session{})

	for _, option := range []int{-1, 2, 99} {
		next, step, err := m.SubmitSingle(s, option)
		if !errors.Is(err, ErrInvalidChoice) {
			t.Fatalf("option %d: expected ErrInvalidChoice, got %v", option, err)
		}
		if next.Phase != s.Phase || next.Current != s.Current || !next.Answers.Equal(s.Answers) {
			t.Fatalf("option %d: session changed: %+v", option, next)
		}
		if step.Kind != StepInvalidChoice || step.Question.Text != "Q0" {
			t.Fatalf("option %d: expected re-prompt of Q0, got %+v", option, step)
		}
	}
}

func TestToggleMultiIsItsOwnInverse(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	s, _, _ := m.Start(Session{})
	s, _, _ = m.SubmitSingle(s, 1)
	s, _, _ = m.ToggleMulti(s, 0)

	before := s.Answers.Clone()
	s, _, err := m.ToggleMulti(s, 2)
	if err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	s, _, err = m.ToggleMulti(s, 2)
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if !s.Answers.Equal(before) {
		t.Fatalf("expected %v after double toggle, got %v", before, s.Answers)
	}
}

func TestToggleMultiDoesNotMutateInput(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	s, _, _ := m.Start(Session{})
	s, _, _ = m.SubmitSingle(s, 0)

	next, _, err := m.ToggleMulti(s, 1)
	if err != nil {
		t.Fatalf("ToggleMulti failed: %v", err)
	}
	if s.Answers.Answered(1) {
		t.Fatalf("input session was mutated: %v", s.Answers)
	}
	if !next.Answers.Has(1, 1) {
		t.Fatalf("expected option 1 selected, got %v", next.Answers)
	}
}

func TestConfirmMultiRequiresSelection(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	s, _, _ := m.Start(Session{})
	s, _, _ = m.SubmitSingle(s, 0)

	next, step, err := m.ConfirmMulti(s)
	if !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if next.Phase != PhaseAwaitingMulti || next.Current != 1 {
		t.Fatalf("session advanced: %+v", next)
	}
	if step.Kind != StepNoSelection {
		t.Fatalf("expected no-selection step, got %+v", step)
	}

	// Selecting then deselecting leaves nothing to confirm.
	s, _, _ = m.ToggleMulti(s, 0)
	s, _, _ = m.ToggleMulti(s, 0)
	if _, _, err := m.ConfirmMulti(s); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection after emptying selection, got %v", err)
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	s, _, _ := m.Start(Session{})
	s, _, _ = m.SubmitSingle(s, 1)

	next, _, err := m.Start(s)
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
	if next.Current != 1 || !next.Answers.Equal(AnswerSet{0: {1}}) {
		t.Fatalf("active session was reset: %+v", next)
	}
}

func TestStartAfterCompletionBeginsFresh(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	done := Session{Phase: PhaseCompleted, Current: 1, Answers: AnswerSet{0: {0}, 1: {2}}}

	s, _, err := m.Start(done)
	if err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
	if s.Current != 0 || len(s.Answers) != 0 {
		t.Fatalf("expected fresh session, got %+v", s)
	}
}

func TestEventsInWrongState(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	single, _, _ := m.Start(Session{})
	multi, _, _ := m.SubmitSingle(single, 0)

	tests := []struct {
		name string
		run  func() error
	}{
		{"submit before start", func() error { _, _, err := m.SubmitSingle(Session{}, 0); return err }},
		{"toggle on single", func() error { _, _, err := m.ToggleMulti(single, 0); return err }},
		{"confirm on single", func() error { _, _, err := m.ConfirmMulti(single); return err }},
		{"submit on multi", func() error { _, _, err := m.SubmitSingle(multi, 0); return err }},
		{"cancel before start", func() error { _, _, err := m.Cancel(Session{}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, ErrWrongState) {
				t.Fatalf("expected ErrWrongState, got %v", err)
			}
		})
	}
}

func TestCancelClearsSession(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	s, _, _ := m.Start(Session{})
	s, _, _ = m.SubmitSingle(s, 0)

	next, step, err := m.Cancel(s)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if next.Phase != PhaseNotStarted || len(next.Answers) != 0 {
		t.Fatalf("expected cleared session, got %+v", next)
	}
	if step.Kind != StepCancelled {
		t.Fatalf("expected cancelled step, got %+v", step)
	}
}

func TestStartOnEmptyBankIsUnavailable(t *testing.T) {
	bank, err := NewBank(nil)
	if err != nil {
		t.Fatalf("NewBank failed: %v", err)
	}
	m := NewMachine(bank)

	s, step, err := m.Start(Session{})
	if !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if s.Phase != PhaseNotStarted || step.Kind != StepUnavailable {
		t.Fatalf("expected reset session, got %+v / %+v", s, step)
	}
}

func TestSessionBeyondBankIsReset(t *testing.T) {
	m := NewMachine(scenarioBank(t))
	stale := Session{Phase: PhaseAwaitingSingle, Current: 7, Answers: AnswerSet{0: {0}}}

	s, step, err := m.SubmitSingle(stale, 0)
	if !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if s.Phase != PhaseNotStarted || step.Kind != StepUnavailable {
		t.Fatalf("expected reset session, got %+v / %+v", s, step)
	}
}

func TestDefaultBankWalkthrough(t *testing.T) {
	bank := DefaultBank()
	m := NewMachine(bank)

	s, step, err := m.Start(Session{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for step.Kind != StepComplete {
		switch s.Phase {
		case PhaseAwaitingSingle:
			s, step, err = m.SubmitSingle(s, 0)
		case PhaseAwaitingMulti:
			s, _, err = m.ToggleMulti(s, 0)
			if err == nil {
				s, step, err = m.ConfirmMulti(s)
			}
		default:
			t.Fatalf("unexpected phase %s", s.Phase)
		}
		if err != nil {
			t.Fatalf("transition failed at question %d: %v", s.Current, err)
		}
	}

	answers := NewCodec(bank).Deserialize(step.Blob)
	if len(answers) != bank.Count() {
		t.Fatalf("expected %d answered questions, got %d", bank.Count(), len(answers))
	}
}
