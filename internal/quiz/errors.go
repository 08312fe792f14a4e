package quiz

import "errors"

var (
	// ErrQuestionNotFound means an index outside the bank was requested.
	// Mid-quiz it signals a misconfigured bank and ends the session.
	ErrQuestionNotFound = errors.New("question not found")

	// ErrInvalidChoice is returned for an option index outside the current
	// question. The session is left unchanged.
	ErrInvalidChoice = errors.New("invalid choice")

	// ErrNoSelection is returned when a multi-answer question is confirmed
	// with nothing selected.
	ErrNoSelection = errors.New("no option selected")

	// ErrAlreadyInProgress is returned by Start while a session is active.
	ErrAlreadyInProgress = errors.New("quiz already in progress")

	// ErrWrongState is returned for an event that the current state does
	// not accept.
	ErrWrongState = errors.New("event not valid in current state")

	// ErrDecode is returned by Codec.Decode for corrupt stored answers.
	ErrDecode = errors.New("decode answers")
)

// IsValidation reports whether err should be answered with a re-prompt.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidChoice) || errors.Is(err, ErrNoSelection)
}

// IsStateConflict reports whether err is an informational state conflict.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrAlreadyInProgress) || errors.Is(err, ErrWrongState)
}
