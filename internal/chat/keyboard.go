package chat

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/matchbot/matchbot/internal/quiz"
)

// Button labels. Inbound text equal to one of these is treated as a command.
const (
	CmdStart     = "/start"
	CmdCancel    = "/cancel"
	BtnQuiz      = "📝 Take the quiz"
	BtnMyAnswers = "📊 My answers"
	BtnMatches   = "🔍 Find matches"
	BtnValentine = "💌 Send a valentine"
	BtnHelp      = "❓ Help"
	BtnCancel    = "❌ Cancel"
	BtnNext      = "✅ Next"
	BtnAddPhoto  = "📸 Add photo"
	BtnSkipPhoto = "⏩ Skip"
	BtnAnonymous = "👤 Anonymous"
	BtnOpen      = "🙋 Open"
)

// selectedMark prefixes options already picked in a multi-answer question.
const selectedMark = "✔ "

// Event is one inbound message from a user. The sender's names are set
// through registration only, never from events.
type Event struct {
	Text     string `json:"text"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Reply is one outbound message. Buttons is a keyboard layout, row by row.
type Reply struct {
	Text     string     `json:"text"`
	Buttons  [][]string `json:"buttons,omitempty"`
	PhotoURL string     `json:"photo_url,omitempty"`
}

func mainMenu() [][]string {
	return [][]string{
		{BtnQuiz, BtnMatches},
		{BtnMyAnswers, BtnValentine},
		{BtnHelp},
	}
}

func cancelOnly() [][]string {
	return [][]string{{BtnCancel}}
}

func menuReply(text string) Reply {
	return Reply{Text: text, Buttons: mainMenu()}
}

func optionLabel(i int, label string) string {
	return strconv.Itoa(i+1) + ". " + label
}

// questionKeyboard renders one row per option. Multi-answer questions
// mark the current selection and get a Next button.
func questionKeyboard(q quiz.Question, selected []int) [][]string {
	rows := make([][]string, 0, len(q.Options)+2)
	for i, opt := range q.Options {
		label := optionLabel(i, opt)
		if q.IsMulti() && containsInt(selected, i) {
			label = selectedMark + label
		}
		rows = append(rows, []string{label})
	}
	if q.IsMulti() {
		rows = append(rows, []string{BtnNext})
	}
	return append(rows, []string{BtnCancel})
}

// parseOption extracts a 0-based option index from "<n>. <label>" or a
// bare "<n>". ok is false for anything else.
func parseOption(text string) (int, bool) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), strings.TrimSpace(selectedMark)))
	end := strings.IndexFunc(text, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(text)
	}
	if end == 0 {
		return 0, false
	}
	if rest := text[end:]; rest != "" && !strings.HasPrefix(rest, ".") {
		return 0, false
	}
	n, err := strconv.Atoi(text[:end])
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func isMenuCommand(text string) bool {
	switch text {
	case CmdStart, BtnQuiz, BtnMyAnswers, BtnMatches, BtnValentine, BtnHelp:
		return true
	}
	return false
}
