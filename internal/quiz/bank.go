// Package quiz implements the compatibility quiz: the question bank, the
// answer codec, the similarity engine and the per-user session reducer.
package quiz

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Arity tells whether a question takes one option or any number of them.
type Arity string

const (
	// AritySingle accepts exactly one option.
	AritySingle Arity = "single"
	// ArityMulti accepts zero or more options.
	ArityMulti Arity = "multi"
)

// Question is one immutable entry of the bank. Questions are addressed by
// their position, so reordering a deployed bank invalidates stored answers.
type Question struct {
	Text    string   `json:"text" yaml:"text"`
	Arity   Arity    `json:"type" yaml:"type"`
	Options []string `json:"options" yaml:"options"`
}

// IsMulti reports whether the question accepts several options.
func (q Question) IsMulti() bool {
	return q.Arity == ArityMulti
}

// Bank is the ordered, read-only list of quiz questions.
type Bank struct {
	questions []Question
}

type bankFile struct {
	Questions []Question `json:"questions" yaml:"questions"`
}

//go:embed questions.yaml
var defaultBankYAML []byte

// NewBank validates the questions and returns a bank holding a copy of them.
func NewBank(questions []Question) (*Bank, error) {
	normalized, err := normalizeQuestions(questions)
	if err != nil {
		return nil, err
	}
	return &Bank{questions: normalized}, nil
}

// DefaultBank returns the built-in compatibility questionnaire.
func DefaultBank() *Bank {
	file, err := parseYAMLBank(defaultBankYAML)
	if err != nil {
		panic("quiz: embedded question bank is invalid: " + err.Error())
	}
	bank, err := NewBank(file.Questions)
	if err != nil {
		panic("quiz: embedded question bank is invalid: " + err.Error())
	}
	return bank
}

// LoadBank reads a question bank from a YAML or JSON file.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var file bankFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		file, err = parseJSONBank(data)
	} else {
		file, err = parseYAMLBank(data)
	}
	if err != nil {
		return nil, err
	}
	if len(file.Questions) == 0 {
		return nil, &BankError{Issues: []BankIssue{{Field: "questions", Message: "must include at least one entry"}}}
	}
	return NewBank(file.Questions)
}

func parseJSONBank(data []byte) (bankFile, error) {
	var file bankFile
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		return bankFile{}, fmt.Errorf("parse json: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return bankFile{}, fmt.Errorf("parse json: multiple documents are not supported")
		}
		return bankFile{}, fmt.Errorf("parse json: %w", err)
	}
	return file, nil
}

func parseYAMLBank(data []byte) (bankFile, error) {
	var file bankFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return bankFile{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return bankFile{}, fmt.Errorf("parse yaml: multiple documents are not supported")
		}
		return bankFile{}, fmt.Errorf("parse yaml: %w", err)
	}
	return file, nil
}

// Count returns the number of questions.
func (b *Bank) Count() int {
	if b == nil {
		return 0
	}
	return len(b.questions)
}

// Get returns the question at index or ErrQuestionNotFound.
func (b *Bank) Get(index int) (Question, error) {
	if index < 0 || index >= b.Count() {
		return Question{}, fmt.Errorf("%w: index %d of %d", ErrQuestionNotFound, index, b.Count())
	}
	q := b.questions[index]
	q.Options = append([]string(nil), q.Options...)
	return q, nil
}

// Questions returns a copy of all questions in bank order.
func (b *Bank) Questions() []Question {
	out := make([]Question, 0, b.Count())
	for i := 0; i < b.Count(); i++ {
		q, _ := b.Get(i)
		out = append(out, q)
	}
	return out
}

// Summary renders the labels of the selected options of a question.
func (b *Bank) Summary(index int, selected []int) string {
	q, err := b.Get(index)
	if err != nil {
		return "question not found"
	}
	labels := make([]string, 0, len(selected))
	for _, opt := range selected {
		if opt >= 0 && opt < len(q.Options) {
			labels = append(labels, q.Options[opt])
		}
	}
	if len(labels) == 0 {
		return "not selected"
	}
	if !q.IsMulti() {
		return labels[0]
	}
	return strings.Join(labels, ", ")
}

// BankIssue is a single problem found while validating a bank.
type BankIssue struct {
	Field   string
	Message string
}

// BankError reports every issue found in a question bank definition.
type BankError struct {
	Issues []BankIssue
}

func (err *BankError) Error() string {
	if err == nil || len(err.Issues) == 0 {
		return ""
	}
	parts := make([]string, 0, len(err.Issues))
	for _, issue := range err.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return fmt.Sprintf("question bank validation failed: %s", strings.Join(parts, "; "))
}

func normalizeQuestions(questions []Question) ([]Question, error) {
	var issues []BankIssue
	add := func(field, message string) {
		issues = append(issues, BankIssue{Field: field, Message: message})
	}

	out := make([]Question, 0, len(questions))
	for i, q := range questions {
		prefix := fmt.Sprintf("questions[%d]", i)
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			add(prefix+".text", "is required")
		}
		q.Arity = Arity(strings.ToLower(strings.TrimSpace(string(q.Arity))))
		if q.Arity != AritySingle && q.Arity != ArityMulti {
			add(prefix+".type", fmt.Sprintf("unknown arity %q", q.Arity))
		}
		options := make([]string, 0, len(q.Options))
		for j, opt := range q.Options {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				add(fmt.Sprintf("%s.options[%d]", prefix, j), "is required")
			}
			options = append(options, opt)
		}
		if len(options) == 0 {
			add(prefix+".options", "must include at least one entry")
		}
		q.Options = options
		out = append(out, q)
	}

	if len(issues) > 0 {
		return nil, &BankError{Issues: issues}
	}
	return out, nil
}
