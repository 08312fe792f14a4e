package quiz

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Codec converts answer sets to and from their stored text form, a JSON
// object keyed by question index: {"0":[1],"1":[0,3]}.
type Codec struct {
	bank *Bank
}

// NewCodec returns a codec that validates decoded answers against bank.
func NewCodec(bank *Bank) *Codec {
	return &Codec{bank: bank}
}

// Serialize returns the canonical encoding of a. Empty selections are
// omitted. Map keys are emitted in sorted order by encoding/json.
func (c *Codec) Serialize(a AnswerSet) string {
	payload := make(map[string][]int, len(a))
	for q, opts := range a {
		if sel := normalizeSelection(opts); len(sel) > 0 {
			payload[strconv.Itoa(q)] = sel
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// map[string][]int always marshals.
		return "{}"
	}
	return string(data)
}

// Decode parses a stored blob. An empty blob is an empty answer set.
// Unknown questions, out-of-range options and multiple options on a
// single-answer question make the whole blob corrupt.
func (c *Codec) Decode(blob string) (AnswerSet, error) {
	out := AnswerSet{}
	if strings.TrimSpace(blob) == "" {
		return out, nil
	}

	var payload map[string][]int
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return AnswerSet{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	for key, opts := range payload {
		q, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return AnswerSet{}, fmt.Errorf("%w: question key %q is not a number", ErrDecode, key)
		}
		question, err := c.bank.Get(q)
		if err != nil {
			return AnswerSet{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		sel := normalizeSelection(opts)
		for _, opt := range sel {
			if opt < 0 || opt >= len(question.Options) {
				return AnswerSet{}, fmt.Errorf("%w: option %d out of range for question %d", ErrDecode, opt, q)
			}
		}
		if !question.IsMulti() && len(sel) > 1 {
			return AnswerSet{}, fmt.Errorf("%w: question %d accepts a single option, got %d", ErrDecode, q, len(sel))
		}
		if len(sel) > 0 {
			out[q] = sel
		}
	}
	return out, nil
}

// Deserialize is Decode that never fails: corrupt input yields an empty set.
func (c *Codec) Deserialize(blob string) AnswerSet {
	a, err := c.Decode(blob)
	if err != nil {
		return AnswerSet{}
	}
	return a
}
