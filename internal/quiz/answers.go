package quiz

import "slices"

// AnswerSet maps a question index to the selected option indices.
// A missing key and a key with an empty selection both mean "no answer".
// Selections are kept sorted and free of duplicates.
type AnswerSet map[int][]int

// Selected returns a copy of the options chosen for question q.
func (a AnswerSet) Selected(q int) []int {
	return slices.Clone(a[q])
}

// Has reports whether option opt is selected for question q.
func (a AnswerSet) Has(q, opt int) bool {
	_, found := slices.BinarySearch(a[q], opt)
	return found
}

// Answered reports whether question q has a non-empty selection.
func (a AnswerSet) Answered(q int) bool {
	return len(a[q]) > 0
}

// Clone returns a deep copy.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for q, opts := range a {
		out[q] = slices.Clone(opts)
	}
	return out
}

// Equal compares two answer sets, treating empty selections as absent.
func (a AnswerSet) Equal(b AnswerSet) bool {
	for q, opts := range a {
		if !slices.Equal(normalizeSelection(opts), normalizeSelection(b[q])) {
			return false
		}
	}
	for q, opts := range b {
		if len(opts) > 0 && len(a[q]) == 0 {
			return false
		}
	}
	return true
}

func (a AnswerSet) with(q int, opts []int) AnswerSet {
	out := a.Clone()
	if len(opts) == 0 {
		delete(out, q)
		return out
	}
	out[q] = normalizeSelection(opts)
	return out
}

// toggle returns a copy with opt flipped in the selection of question q.
func (a AnswerSet) toggle(q, opt int) AnswerSet {
	out := a.Clone()
	cur := out[q]
	if i, found := slices.BinarySearch(cur, opt); found {
		out[q] = slices.Delete(cur, i, i+1)
	} else {
		out[q] = slices.Insert(cur, i, opt)
	}
	return out
}

func normalizeSelection(opts []int) []int {
	if len(opts) == 0 {
		return nil
	}
	out := slices.Clone(opts)
	slices.Sort(out)
	return slices.Compact(out)
}

// intersectCount and unionCount work on sorted, duplicate-free selections.
func intersectCount(a, b []int) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

func unionCount(a, b []int) int {
	return len(a) + len(b) - intersectCount(a, b)
}
