// Package align maps a rolling window of spoken (or scrolled-past) words to
// a cursor position inside a generated answer, driving auto-scroll that
// tolerates minor transcription noise.
package align

import (
	"strings"
)

// DefaultWindow is the number of trailing spoken words matched against the
// answer.
const DefaultWindow = 10

// Aligner tracks the cursor for one answer. It is client-local state:
// recreate it whenever the answer changes.
type Aligner struct {
	answer string
	norm   string
	window int
	cursor int
}

func New(answerText string) *Aligner {
	return NewWindowed(answerText, DefaultWindow)
}

func NewWindowed(answerText string, window int) *Aligner {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aligner{
		answer: answerText,
		norm:   strings.ToLower(answerText),
		window: window,
	}
}

// Cursor returns the current cursor, always within [0, len(answerText)].
func (a *Aligner) Cursor() int { return a.cursor }

// Align advances the cursor for the given spoken text and returns it.
//
// The last window words of the spoken text, lower-cased and joined by single
// spaces, form the segment. An exact occurrence of the segment in the
// normalized answer places the cursor just past it. Otherwise the fallback
// finds the longest contiguous substring of the answer that is itself a
// substring of the segment and places the cursor just past that. On no match
// at all the cursor stays where it was; a transcription miss never scrolls
// back to the top.
//
// The fallback scans every answer position, which is quadratic in the worst
// case. Answers here are interview-answer scale, not book scale; revisit if
// that assumption changes.
func (a *Aligner) Align(spoken string) int {
	segment := a.segment(spoken)
	if segment == "" {
		return a.cursor
	}

	if idx := strings.Index(a.norm, segment); idx >= 0 {
		a.cursor = clamp(idx+len(segment), len(a.answer))
		return a.cursor
	}

	bestStart, bestLen := -1, 0
	for i := 0; i < len(a.norm); i++ {
		max := len(a.norm) - i
		if max > len(segment) {
			max = len(segment)
		}
		// Grow from the current best: shorter matches at later positions
		// can never win, and growth keeps the first position of a maximal
		// match.
		for l := bestLen + 1; l <= max; l++ {
			if !strings.Contains(segment, a.norm[i:i+l]) {
				break
			}
			bestStart, bestLen = i, l
		}
	}
	if bestLen > 0 {
		a.cursor = clamp(bestStart+bestLen, len(a.answer))
	}
	return a.cursor
}

func (a *Aligner) segment(spoken string) string {
	words := strings.Fields(strings.ToLower(spoken))
	if len(words) > a.window {
		words = words[len(words)-a.window:]
	}
	return strings.Join(words, " ")
}

func clamp(cursor, max int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > max {
		return max
	}
	return cursor
}

// ScrollOffset linearly maps the cursor to a scroll position within
// [0, scrollHeight-clientHeight]. Presentation only; the alignment contract
// is the cursor itself.
func (a *Aligner) ScrollOffset(scrollHeight, clientHeight int) int {
	span := scrollHeight - clientHeight
	if span <= 0 || len(a.answer) == 0 {
		return 0
	}
	return int(float64(span) * float64(a.cursor) / float64(len(a.answer)))
}
