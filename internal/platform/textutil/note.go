package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNoteLength caps customer supplied notes, in runes.
const MaxNoteLength = 200

var (
	notePolicyOnce sync.Once
	notePolicy     *bluemonday.Policy
)

func strictPolicy() *bluemonday.Policy {
	notePolicyOnce.Do(func() {
		notePolicy = bluemonday.StrictPolicy()
	})
	return notePolicy
}

// SanitizeNote strips markup from a free-text note, trims it and truncates it to MaxNoteLength runes.
func SanitizeNote(raw string) string {
	cleaned := strictPolicy().Sanitize(raw)
	cleaned = strings.TrimSpace(html.UnescapeString(cleaned))
	if utf8.RuneCountInString(cleaned) <= MaxNoteLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:MaxNoteLength]))
}

// SanitizeNotePtr sanitises an optional note, returning nil when nothing remains.
func SanitizeNotePtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	cleaned := SanitizeNote(*raw)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
