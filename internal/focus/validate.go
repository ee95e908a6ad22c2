package focus

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Length bounds for an accepted external suggestion, in characters.
const (
	MinSuggestionLength = 5
	MaxSuggestionLength = 200
)

// ErrNoValidOutput signals that externally produced text failed screening
// and the locally computed action should be used instead.
var ErrNoValidOutput = errors.New("no valid output")

var (
	leadingGreeting = regexp.MustCompile(`(?i)^(hello|hi|hey|greetings|as an ai|i['’]m an ai|i am an ai|i['’]m here to|i am here to)\b[^.!?]*[.!?]+\s*`)
	leadingAck      = regexp.MustCompile(`(?i)^(sure|certainly|of course|absolutely|great|perfect)\b[^.!?]*[.!?]+\s*`)
	stockPhrases    = regexp.MustCompile(`(?i)\b(you(['’]ve)? got this|believe in yourself|stay positive|keep going|don['’]t give up)\b[.!]?`)
	sentenceBreak   = regexp.MustCompile(`[.!?]+\s+`)
	extraSpace      = regexp.MustCompile(`\s{2,}`)
	terminalPunct   = regexp.MustCompile(`[.!?]$`)
	actionVerbWord  = regexp.MustCompile(`(?i)\b(` + strings.Join(ActionVerbs, "|") + `)`)
)

// ValidateExternalSuggestion screens task text produced outside the engine
// so it meets the same contract as a local action: one sentence, neutral,
// terminated, 5 to 200 characters and starting a word with an action verb.
// It returns ErrNoValidOutput when the text cannot be salvaged.
func ValidateExternalSuggestion(text string) (string, error) {
	s := strings.TrimSpace(text)
	for {
		stripped := leadingGreeting.ReplaceAllString(s, "")
		stripped = leadingAck.ReplaceAllString(stripped, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == s {
			break
		}
		s = stripped
	}

	s = stockPhrases.ReplaceAllString(s, "")
	s = strings.TrimSpace(extraSpace.ReplaceAllString(s, " "))

	if loc := sentenceBreak.FindStringIndex(s); loc != nil {
		// Keep the first sentence with its punctuation.
		s = strings.TrimSpace(s[:loc[0]+1])
	}
	if s != "" && !terminalPunct.MatchString(s) {
		s += "."
	}

	if n := utf8.RuneCountInString(s); n < MinSuggestionLength || n > MaxSuggestionLength {
		return "", ErrNoValidOutput
	}
	if !actionVerbWord.MatchString(s) {
		return "", ErrNoValidOutput
	}
	return s, nil
}
