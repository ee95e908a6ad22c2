// Package focus implements Onebit's deterministic heuristic engine.
//
// It turns a free-form mental dump into one action sized to a time budget,
// maps a stuck or avoided outcome to two concrete micro-steps, counts habit
// days and screens externally produced task text. Every function here is
// pure: no I/O, no clock, no randomness, no shared mutable state. Identical
// inputs always produce identical outputs, so callers may invoke the engine
// concurrently without coordination.
package focus

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultEstimateMinutes is returned when no duration signal is found.
const DefaultEstimateMinutes = 15

// Score weights.
const (
	verbBonus        = 3
	urgencyBonus     = 2
	durationBonus    = 2
	conciseBonus     = 1
	verbosePenalty   = 2
	conciseMinLength = 10
	conciseMaxLength = 60
	verboseLength    = 150
)

// ActionVerbs is the verb vocabulary shared by the scorer and the output validator.
var ActionVerbs = []string{
	"write", "call", "email", "draft", "finish", "read", "submit",
	"book", "plan", "create", "open", "review", "complete", "start",
	"send", "reply", "schedule", "organize", "prepare", "update",
}

var (
	candidateSeparator = regexp.MustCompile(`\r?\n|[,;]`)
	durationToken      = regexp.MustCompile(`(?i)(\d+)\s*(min|minute|hour|hr)`)
	urgencyWord        = regexp.MustCompile(`(?i)\b(urgent|asap|now|today|immediately)\b`)
)

// keywordEstimate maps a keyword family to a fixed minute estimate. Order matters.
type keywordEstimate struct {
	pattern *regexp.Regexp
	minutes int
}

var keywordEstimates = []keywordEstimate{
	{regexp.MustCompile(`(?i)(write|draft|design|build|code|develop|create)`), 20},
	{regexp.MustCompile(`(?i)(email|reply|call|book|pay|buy|send)`), 10},
	{regexp.MustCompile(`(?i)(review|read|study|research|analyze)`), 30},
}

// ExtractCandidates splits raw text on newlines, commas and semicolons and
// returns the trimmed, non-empty pieces in input order.
func ExtractCandidates(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	pieces := candidateSeparator.Split(raw, -1)
	candidates := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			candidates = append(candidates, p)
		}
	}
	return candidates
}

// EstimateMinutes estimates how long a candidate takes. An explicit duration
// ("25 min", "2 hours") wins; otherwise a keyword family decides; otherwise 15.
func EstimateMinutes(text string) int {
	if m := durationToken.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// Only overflow can fail here since the group is all digits.
			return math.MaxInt32
		}
		unit := strings.ToLower(m[2])
		if unit == "hour" || unit == "hr" {
			if n > math.MaxInt32/60 {
				return math.MaxInt32
			}
			return n * 60
		}
		return n
	}
	for _, k := range keywordEstimates {
		if k.pattern.MatchString(text) {
			return k.minutes
		}
	}
	return DefaultEstimateMinutes
}

// ScoreCandidate assigns an additive heuristic priority to a candidate.
// The score is unbounded in both directions.
func ScoreCandidate(text string) int {
	score := 0
	if ContainsActionVerb(text) {
		score += verbBonus
	}
	if urgencyWord.MatchString(text) {
		score += urgencyBonus
	}
	if durationToken.MatchString(text) {
		score += durationBonus
	}
	length := utf8.RuneCountInString(text)
	if length > conciseMinLength && length < conciseMaxLength {
		score += conciseBonus
	}
	if length > verboseLength {
		score -= verbosePenalty
	}
	return score
}

// ContainsActionVerb reports whether any action verb appears as a
// case-insensitive substring of text.
func ContainsActionVerb(text string) bool {
	lower := strings.ToLower(text)
	for _, v := range ActionVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
