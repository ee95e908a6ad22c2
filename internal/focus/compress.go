package focus

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/BTreeMap/Onebit/internal/models"
)

// Degenerate result returned when the mental dump holds no candidates.
const (
	EmptyDumpAction    = `Pick one small thing (e.g., "Open blank doc")`
	EmptyDumpRationale = "Start with any tiny step."
)

var blockerReasons = map[models.BlockerKind]string{
	models.BlockerTooMany:   "Picked the most actionable from your list",
	models.BlockerLowEnergy: "Chose something achievable with low energy",
	models.BlockerAvoiding:  "Selected a concrete first step",
	models.BlockerUrgent:    "Prioritized by urgency",
}

// Rationale renders the explanation shown with a compressed action.
func Rationale(blocker models.BlockerKind, budget int) string {
	reason, ok := blockerReasons[blocker]
	if !ok {
		reason = blockerReasons[models.BlockerTooMany]
	}
	return fmt.Sprintf("%s for %d minutes.", reason, budget)
}

// BuildCandidates scores and estimates every extracted candidate.
func BuildCandidates(raw string) []models.Candidate {
	texts := ExtractCandidates(raw)
	out := make([]models.Candidate, len(texts))
	for i, t := range texts {
		out[i] = models.Candidate{
			Text:             t,
			Score:            ScoreCandidate(t),
			EstimatedMinutes: EstimateMinutes(t),
		}
	}
	return out
}

// Compress picks one action and an optional fallback from a mental dump.
//
// Candidates that fit the budget are preferred; when none fit, every
// candidate stays eligible so the user always gets an answer. Ranking is by
// score, then by shorter text.
func Compress(raw string, blocker models.BlockerKind, budget int) models.CompressionResult {
	texts := ExtractCandidates(raw)
	switch len(texts) {
	case 0:
		return models.CompressionResult{Action: EmptyDumpAction, Rationale: EmptyDumpRationale}
	case 1:
		return models.CompressionResult{Action: texts[0], Rationale: Rationale(blocker, budget)}
	}

	candidates := BuildCandidates(raw)
	working := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.EstimatedMinutes <= budget {
			working = append(working, c)
		}
	}
	if len(working) == 0 {
		working = candidates
	}

	slices.SortStableFunc(working, func(a, b models.Candidate) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return utf8.RuneCountInString(a.Text) - utf8.RuneCountInString(b.Text)
	})

	result := models.CompressionResult{
		Action:    working[0].Text,
		Rationale: Rationale(blocker, budget),
	}
	if len(working) > 1 {
		result.Fallback = working[1].Text
	}
	return result
}
