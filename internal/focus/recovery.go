package focus

import (
	"regexp"
	"unicode/utf16"

	"github.com/BTreeMap/Onebit/internal/models"
)

// Category names produced by Classify.
const (
	CategoryWriting  = "Writing"
	CategoryStudying = "Studying"
	CategoryCalls    = "Calls"
	CategoryAdmin    = "Admin"
	CategoryGeneric  = "Generic"
)

// Recovery messages and options.
const (
	DoneMessage    = "Nice — you showed up."
	StuckMessage   = "Try a smaller step:"
	AvoidedMessage = "No guilt — pick a micro-step or end the session."
	EndMessage     = "End session"
)

// DefaultStepPair is returned when neither the requested category nor
// Generic has usable steps.
var DefaultStepPair = [2]string{"Set a 5-minute timer", "Clear desktop of distractions"}

type categoryFamily struct {
	name    string
	pattern *regexp.Regexp
}

// First match wins.
var categoryFamilies = []categoryFamily{
	{CategoryWriting, regexp.MustCompile(`(?i)(write|draft|article|essay|blog|compose|document|paper)`)},
	{CategoryStudying, regexp.MustCompile(`(?i)(study|learn|read|review|memorize|practice|homework)`)},
	{CategoryCalls, regexp.MustCompile(`(?i)(call|phone|ring|dial|talk|speak|contact)`)},
	{CategoryAdmin, regexp.MustCompile(`(?i)(form|admin|paperwork|file|submit|application|register)`)},
}

// Classify maps task text to a step category name, or Generic.
func Classify(task string) string {
	for _, f := range categoryFamilies {
		if f.pattern.MatchString(task) {
			return f.name
		}
	}
	return CategoryGeneric
}

// SelectSteps picks exactly two micro-steps for a task from the catalog.
//
// The start index is the sum of the task's UTF-16 code units modulo
// max(1, n-1), and the second step follows it with wraparound. The sum is a
// weak hash (anagrams collide) but changing it would change the steps users
// already see for existing tasks.
func SelectSteps(category, task string, catalog []models.StepCategory) []string {
	steps := lookupSteps(catalog, category)
	if len(steps) == 0 {
		steps = lookupSteps(catalog, CategoryGeneric)
	}
	if len(steps) == 0 {
		return []string{DefaultStepPair[0], DefaultStepPair[1]}
	}
	n := len(steps)
	start := charCodeSum(task) % max(1, n-1)
	return []string{steps[start], steps[(start+1)%n]}
}

// Recover maps an outcome and the chosen action to the recovery suggestion.
func Recover(outcome models.Outcome, task string, catalog []models.StepCategory) models.RecoveryResult {
	switch outcome {
	case models.OutcomeDone:
		return models.RecoveryResult{
			Message:    DoneMessage,
			MicroSteps: []string{},
			Options:    []string{"Start new", "End session"},
		}
	case models.OutcomeStuck:
		return models.RecoveryResult{
			Message:    StuckMessage,
			MicroSteps: SelectSteps(Classify(task), task, catalog),
		}
	case models.OutcomeAvoided:
		return models.RecoveryResult{
			Message:    AvoidedMessage,
			MicroSteps: SelectSteps(Classify(task), task, catalog),
		}
	default:
		return models.RecoveryResult{
			Message:    EndMessage,
			MicroSteps: []string{},
			Options:    []string{"End"},
		}
	}
}

func lookupSteps(catalog []models.StepCategory, name string) []string {
	for _, c := range catalog {
		if c.Name == name {
			return c.Steps
		}
	}
	return nil
}

func charCodeSum(s string) int {
	sum := 0
	for _, u := range utf16.Encode([]rune(s)) {
		sum += int(u)
	}
	return sum
}
