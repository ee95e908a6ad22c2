package focus

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestExtractCandidates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", "  \n\t ", nil},
		{"single line", "Call dentist", []string{"Call dentist"}},
		{"mixed separators", "a, b;c\n d\r\n\n,", []string{"a", "b", "c", "d"}},
		{"order preserved", "third; first, second", []string{"third", "first", "second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCandidates(tt.raw)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractCandidates(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEstimateMinutes(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Run 45 min", 45},
		{"Review 10 minutes of notes", 10},
		{"Study 2 hours", 120},
		{"call mom for 1 hr", 60},
		{"Write essay", 20},
		{"Pay rent", 10},
		{"Read chapter", 30},
		{"Water plants", DefaultEstimateMinutes},
		{"5 MIN stretch then 2 hours nap", 5},
		{"99999999999999999999 min", math.MaxInt32},
	}
	for _, tt := range tests {
		if got := EstimateMinutes(tt.text); got != tt.want {
			t.Errorf("EstimateMinutes(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestScoreCandidate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Call dentist", 4},
		{"Email the landlord today", 6},
		{"Finish report in 30 min", 6},
		{"nowhere", 0},
		{"Tidy desk", 0},
		{strings.Repeat("x", 151), -2},
		{"URGENT: submit taxes", 6},
	}
	for _, tt := range tests {
		if got := ScoreCandidate(tt.text); got != tt.want {
			t.Errorf("ScoreCandidate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestContainsActionVerb(t *testing.T) {
	if !ContainsActionVerb("PLAN the week") {
		t.Error("expected uppercase verb to match")
	}
	if !ContainsActionVerb("rewrite intro") {
		t.Error("expected substring verb to match")
	}
	if ContainsActionVerb("laundry") {
		t.Error("did not expect a verb in 'laundry'")
	}
}
