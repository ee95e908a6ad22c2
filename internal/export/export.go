// Package export renders session history as a plain-text document.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/Onebit/internal/models"
)

// DateLayout is the timestamp format used for each session block.
const DateLayout = "Jan 2, 2006 3:04 PM"

// ContentType is the MIME type of WriteText output.
const ContentType = "text/plain; charset=utf-8"

// Filename returns the download name for an export created at now.
func Filename(now time.Time) string {
	return fmt.Sprintf("onebit-history-%d.txt", now.UnixMilli())
}

// WriteText writes sessions in the order given, one block per session.
// Nothing is written for an empty history.
func WriteText(w io.Writer, sessions []models.Session, loc *time.Location) error {
	if len(sessions) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	bw := bufio.NewWriter(w)
	lines := []string{"Onebit Session History", "======================", ""}
	for i, s := range sessions {
		lines = append(lines,
			fmt.Sprintf("Session %d", i+1),
			"Date: "+time.UnixMilli(s.Timestamp).In(loc).Format(DateLayout),
			"Task: "+s.CompressedAction,
			fmt.Sprintf("Time bucket: %d minutes", int(s.TimeBucket)),
			"Outcome: "+capitalize(string(s.Outcome)),
		)
		if s.QuickNote != "" {
			lines = append(lines, "Note: "+s.QuickNote)
		}
		if len(s.RecoveryMicroSteps) > 0 {
			lines = append(lines, "Recovery steps:")
			for j, step := range s.RecoveryMicroSteps {
				lines = append(lines, fmt.Sprintf("  %d. %s", j+1, step))
			}
		}
		lines = append(lines, "")
	}
	if _, err := bw.WriteString(strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return bw.Flush()
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
