package focus

import "time"

// DefaultAnchors are the daily anchor phrases used until an admin replaces them.
var DefaultAnchors = []string{
	"You don't need to do everything. Just one thing.",
	"Progress is choosing one step, not planning all of them.",
	"What matters most can wait. What matters now cannot.",
	"Clarity comes from action, not from thinking about action.",
	"You're not behind. You're exactly where you need to be.",
	"One focused moment is worth more than a distracted hour.",
	"Let go of perfect. Start with possible.",
}

// TodaysAnchor returns the anchor phrase for now's calendar date. The
// phrase rotates by day of year so every caller sees the same one all day.
func TodaysAnchor(anchors []string, now time.Time) string {
	if len(anchors) == 0 {
		return DefaultAnchors[0]
	}
	return anchors[now.YearDay()%len(anchors)]
}
