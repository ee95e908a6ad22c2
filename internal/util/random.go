// Package util provides small helpers shared across Onebit components.
package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// GenerateRandomID returns "{prefix}{hex}" with hexLength random hex characters.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateSessionID returns a new random UUID for a focus session.
func GenerateSessionID() string {
	return uuid.NewString()
}

// GenerateNudgeID returns an outbox identifier with the "nudge_" prefix.
func GenerateNudgeID() string {
	return GenerateRandomID("nudge_", 32)
}

// IsSessionID reports whether id looks like an identifier issued by GenerateSessionID.
func IsSessionID(id string) bool {
	return uuid.Validate(id) == nil
}
