package feed

import (
	"strings"

	"race-lifecycle-orchestrator/internal/models"
)

// Select returns the sessions matching the given session type and season.
// Type matching is case-insensitive, season is exact, and feed order is
// preserved. No match yields an empty slice, never an error.
func Select(sessions []models.Session, sessionType string, season int) []models.Session {
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		if !strings.EqualFold(s.SessionType, sessionType) {
			continue
		}
		if s.Year != season {
			continue
		}
		out = append(out, s)
	}
	return out
}
