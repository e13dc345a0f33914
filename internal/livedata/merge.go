// Package livedata produces the merged position snapshot written to blob
// storage while a session's activation window is open.
package livedata

import (
	"sort"
	"time"

	"race-lifecycle-orchestrator/internal/models"
)

const topPositions = 20

// LatestStandings reduces raw position samples to the most recent sample per
// classification slot, sorted by position, capped at the top twenty.
// Samples with unparsable dates lose ties to parsable ones.
func LatestStandings(samples []models.Position) []models.Position {
	latest := make(map[int]models.Position)
	for _, s := range samples {
		cur, ok := latest[s.Position]
		if !ok || sampleTime(cur).Before(sampleTime(s)) {
			latest[s.Position] = s
		}
	}

	out := make([]models.Position, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if len(out) > topPositions {
		out = out[:topPositions]
	}
	return out
}

// MergeDrivers joins each standing with the driver holding it, matched by
// driver number. A standing with no matching driver keeps its position
// fields and empty identity, never dropped.
func MergeDrivers(standings []models.Position, drivers []models.Driver) []models.MergedPosition {
	byNumber := make(map[int]models.Driver, len(drivers))
	for _, d := range drivers {
		byNumber[d.DriverNumber] = d
	}

	out := make([]models.MergedPosition, 0, len(standings))
	for _, s := range standings {
		m := models.MergedPosition{Position: s}
		if d, ok := byNumber[s.DriverNumber]; ok {
			m.BroadcastName = d.BroadcastName
			m.CountryCode = d.CountryCode
			m.FirstName = d.FirstName
			m.FullName = d.FullName
			m.HeadshotURL = d.HeadshotURL
			m.LastName = d.LastName
			m.TeamColour = d.TeamColour
			m.TeamName = d.TeamName
			m.NameAcronym = d.NameAcronym
		}
		out = append(out, m)
	}
	return out
}

func sampleTime(p models.Position) time.Time {
	t, err := time.Parse(time.RFC3339, p.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}
