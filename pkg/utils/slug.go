package utils

import (
	"time"

	"github.com/gosimple/slug"
)

// NormalizeSlug creates a URL-friendly slug using the gosimple/slug library
// This handles all Unicode characters including accented team names
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}

	return slug.Make(text)
}

// GenerateEventSlug creates a stable slug for a fixture from its identity:
// away side, home side and commence date.
func GenerateEventSlug(homeTeam, awayTeam string, commence time.Time) string {
	if homeTeam == "" {
		homeTeam = "home"
	}
	if awayTeam == "" {
		awayTeam = "away"
	}

	text := awayTeam + " at " + homeTeam + " " + commence.UTC().Format("2006-01-02")
	return NormalizeSlug(text)
}
