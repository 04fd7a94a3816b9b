package domain

import (
	"strings"
	"time"
)

// Prayer names as they appear in daily schedules
const (
	PrayerFajr    = "Fajr"
	PrayerDhuhr   = "Dhuhr"
	PrayerAsr     = "Asr"
	PrayerMaghrib = "Maghrib"
	PrayerIsha    = "Isha"
)

// PrayerTime is one entry of a day's schedule; Time is "HH:MM" local time
type PrayerTime struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

// PrayerWindow reports whether a prayer observance is in progress
type PrayerWindow struct {
	Active     bool       `json:"active"`
	PrayerName string     `json:"prayer_name,omitempty"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
}

// ObservanceMinutes is how long a prayer window stays open
func ObservanceMinutes(name string) int {
	switch {
	case strings.EqualFold(name, PrayerFajr), strings.EqualFold(name, PrayerIsha):
		return 20
	default:
		return 15
	}
}
