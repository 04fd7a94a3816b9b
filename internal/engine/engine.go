// Package engine decides whether a candidate notification should reach a user.
//
// Rules apply in a fixed order: the master switch, then the urgent bypass for
// mentions and prayer reminders, then the suppression windows (do not disturb,
// prayer observance, quiet hours), then the per-channel toggle. Every function
// here is pure; callers fetch preferences and the prayer window beforehand.
package engine

import (
	"time"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

// Reason explains a verdict
type Reason string

const (
	ReasonDisabled        Reason = "disabled"
	ReasonUrgentBypass    Reason = "urgent_bypass"
	ReasonDND             Reason = "dnd"
	ReasonPrayer          Reason = "prayer"
	ReasonQuietHours      Reason = "quiet_hours"
	ReasonChannelDisabled Reason = "channel_disabled"
	ReasonAllowed         Reason = "allowed"
)

// Verdict is the outcome of evaluating one candidate
type Verdict struct {
	Deliver bool   `json:"deliver"`
	Bypass  bool   `json:"bypass"`
	Reason  Reason `json:"reason"`
}

// bypassChannels may break through suppression at urgent priority
var bypassChannels = map[domain.Channel]bool{
	domain.ChannelMention: true,
	domain.ChannelPrayer:  true,
}

// IsUrgentBypass reports whether c skips every suppression check
func IsUrgentBypass(c domain.Candidate) bool {
	return c.Priority.IsUrgent() && bypassChannels[c.Channel]
}

// Evaluate applies the delivery rules to c and reports why
func Evaluate(c domain.Candidate, p domain.ResolvedPreferences, w domain.PrayerWindow, now time.Time) Verdict {
	if !p.Enabled {
		return Verdict{Reason: ReasonDisabled}
	}

	if IsUrgentBypass(c) {
		return Verdict{Deliver: true, Bypass: true, Reason: ReasonUrgentBypass}
	}

	if reason, suppressed := suppression(p, w, now); suppressed {
		return Verdict{Reason: reason}
	}

	if !p.ChannelEnabled(c.Channel) {
		return Verdict{Reason: ReasonChannelDisabled}
	}

	return Verdict{Deliver: true, Reason: ReasonAllowed}
}

// ShouldDeliver reports whether c may be shown to the user at now
func ShouldDeliver(c domain.Candidate, p domain.ResolvedPreferences, w domain.PrayerWindow, now time.Time) bool {
	return Evaluate(c, p, w, now).Deliver
}

// IsSuppressed reports whether any suppression window is in effect at now
func IsSuppressed(p domain.ResolvedPreferences, w domain.PrayerWindow, now time.Time) bool {
	_, suppressed := suppression(p, w, now)
	return suppressed
}

func suppression(p domain.ResolvedPreferences, w domain.PrayerWindow, now time.Time) (Reason, bool) {
	local := domain.TimeOfDayOf(p.Local(now, nil))

	if p.DNDEnabled {
		// No window configured means DND holds all day. Configured windows
		// do not wrap past midnight, unlike quiet hours.
		if p.DNDWindow == nil || p.DNDWindow.Contains(local) {
			return ReasonDND, true
		}
	}

	if p.DNDDuringPrayer && w.Active {
		return ReasonPrayer, true
	}

	if p.QuietHoursEnabled && p.QuietHours.ContainsWrapping(local) {
		return ReasonQuietHours, true
	}

	return "", false
}
