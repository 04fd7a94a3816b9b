package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 4, 14, hour, minute, 0, 0, time.UTC)
}

func candidate(ch domain.Channel, priority domain.Priority) domain.Candidate {
	return domain.Candidate{Channel: ch, Priority: priority, Title: "t"}
}

var (
	noPrayer     = domain.PrayerWindow{}
	activePrayer = domain.PrayerWindow{Active: true, PrayerName: domain.PrayerDhuhr}
)

// everySuppression turns on every suppression rule at once
func everySuppression() domain.ResolvedPreferences {
	return domain.ResolvePreferences(&domain.NotificationPreferences{
		DNDEnabled:        domain.Bool(true),
		DNDDuringPrayer:   domain.Bool(true),
		QuietHoursEnabled: domain.Bool(true),
		QuietHoursStart:   domain.String("00:00"),
		QuietHoursEnd:     domain.String("23:59"),
		DMEnabled:         domain.Bool(false),
		GroupEnabled:      domain.Bool(false),
		EventEnabled:      domain.Bool(false),
		PrayerEnabled:     domain.Bool(false),
	})
}

// TestShouldDeliver_DisabledNeverDelivers tests the master switch over every channel, priority and hour
func TestShouldDeliver_DisabledNeverDelivers(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{Enabled: domain.Bool(false)})

	for _, ch := range domain.Channels {
		for prio := domain.PriorityNormal; prio <= domain.PriorityUrgent; prio++ {
			for hour := 0; hour < 24; hour += 3 {
				for _, w := range []domain.PrayerWindow{noPrayer, activePrayer} {
					assert.False(t, ShouldDeliver(candidate(ch, prio), p, w, at(hour, 0)),
						"channel=%s priority=%d hour=%d prayer=%v", ch, prio, hour, w.Active)
				}
			}
		}
	}

	v := Evaluate(candidate(domain.ChannelMention, domain.PriorityUrgent), p, noPrayer, at(12, 0))
	assert.Equal(t, ReasonDisabled, v.Reason)
}

// TestShouldDeliver_UrgentBypass tests that urgent mentions and prayer reminders ignore suppression
func TestShouldDeliver_UrgentBypass(t *testing.T) {
	p := everySuppression()

	for _, ch := range []domain.Channel{domain.ChannelMention, domain.ChannelPrayer} {
		for hour := 0; hour < 24; hour++ {
			for _, w := range []domain.PrayerWindow{noPrayer, activePrayer} {
				v := Evaluate(candidate(ch, domain.PriorityUrgent), p, w, at(hour, 30))
				assert.True(t, v.Deliver, "channel=%s hour=%d", ch, hour)
				assert.True(t, v.Bypass)
				assert.Equal(t, ReasonUrgentBypass, v.Reason)
			}
		}
	}
}

// TestShouldDeliver_BypassIsNarrow tests that urgency alone does not bypass for other channels
func TestShouldDeliver_BypassIsNarrow(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{DNDEnabled: domain.Bool(true)})

	for _, ch := range []domain.Channel{domain.ChannelDirectMessage, domain.ChannelGroup, domain.ChannelEvent} {
		t.Run(string(ch), func(t *testing.T) {
			v := Evaluate(candidate(ch, domain.PriorityUrgent), p, noPrayer, at(12, 0))
			assert.False(t, v.Deliver)
			assert.Equal(t, ReasonDND, v.Reason)
		})
	}

	for prio := domain.PriorityNormal; prio < domain.PriorityUrgent; prio++ {
		assert.False(t, ShouldDeliver(candidate(domain.ChannelMention, prio), p, noPrayer, at(12, 0)))
	}
}

// TestIsSuppressed_QuietHoursWrap tests an overnight quiet hours window
func TestIsSuppressed_QuietHoursWrap(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{
		QuietHoursEnabled: domain.Bool(true),
		QuietHoursStart:   domain.String("22:00"),
		QuietHoursEnd:     domain.String("07:00"),
		DNDDuringPrayer:   domain.Bool(false),
	})

	tests := []struct {
		now  time.Time
		want bool
	}{
		{now: at(23, 30), want: true},
		{now: at(6, 0), want: true},
		{now: at(22, 0), want: true},
		{now: at(7, 0), want: false},
		{now: at(12, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.now.Format("15:04"), func(t *testing.T) {
			assert.Equal(t, tt.want, IsSuppressed(p, noPrayer, tt.now))
		})
	}
}

// TestIsSuppressed_QuietHoursSameDay tests a daytime quiet hours window
func TestIsSuppressed_QuietHoursSameDay(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{
		QuietHoursEnabled: domain.Bool(true),
		QuietHoursStart:   domain.String("13:00"),
		QuietHoursEnd:     domain.String("15:00"),
	})

	assert.True(t, IsSuppressed(p, noPrayer, at(13, 0)))
	assert.True(t, IsSuppressed(p, noPrayer, at(14, 59)))
	assert.False(t, IsSuppressed(p, noPrayer, at(15, 0)))
	assert.False(t, IsSuppressed(p, noPrayer, at(23, 0)))
}

// TestIsSuppressed_QuietHoursDisabled tests that the default window is inert until enabled
func TestIsSuppressed_QuietHoursDisabled(t *testing.T) {
	p := domain.ResolvePreferences(nil)
	assert.False(t, IsSuppressed(p, noPrayer, at(23, 30)))
}

// TestIsSuppressed_DNDWithoutWindow tests all-day DND
func TestIsSuppressed_DNDWithoutWindow(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{DNDEnabled: domain.Bool(true)})

	for hour := 0; hour < 24; hour++ {
		for _, minute := range []int{0, 29, 59} {
			assert.True(t, IsSuppressed(p, noPrayer, at(hour, minute)), "%02d:%02d", hour, minute)
		}
	}
}

// TestIsSuppressed_DNDWindow tests a configured DND window, which does not wrap
func TestIsSuppressed_DNDWindow(t *testing.T) {
	daytime := domain.ResolvePreferences(&domain.NotificationPreferences{
		DNDEnabled: domain.Bool(true),
		DNDStart:   domain.String("09:00"),
		DNDEnd:     domain.String("17:00"),
	})
	assert.True(t, IsSuppressed(daytime, noPrayer, at(9, 0)))
	assert.True(t, IsSuppressed(daytime, noPrayer, at(16, 59)))
	assert.False(t, IsSuppressed(daytime, noPrayer, at(17, 0)))
	assert.False(t, IsSuppressed(daytime, noPrayer, at(8, 59)))

	overnight := domain.ResolvePreferences(&domain.NotificationPreferences{
		DNDEnabled: domain.Bool(true),
		DNDStart:   domain.String("22:00"),
		DNDEnd:     domain.String("07:00"),
	})
	assert.False(t, IsSuppressed(overnight, noPrayer, at(23, 30)))
	assert.False(t, IsSuppressed(overnight, noPrayer, at(6, 0)))

	off := domain.ResolvePreferences(&domain.NotificationPreferences{
		DNDEnabled: domain.Bool(false),
		DNDStart:   domain.String("09:00"),
		DNDEnd:     domain.String("17:00"),
	})
	assert.False(t, IsSuppressed(off, noPrayer, at(12, 0)))
}

// TestIsSuppressed_MalformedDNDWindow tests that an unparsable window never matches
func TestIsSuppressed_MalformedDNDWindow(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{
		DNDEnabled: domain.Bool(true),
		DNDStart:   domain.String("later"),
		DNDEnd:     domain.String("17:00"),
	})
	assert.False(t, IsSuppressed(p, noPrayer, at(12, 0)))
}

// TestIsSuppressed_Prayer tests prayer-time DND
func TestIsSuppressed_Prayer(t *testing.T) {
	on := domain.ResolvePreferences(nil)
	assert.True(t, IsSuppressed(on, activePrayer, at(12, 0)))
	assert.False(t, IsSuppressed(on, noPrayer, at(12, 0)))

	off := domain.ResolvePreferences(&domain.NotificationPreferences{DNDDuringPrayer: domain.Bool(false)})
	assert.False(t, IsSuppressed(off, activePrayer, at(12, 0)))

	v := Evaluate(candidate(domain.ChannelGroup, domain.PriorityHigh), on, activePrayer, at(12, 0))
	assert.Equal(t, ReasonPrayer, v.Reason)
}

// TestIsSuppressed_UserTimezone tests that time-of-day is read in the user's zone
func TestIsSuppressed_UserTimezone(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{
		QuietHoursEnabled: domain.Bool(true),
		QuietHoursStart:   domain.String("22:00"),
		QuietHoursEnd:     domain.String("07:00"),
		Timezone:          domain.String("Asia/Tokyo"),
	})

	// 14:00 UTC is 23:00 in Tokyo
	assert.True(t, IsSuppressed(p, noPrayer, at(14, 0)))
	// 03:00 UTC is 12:00 in Tokyo
	assert.False(t, IsSuppressed(p, noPrayer, at(3, 0)))
}

// TestShouldDeliver_ChannelToggles tests the channel toggle mapping
func TestShouldDeliver_ChannelToggles(t *testing.T) {
	tests := []struct {
		name    string
		prefs   domain.NotificationPreferences
		channel domain.Channel
		want    bool
	}{
		{name: "dm on", prefs: domain.NotificationPreferences{DMEnabled: domain.Bool(true)}, channel: domain.ChannelDirectMessage, want: true},
		{name: "dm off", prefs: domain.NotificationPreferences{DMEnabled: domain.Bool(false)}, channel: domain.ChannelDirectMessage, want: false},
		{name: "group off", prefs: domain.NotificationPreferences{GroupEnabled: domain.Bool(false)}, channel: domain.ChannelGroup, want: false},
		{name: "event off", prefs: domain.NotificationPreferences{EventEnabled: domain.Bool(false)}, channel: domain.ChannelEvent, want: false},
		{name: "prayer off", prefs: domain.NotificationPreferences{PrayerEnabled: domain.Bool(false)}, channel: domain.ChannelPrayer, want: false},
		{name: "event on with group off", prefs: domain.NotificationPreferences{GroupEnabled: domain.Bool(false)}, channel: domain.ChannelEvent, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs := tt.prefs
			p := domain.ResolvePreferences(&prefs)
			assert.Equal(t, tt.want, ShouldDeliver(candidate(tt.channel, domain.PriorityNormal), p, noPrayer, at(12, 0)))
		})
	}
}

// TestShouldDeliver_MentionFollowsGroupToggle tests that only the group toggle gates mentions
func TestShouldDeliver_MentionFollowsGroupToggle(t *testing.T) {
	for _, groupOn := range []bool{true, false} {
		for _, dmOn := range []bool{true, false} {
			for _, eventOn := range []bool{true, false} {
				for _, prayerOn := range []bool{true, false} {
					name := fmt.Sprintf("group=%v dm=%v event=%v prayer=%v", groupOn, dmOn, eventOn, prayerOn)
					p := domain.ResolvePreferences(&domain.NotificationPreferences{
						GroupEnabled:  domain.Bool(groupOn),
						DMEnabled:     domain.Bool(dmOn),
						EventEnabled:  domain.Bool(eventOn),
						PrayerEnabled: domain.Bool(prayerOn),
					})
					got := ShouldDeliver(candidate(domain.ChannelMention, domain.PriorityNormal), p, noPrayer, at(12, 0))
					assert.Equal(t, groupOn, got, name)
				}
			}
		}
	}
}

// TestEvaluate_Precedence tests that suppression is reported before the channel toggle
func TestEvaluate_Precedence(t *testing.T) {
	p := everySuppression()

	v := Evaluate(candidate(domain.ChannelGroup, domain.PriorityNormal), p, activePrayer, at(12, 0))
	assert.False(t, v.Deliver)
	assert.Equal(t, ReasonDND, v.Reason)

	p.DNDEnabled = false
	v = Evaluate(candidate(domain.ChannelGroup, domain.PriorityNormal), p, activePrayer, at(12, 0))
	assert.Equal(t, ReasonPrayer, v.Reason)

	v = Evaluate(candidate(domain.ChannelGroup, domain.PriorityNormal), p, noPrayer, at(12, 0))
	assert.Equal(t, ReasonQuietHours, v.Reason)

	p.QuietHoursEnabled = false
	v = Evaluate(candidate(domain.ChannelGroup, domain.PriorityNormal), p, noPrayer, at(12, 0))
	assert.Equal(t, ReasonChannelDisabled, v.Reason)

	p.GroupEnabled = true
	v = Evaluate(candidate(domain.ChannelGroup, domain.PriorityNormal), p, noPrayer, at(12, 0))
	assert.Equal(t, Verdict{Deliver: true, Reason: ReasonAllowed}, v)
}

// TestShouldDeliver_UrgentBypassDuringPrayer tests an urgent mention during prayer
func TestShouldDeliver_UrgentBypassDuringPrayer(t *testing.T) {
	p := domain.ResolvePreferences(&domain.NotificationPreferences{
		GroupEnabled:    domain.Bool(true),
		DNDDuringPrayer: domain.Bool(true),
	})

	assert.True(t, IsSuppressed(p, activePrayer, at(12, 5)))
	assert.True(t, ShouldDeliver(candidate(domain.ChannelMention, domain.PriorityUrgent), p, activePrayer, at(12, 5)))
	assert.False(t, ShouldDeliver(candidate(domain.ChannelMention, domain.PriorityHigh), p, activePrayer, at(12, 5)))
}
