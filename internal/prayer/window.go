package prayer

import (
	"time"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

// CurrentWindow reports the observance window containing now, if any.
// The schedule is read in now's location. Entries whose time cannot be
// parsed are skipped so a bad upstream schedule never suppresses delivery.
func CurrentWindow(now time.Time, schedule []domain.PrayerTime) domain.PrayerWindow {
	current := domain.TimeOfDayOf(now)

	for _, p := range schedule {
		start, err := domain.ParseTimeOfDay(p.Time)
		if err != nil {
			continue
		}
		end := start + domain.TimeOfDay(domain.ObservanceMinutes(p.Name))

		if current >= start && current < end {
			y, m, d := now.Date()
			endsAt := time.Date(y, m, d, 0, int(end), 0, 0, now.Location())
			return domain.PrayerWindow{
				Active:     true,
				PrayerName: p.Name,
				EndsAt:     &endsAt,
			}
		}
	}

	return domain.PrayerWindow{}
}
