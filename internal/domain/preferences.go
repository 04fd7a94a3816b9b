package domain

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Default preference values applied by ResolvePreferences
const (
	DefaultSummaryDelayMinutes = 5
	DefaultMaxPerHour          = 10
	DefaultQuietHoursStart     = "22:00"
	DefaultQuietHoursEnd       = "07:00"
)

// NotificationPreferences is the persisted per-user configuration.
// Nil fields fall back to defaults when resolved.
type NotificationPreferences struct {
	ID     primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID string             `json:"user_id" bson:"user_id"`

	Enabled *bool `json:"enabled,omitempty" bson:"enabled,omitempty"`

	DMEnabled     *bool `json:"dm_enabled,omitempty" bson:"dm_enabled,omitempty"`
	GroupEnabled  *bool `json:"group_enabled,omitempty" bson:"group_enabled,omitempty"`
	EventEnabled  *bool `json:"event_enabled,omitempty" bson:"event_enabled,omitempty"`
	PrayerEnabled *bool `json:"prayer_enabled,omitempty" bson:"prayer_enabled,omitempty"`

	DMSound     *bool `json:"dm_sound,omitempty" bson:"dm_sound,omitempty"`
	GroupSound  *bool `json:"group_sound,omitempty" bson:"group_sound,omitempty"`
	EventSound  *bool `json:"event_sound,omitempty" bson:"event_sound,omitempty"`
	PrayerSound *bool `json:"prayer_sound,omitempty" bson:"prayer_sound,omitempty"`

	DNDEnabled      *bool   `json:"dnd_enabled,omitempty" bson:"dnd_enabled,omitempty"`
	DNDStart        *string `json:"dnd_start,omitempty" bson:"dnd_start,omitempty"`
	DNDEnd          *string `json:"dnd_end,omitempty" bson:"dnd_end,omitempty"`
	DNDDuringPrayer *bool   `json:"dnd_during_prayer,omitempty" bson:"dnd_during_prayer,omitempty"`
	DNDDays         []int   `json:"dnd_days,omitempty" bson:"dnd_days,omitempty"`

	QuietHoursEnabled *bool   `json:"quiet_hours_enabled,omitempty" bson:"quiet_hours_enabled,omitempty"`
	QuietHoursStart   *string `json:"quiet_hours_start,omitempty" bson:"quiet_hours_start,omitempty"`
	QuietHoursEnd     *string `json:"quiet_hours_end,omitempty" bson:"quiet_hours_end,omitempty"`

	SummaryEnabled      *bool `json:"summary_enabled,omitempty" bson:"summary_enabled,omitempty"`
	SummaryDelayMinutes *int  `json:"summary_delay_minutes,omitempty" bson:"summary_delay_minutes,omitempty"`
	MaxPerHour          *int  `json:"max_per_hour,omitempty" bson:"max_per_hour,omitempty"`

	Timezone *string `json:"timezone,omitempty" bson:"timezone,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// DefaultPreferences returns the row created lazily for a user on first access
func DefaultPreferences(userID string) *NotificationPreferences {
	now := time.Now()
	return &NotificationPreferences{
		UserID:              userID,
		Enabled:             Bool(true),
		DMEnabled:           Bool(true),
		GroupEnabled:        Bool(true),
		EventEnabled:        Bool(true),
		PrayerEnabled:       Bool(true),
		DMSound:             Bool(true),
		GroupSound:          Bool(true),
		EventSound:          Bool(true),
		PrayerSound:         Bool(true),
		DNDEnabled:          Bool(false),
		DNDDuringPrayer:     Bool(true),
		QuietHoursEnabled:   Bool(false),
		QuietHoursStart:     String(DefaultQuietHoursStart),
		QuietHoursEnd:       String(DefaultQuietHoursEnd),
		SummaryEnabled:      Bool(false),
		SummaryDelayMinutes: Int(DefaultSummaryDelayMinutes),
		MaxPerHour:          Int(DefaultMaxPerHour),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// ResolvedPreferences is the fully populated value the decision engine reads
type ResolvedPreferences struct {
	UserID  string
	Enabled bool

	DMEnabled     bool
	GroupEnabled  bool
	EventEnabled  bool
	PrayerEnabled bool

	DMSound     bool
	GroupSound  bool
	EventSound  bool
	PrayerSound bool

	DNDEnabled bool
	// DNDWindow is nil when no explicit start/end is configured
	DNDWindow       *TimeWindow
	DNDDuringPrayer bool
	DNDDays         []int

	QuietHoursEnabled bool
	QuietHours        TimeWindow

	SummaryEnabled      bool
	SummaryDelayMinutes int
	MaxPerHour          int

	// Location is nil when the user has no timezone of their own
	Location *time.Location
}

// ResolvePreferences applies defaults to every absent field. A nil row
// resolves to the defaults for an anonymous user.
func ResolvePreferences(p *NotificationPreferences) ResolvedPreferences {
	if p == nil {
		p = &NotificationPreferences{}
	}

	r := ResolvedPreferences{
		UserID:              p.UserID,
		Enabled:             boolOr(p.Enabled, true),
		DMEnabled:           boolOr(p.DMEnabled, true),
		GroupEnabled:        boolOr(p.GroupEnabled, true),
		EventEnabled:        boolOr(p.EventEnabled, true),
		PrayerEnabled:       boolOr(p.PrayerEnabled, true),
		DMSound:             boolOr(p.DMSound, true),
		GroupSound:          boolOr(p.GroupSound, true),
		EventSound:          boolOr(p.EventSound, true),
		PrayerSound:         boolOr(p.PrayerSound, true),
		DNDEnabled:          boolOr(p.DNDEnabled, false),
		DNDDuringPrayer:     boolOr(p.DNDDuringPrayer, true),
		DNDDays:             p.DNDDays,
		QuietHoursEnabled:   boolOr(p.QuietHoursEnabled, false),
		SummaryEnabled:      boolOr(p.SummaryEnabled, false),
		SummaryDelayMinutes: intOr(p.SummaryDelayMinutes, DefaultSummaryDelayMinutes),
		MaxPerHour:          intOr(p.MaxPerHour, DefaultMaxPerHour),
	}

	// Only a fully specified DND window is a window; anything else means
	// DND applies all day while enabled.
	if p.DNDStart != nil && *p.DNDStart != "" && p.DNDEnd != nil && *p.DNDEnd != "" {
		w, err := ParseTimeWindow(*p.DNDStart, *p.DNDEnd)
		if err != nil {
			w = TimeWindow{}
		}
		r.DNDWindow = &w
	}

	qw, err := ParseTimeWindow(stringOr(p.QuietHoursStart, DefaultQuietHoursStart), stringOr(p.QuietHoursEnd, DefaultQuietHoursEnd))
	if err != nil {
		qw = TimeWindow{}
	}
	r.QuietHours = qw

	if r.SummaryDelayMinutes < 0 {
		r.SummaryDelayMinutes = 0
	}
	if r.MaxPerHour <= 0 {
		r.MaxPerHour = DefaultMaxPerHour
	}

	if p.Timezone != nil && *p.Timezone != "" {
		if loc, err := time.LoadLocation(*p.Timezone); err == nil {
			r.Location = loc
		}
	}

	return r
}

// ChannelEnabled returns the toggle gating c. Mentions follow the group toggle.
func (r ResolvedPreferences) ChannelEnabled(c Channel) bool {
	switch c {
	case ChannelDirectMessage:
		return r.DMEnabled
	case ChannelGroup, ChannelMention:
		return r.GroupEnabled
	case ChannelEvent:
		return r.EventEnabled
	case ChannelPrayer:
		return r.PrayerEnabled
	}
	return false
}

// SoundEnabled returns the sound flag for c. Mentions follow the group flag.
func (r ResolvedPreferences) SoundEnabled(c Channel) bool {
	switch c {
	case ChannelDirectMessage:
		return r.DMSound
	case ChannelGroup, ChannelMention:
		return r.GroupSound
	case ChannelEvent:
		return r.EventSound
	case ChannelPrayer:
		return r.PrayerSound
	}
	return false
}

// Local converts now to the user's timezone, or fallback when none is set
func (r ResolvedPreferences) Local(now time.Time, fallback *time.Location) time.Time {
	if r.Location != nil {
		return now.In(r.Location)
	}
	if fallback != nil {
		return now.In(fallback)
	}
	return now
}

// PreferencesPatch is a partial update; only non-nil fields are applied
type PreferencesPatch struct {
	Enabled *bool `json:"enabled"`

	DMEnabled     *bool `json:"dm_enabled"`
	GroupEnabled  *bool `json:"group_enabled"`
	EventEnabled  *bool `json:"event_enabled"`
	PrayerEnabled *bool `json:"prayer_enabled"`

	DMSound     *bool `json:"dm_sound"`
	GroupSound  *bool `json:"group_sound"`
	EventSound  *bool `json:"event_sound"`
	PrayerSound *bool `json:"prayer_sound"`

	DNDEnabled      *bool   `json:"dnd_enabled"`
	DNDStart        *string `json:"dnd_start" binding:"omitempty,hhmm"`
	DNDEnd          *string `json:"dnd_end" binding:"omitempty,hhmm"`
	DNDDuringPrayer *bool   `json:"dnd_during_prayer"`
	DNDDays         []int   `json:"dnd_days" binding:"omitempty,dive,min=0,max=6"`

	QuietHoursEnabled *bool   `json:"quiet_hours_enabled"`
	QuietHoursStart   *string `json:"quiet_hours_start" binding:"omitempty,hhmm"`
	QuietHoursEnd     *string `json:"quiet_hours_end" binding:"omitempty,hhmm"`

	SummaryEnabled      *bool `json:"summary_enabled"`
	SummaryDelayMinutes *int  `json:"summary_delay_minutes" binding:"omitempty,min=0"`
	MaxPerHour          *int  `json:"max_per_hour" binding:"omitempty,min=1"`

	Timezone *string `json:"timezone"`
}

// Apply merges the patch into p. An empty string clears an optional
// time-of-day or timezone field.
func (patch PreferencesPatch) Apply(p *NotificationPreferences) {
	setBool(&p.Enabled, patch.Enabled)
	setBool(&p.DMEnabled, patch.DMEnabled)
	setBool(&p.GroupEnabled, patch.GroupEnabled)
	setBool(&p.EventEnabled, patch.EventEnabled)
	setBool(&p.PrayerEnabled, patch.PrayerEnabled)
	setBool(&p.DMSound, patch.DMSound)
	setBool(&p.GroupSound, patch.GroupSound)
	setBool(&p.EventSound, patch.EventSound)
	setBool(&p.PrayerSound, patch.PrayerSound)
	setBool(&p.DNDEnabled, patch.DNDEnabled)
	setString(&p.DNDStart, patch.DNDStart)
	setString(&p.DNDEnd, patch.DNDEnd)
	setBool(&p.DNDDuringPrayer, patch.DNDDuringPrayer)
	if patch.DNDDays != nil {
		p.DNDDays = append([]int(nil), patch.DNDDays...)
	}
	setBool(&p.QuietHoursEnabled, patch.QuietHoursEnabled)
	setString(&p.QuietHoursStart, patch.QuietHoursStart)
	setString(&p.QuietHoursEnd, patch.QuietHoursEnd)
	setBool(&p.SummaryEnabled, patch.SummaryEnabled)
	if patch.SummaryDelayMinutes != nil {
		p.SummaryDelayMinutes = Int(*patch.SummaryDelayMinutes)
	}
	if patch.MaxPerHour != nil {
		p.MaxPerHour = Int(*patch.MaxPerHour)
	}
	setString(&p.Timezone, patch.Timezone)
}

// Validate checks a merged row before it is written
func (p *NotificationPreferences) Validate() error {
	for name, v := range map[string]*string{
		"dnd_start":         p.DNDStart,
		"dnd_end":           p.DNDEnd,
		"quiet_hours_start": p.QuietHoursStart,
		"quiet_hours_end":   p.QuietHoursEnd,
	} {
		if v == nil || *v == "" {
			continue
		}
		if _, err := ParseTimeOfDay(*v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if boolOr(p.QuietHoursEnabled, false) {
		if p.QuietHoursStart == nil || *p.QuietHoursStart == "" || p.QuietHoursEnd == nil || *p.QuietHoursEnd == "" {
			return fmt.Errorf("quiet hours start and end are required when quiet hours are enabled")
		}
	}

	if p.SummaryDelayMinutes != nil && *p.SummaryDelayMinutes < 0 {
		return fmt.Errorf("summary_delay_minutes must not be negative")
	}
	if p.MaxPerHour != nil && *p.MaxPerHour <= 0 {
		return fmt.Errorf("max_per_hour must be greater than 0")
	}
	for _, d := range p.DNDDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("dnd_days entry %d out of range 0-6", d)
		}
	}
	if p.Timezone != nil && *p.Timezone != "" {
		if _, err := time.LoadLocation(*p.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q", *p.Timezone)
		}
	}
	return nil
}

// Bool returns a pointer to v
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func setBool(dst **bool, v *bool) {
	if v != nil {
		*dst = Bool(*v)
	}
}

func setString(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = nil
		return
	}
	*dst = String(*v)
}
