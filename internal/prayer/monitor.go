package prayer

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/metrics"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// Monitor re-derives the prayer window once a minute and serves the latest value
type Monitor struct {
	provider ScheduleProvider
	loc      *time.Location
	now      func() time.Time
	cron     *cron.Cron
	log      *logger.Logger

	mu      sync.RWMutex
	current domain.PrayerWindow
}

// NewMonitor creates a monitor evaluating schedules in loc
func NewMonitor(provider ScheduleProvider, loc *time.Location, log *logger.Logger) *Monitor {
	if loc == nil {
		loc = time.UTC
	}
	return &Monitor{
		provider: provider,
		loc:      loc,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(loc)),
		log:      log,
	}
}

// Start evaluates the window immediately and then every minute
func (m *Monitor) Start() error {
	m.log.Info("Starting prayer window monitor", "timezone", m.loc.String())

	m.Refresh(context.Background())
	if _, err := m.cron.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.Refresh(ctx)
	}); err != nil {
		return err
	}

	m.cron.Start()
	return nil
}

// Stop stops the ticker and waits for a running refresh
func (m *Monitor) Stop() {
	m.log.Info("Stopping prayer window monitor")
	<-m.cron.Stop().Done()
}

// Refresh recomputes the window. A provider failure yields an inactive window.
func (m *Monitor) Refresh(ctx context.Context) domain.PrayerWindow {
	now := m.now().In(m.loc)

	var window domain.PrayerWindow
	schedule, err := m.provider.Schedule(ctx, now)
	if err != nil {
		m.log.Error("Failed to load prayer schedule", "error", err)
	} else {
		window = CurrentWindow(now, schedule)
	}

	m.mu.Lock()
	previous := m.current
	m.current = window
	m.mu.Unlock()

	if window.Active != previous.Active || window.PrayerName != previous.PrayerName {
		m.log.Info("Prayer window changed", "active", window.Active, "prayer", window.PrayerName)
	}
	metrics.SetPrayerWindowActive(window.Active)

	return window
}

// Current returns the most recently derived window
func (m *Monitor) Current() domain.PrayerWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Schedule returns today's schedule from the provider
func (m *Monitor) Schedule(ctx context.Context) ([]domain.PrayerTime, error) {
	return m.provider.Schedule(ctx, m.now().In(m.loc))
}

// Location returns the zone schedules are evaluated in
func (m *Monitor) Location() *time.Location {
	return m.loc
}
