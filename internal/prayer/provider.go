package prayer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// ScheduleProvider supplies the ordered prayer times of a given day
type ScheduleProvider interface {
	Schedule(ctx context.Context, day time.Time) ([]domain.PrayerTime, error)
}

// dailyPrayers is the canonical order of the five daily prayers
var dailyPrayers = []string{domain.PrayerFajr, domain.PrayerDhuhr, domain.PrayerAsr, domain.PrayerMaghrib, domain.PrayerIsha}

// StaticProvider serves the same configured schedule every day
type StaticProvider struct {
	schedule []domain.PrayerTime
}

// NewStaticProvider orders the configured name -> "HH:MM" entries by time
func NewStaticProvider(times map[string]string) *StaticProvider {
	schedule := make([]domain.PrayerTime, 0, len(times))
	for name, at := range times {
		schedule = append(schedule, domain.PrayerTime{Name: canonicalName(name), Time: at})
	}
	sort.SliceStable(schedule, func(i, j int) bool {
		a, errA := domain.ParseTimeOfDay(schedule[i].Time)
		b, errB := domain.ParseTimeOfDay(schedule[j].Time)
		if errA != nil || errB != nil {
			return errB != nil && errA == nil
		}
		return a < b
	})
	return &StaticProvider{schedule: schedule}
}

// Schedule returns the configured schedule
func (p *StaticProvider) Schedule(ctx context.Context, day time.Time) ([]domain.PrayerTime, error) {
	out := make([]domain.PrayerTime, len(p.schedule))
	copy(out, p.schedule)
	return out, nil
}

func canonicalName(name string) string {
	for _, known := range dailyPrayers {
		if strings.EqualFold(known, name) {
			return known
		}
	}
	return name
}

// AladhanProvider fetches daily timings from an Aladhan-compatible API
type AladhanProvider struct {
	baseURL    string
	latitude   float64
	longitude  float64
	method     int
	httpClient *http.Client
	cache      *cache.Cache
	maxRetries uint64
	log        *logger.Logger
}

// NewAladhanProvider creates a provider for one location. Each day's
// schedule is fetched once and cached.
func NewAladhanProvider(baseURL string, latitude, longitude float64, method int, log *logger.Logger) *AladhanProvider {
	return &AladhanProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		latitude:   latitude,
		longitude:  longitude,
		method:     method,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache.New(36*time.Hour, time.Hour),
		maxRetries: 3,
		log:        log,
	}
}

type aladhanResponse struct {
	Code int `json:"code"`
	Data struct {
		Timings map[string]string `json:"timings"`
	} `json:"data"`
}

// Schedule returns the day's five prayers, retrying transient failures
// with exponential backoff
func (p *AladhanProvider) Schedule(ctx context.Context, day time.Time) ([]domain.PrayerTime, error) {
	key := day.Format("2006-01-02")
	if cached, found := p.cache.Get(key); found {
		return cached.([]domain.PrayerTime), nil
	}

	var schedule []domain.PrayerTime
	operation := func() error {
		s, err := p.fetch(ctx, day)
		if err != nil {
			p.log.Warn("Prayer times fetch failed", "date", key, "error", err)
			return err
		}
		schedule = s
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("failed to fetch prayer times for %s: %w", key, err)
	}

	p.cache.Set(key, schedule, cache.DefaultExpiration)
	p.log.Info("Prayer times fetched", "date", key, "prayers", len(schedule))
	return schedule, nil
}

func (p *AladhanProvider) fetch(ctx context.Context, day time.Time) ([]domain.PrayerTime, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%f", p.latitude))
	q.Set("longitude", fmt.Sprintf("%f", p.longitude))
	q.Set("method", fmt.Sprintf("%d", p.method))
	endpoint := fmt.Sprintf("%s/timings/%s?%s", p.baseURL, day.Format("02-01-2006"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(fmt.Errorf("prayer times API returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prayer times API returned status %d", resp.StatusCode)
	}

	var body aladhanResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode prayer times: %w", err))
	}

	schedule := make([]domain.PrayerTime, 0, len(dailyPrayers))
	for _, name := range dailyPrayers {
		raw, ok := body.Data.Timings[name]
		if !ok {
			continue
		}
		// Timings may carry a zone suffix, e.g. "05:12 (+03)"
		if i := strings.IndexByte(raw, ' '); i > 0 {
			raw = raw[:i]
		}
		schedule = append(schedule, domain.PrayerTime{Name: name, Time: raw})
	}
	if len(schedule) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("prayer times response has no timings"))
	}

	return schedule, nil
}
