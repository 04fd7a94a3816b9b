package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
	"github.com/vhvplatform/go-smart-notification-service/internal/feed"
	"github.com/vhvplatform/go-smart-notification-service/internal/metrics"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
)

// Deliverer sends one queued row to the user
type Deliverer interface {
	DeliverQueued(ctx context.Context, n *domain.QueuedNotification) error
}

// DrainResult summarizes one drain pass
type DrainResult struct {
	Loaded   int
	Sent     int
	Failed   int
	Deferred int
	Skipped  int
}

// Drainer periodically sends due rows, most urgent first, within each
// user's hourly cap
type Drainer struct {
	repo        Repository
	deliverer   Deliverer
	preferences PreferencesResolver
	limiter     *HourlyLimiter
	publisher   feed.Publisher
	batchSize   int
	schedule    string
	cron        *cron.Cron
	now         func() time.Time
	log         *logger.Logger
}

// NewDrainer creates a drain worker running on a cron schedule such as "@every 30s"
func NewDrainer(repo Repository, deliverer Deliverer, preferences PreferencesResolver, publisher feed.Publisher, schedule string, batchSize int, log *logger.Logger) *Drainer {
	if publisher == nil {
		publisher = feed.Discard{}
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Drainer{
		repo:        repo,
		deliverer:   deliverer,
		preferences: preferences,
		limiter:     NewHourlyLimiter(),
		publisher:   publisher,
		batchSize:   batchSize,
		schedule:    schedule,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:         time.Now,
		log:         log,
	}
}

// Start registers the drain pass and starts the scheduler
func (d *Drainer) Start() error {
	d.log.Info("Starting delivery queue drainer", "schedule", d.schedule, "batch_size", d.batchSize)

	if _, err := d.cron.AddFunc(d.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := d.Drain(ctx); err != nil {
			d.log.Error("Drain pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid drain schedule %q: %w", d.schedule, err)
	}

	d.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running pass
func (d *Drainer) Stop() {
	d.log.Info("Stopping delivery queue drainer")
	<-d.cron.Stop().Done()
}

// maxDrainPages bounds how many batches one pass loads
const maxDrainPages = 10

// Drain sends every due row it can in one pass. A user whose loaded rows
// are still unsent is left out of the following batches of the pass.
func (d *Drainer) Drain(ctx context.Context) (DrainResult, error) {
	start := time.Now()
	defer func() {
		metrics.DrainDuration.Observe(time.Since(start).Seconds())
	}()

	var result DrainResult
	now := d.now()
	var held []string

	for page := 0; page < maxDrainPages; page++ {
		rows, err := d.repo.FindDue(ctx, now, d.batchSize, held)
		if err != nil {
			return result, fmt.Errorf("load due notifications: %w", err)
		}
		result.Loaded += len(rows)
		if page == 0 {
			metrics.DrainBatchSize.Set(float64(len(rows)))
		}
		if len(rows) == 0 {
			break
		}

		pq := NewPriorityQueue()
		for _, job := range groupJobs(rows) {
			pq.Push(job)
		}

		heldNow := make(map[string]bool)
		for job := pq.TryPop(); job != nil; job = pq.TryPop() {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if !d.process(ctx, job, now, &result) && !heldNow[job.UserID] {
				heldNow[job.UserID] = true
				held = append(held, job.UserID)
			}
		}

		// A short batch means every remaining due row was already loaded
		if len(rows) < d.batchSize {
			break
		}
	}

	d.log.Info("Drain pass complete",
		"loaded", result.Loaded,
		"sent", result.Sent,
		"failed", result.Failed,
		"deferred", result.Deferred,
		"skipped", result.Skipped,
	)
	return result, nil
}

// process delivers one job. It reports false when rows of the job are
// still due afterwards.
func (d *Drainer) process(ctx context.Context, job *DeliveryJob, now time.Time, result *DrainResult) bool {
	prefs := d.preferences.Resolve(ctx, job.UserID)
	ok, release := d.limiter.Reserve(job.UserID, prefs.MaxPerHour, now)
	if !ok {
		result.Deferred += len(job.Rows)
		metrics.DrainRateLimited.Add(float64(len(job.Rows)))
		return false
	}

	settled := true
	claimed := make([]*domain.QueuedNotification, 0, len(job.Rows))
	for _, row := range job.Rows {
		ok, err := d.repo.Claim(ctx, row.ID, now)
		if err != nil {
			d.log.Error("Failed to claim notification", "id", row.ID.Hex(), "error", err)
			result.Failed++
			settled = false
			continue
		}
		if !ok {
			// Read or sent elsewhere since it was loaded
			result.Skipped++
			continue
		}
		claimed = append(claimed, row)
	}
	if len(claimed) == 0 {
		// Nothing goes out, so the hourly cap is untouched
		release()
		return settled
	}

	if err := d.deliverer.DeliverQueued(ctx, summarize(claimed)); err != nil {
		d.log.Warn("Failed to deliver queued notification", "user_id", job.UserID, "rows", len(claimed), "error", err)
		for _, row := range claimed {
			if err := d.repo.Release(ctx, row.ID); err != nil {
				d.log.Error("Failed to release notification claim", "id", row.ID.Hex(), "error", err)
			}
			metrics.DrainDelivered.WithLabelValues(string(row.Channel), "failed").Inc()
		}
		result.Failed += len(claimed)
		release()
		return false
	}

	for _, row := range claimed {
		sentAt := now
		row.Sent = true
		row.SentAt = &sentAt
		d.publisher.Publish(feed.Change{Op: feed.OpUpdate, UserID: row.UserID, Notification: row})
		metrics.DrainDelivered.WithLabelValues(string(row.Channel), "sent").Inc()
	}
	result.Sent += len(claimed)
	return settled
}

// summarize returns the row itself, or for several rows of one bundle a
// summary row built from the most urgent and the latest of them
func summarize(rows []*domain.QueuedNotification) *domain.QueuedNotification {
	if len(rows) == 1 {
		return rows[0]
	}

	lead := rows[0]
	latest := rows[0]
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID.Hex())
		if row.Priority > lead.Priority {
			lead = row
		}
		if row.CreatedAt.After(latest.CreatedAt) {
			latest = row
		}
	}

	return &domain.QueuedNotification{
		ID:       lead.ID,
		UserID:   lead.UserID,
		Channel:  lead.Channel,
		Priority: lead.Priority,
		Title:    fmt.Sprintf("%d new %s notifications", len(rows), channelNoun(lead.Channel)),
		Body:     latest.Title,
		Metadata: map[string]any{
			"bundle_id":        lead.BundleID,
			"notification_ids": ids,
		},
		ScheduledAt: lead.ScheduledAt,
		Bundled:     true,
		BundleID:    lead.BundleID,
	}
}

func channelNoun(ch domain.Channel) string {
	switch ch {
	case domain.ChannelDirectMessage:
		return "message"
	case domain.ChannelGroup:
		return "group"
	case domain.ChannelMention:
		return "mention"
	case domain.ChannelEvent:
		return "event"
	case domain.ChannelPrayer:
		return "prayer"
	}
	return string(ch)
}
