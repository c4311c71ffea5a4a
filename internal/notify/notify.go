// Package notify fans report events out to citizens as in-app notifications.
// Delivery is best effort: jobs run on a bounded worker pool, a full queue
// drops the job, and failures are only logged.
package notify

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/metrics"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

// Notifier receives lifecycle events. Implementations must not block the caller.
type Notifier interface {
	NewReport(r *models.Report)
	ReportVerified(r *models.Report)
	ReportUpvoted(r *models.Report, voterID string)
	ResolutionRequested(r *models.Report)
	ReportClosed(r *models.Report)
	ResolutionRejected(r *models.Report, voterID string)
}

// Publisher pushes persisted notifications to live subscribers
type Publisher interface {
	Publish(ctx context.Context, ns []models.Notification) error
}

// Store is the persistence the dispatcher needs
type Store interface {
	store.NotificationStore
	store.CitizenStore
}

// Config tunes fan-out targeting and the worker pool
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	// NearbyRadius is the new-report audience radius in meters
	NearbyRadius float64
	// ResolutionRadius is the resolution-verifier audience radius in meters
	ResolutionRadius float64
	// MaxResolutionVerifiers caps the random sample of verifiers
	MaxResolutionVerifiers int
}

// DefaultConfig matches the radii used by the web client
func DefaultConfig() Config {
	return Config{
		Workers:                4,
		QueueSize:              256,
		JobTimeout:             15 * time.Second,
		NearbyRadius:           2000,
		ResolutionRadius:       500,
		MaxResolutionVerifiers: 5,
	}
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Dispatcher is the asynchronous Notifier
type Dispatcher struct {
	store     Store
	publisher Publisher
	logger    *zap.SugaredLogger
	cfg       Config
	jobs      chan job
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. publisher may be nil.
func NewDispatcher(s Store, publisher Publisher, cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.NearbyRadius <= 0 {
		cfg.NearbyRadius = def.NearbyRadius
	}
	if cfg.ResolutionRadius <= 0 {
		cfg.ResolutionRadius = def.ResolutionRadius
	}
	if cfg.MaxResolutionVerifiers <= 0 {
		cfg.MaxResolutionVerifiers = def.MaxResolutionVerifiers
	}

	return &Dispatcher{
		store:     s,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		jobs:      make(chan job, cfg.QueueSize),
		now:       time.Now,
	}
}

// Start launches the workers. They exit once ctx is cancelled and the
// queue has been drained.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Infow("Notification dispatcher started",
		"workers", d.cfg.Workers,
		"queue_size", d.cfg.QueueSize,
	)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until every worker has exited
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			d.runJob(j)
		case <-ctx.Done():
			for {
				select {
				case j := <-d.jobs:
					d.runJob(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Errorw("Notification job panicked",
				"job", j.name,
				"panic", p,
			)
		}
	}()

	if err := j.run(ctx); err != nil {
		d.logger.Errorw("Notification job failed",
			"job", j.name,
			"error", err,
		)
	}
}

func (d *Dispatcher) enqueue(name string, run func(ctx context.Context) error) {
	select {
	case d.jobs <- job{name: name, run: run}:
	default:
		metrics.NotificationsDropped.Inc()
		d.logger.Warnw("Notification queue full, dropping job", "job", name)
	}
}

func (d *Dispatcher) NewReport(r *models.Report) {
	snap := r.Clone()
	d.enqueue("new_report", func(ctx context.Context) error {
		recipients, err := d.citizensWithin(ctx, snap, d.cfg.NearbyRadius)
		if err != nil {
			return err
		}
		ns := make([]models.Notification, 0, len(recipients))
		for _, c := range recipients {
			ns = append(ns, d.build(c.ID, snap, models.NotifyNewReport,
				"New Report in Your Area",
				fmt.Sprintf("%q - %s issue reported nearby. Please verify and upvote if needed.", snap.Title, snap.Category),
				""))
		}
		return d.deliver(ctx, ns)
	})
}

func (d *Dispatcher) ReportVerified(r *models.Report) {
	snap := r.Clone()
	d.enqueue("report_verified", func(ctx context.Context) error {
		return d.deliver(ctx, []models.Notification{d.build(snap.UserID, snap, models.NotifyReportVerified,
			"Report Verified",
			fmt.Sprintf("Your report %q has been verified by the community.", snap.Title),
			"")})
	})
}

func (d *Dispatcher) ReportUpvoted(r *models.Report, voterID string) {
	if voterID == r.UserID {
		return
	}
	snap := r.Clone()
	d.enqueue("report_upvoted", func(ctx context.Context) error {
		return d.deliver(ctx, []models.Notification{d.build(snap.UserID, snap, models.NotifyReportUpvoted,
			"Report Upvoted",
			fmt.Sprintf("Someone nearby confirmed your report %q. It now has %d upvotes.", snap.Title, len(snap.Upvotes)),
			"")})
	})
}

// ResolutionRequested tells the author and asks a random sample of nearby
// citizens to confirm the fix.
func (d *Dispatcher) ResolutionRequested(r *models.Report) {
	snap := r.Clone()
	d.enqueue("resolution_verification", func(ctx context.Context) error {
		recipients, err := d.citizensWithin(ctx, snap, d.cfg.ResolutionRadius)
		if err != nil {
			return err
		}
		if snap.ResolutionVerification != nil {
			recipients = without(recipients, snap.ResolutionVerification.RequestedBy)
		}
		rand.Shuffle(len(recipients), func(i, j int) { recipients[i], recipients[j] = recipients[j], recipients[i] })
		if len(recipients) > d.cfg.MaxResolutionVerifiers {
			recipients = recipients[:d.cfg.MaxResolutionVerifiers]
		}

		ns := []models.Notification{d.build(snap.UserID, snap, models.NotifyReportResolved,
			"Report Marked Resolved",
			fmt.Sprintf("Your report %q was marked resolved and is awaiting community verification.", snap.Title),
			"")}
		link := fmt.Sprintf("/dashboard?reportId=%s&action=verify-resolution", snap.ID)
		for _, c := range recipients {
			ns = append(ns, d.build(c.ID, snap, models.NotifyResolutionVerification,
				"Verify Issue Resolution",
				fmt.Sprintf("Admin marked %q (%s) as resolved. Please verify if the issue is actually fixed in your area.", snap.Title, snap.Category),
				link))
		}
		return d.deliver(ctx, ns)
	})
}

func (d *Dispatcher) ReportClosed(r *models.Report) {
	snap := r.Clone()
	d.enqueue("report_closed", func(ctx context.Context) error {
		return d.deliver(ctx, []models.Notification{d.build(snap.UserID, snap, models.NotifyReportClosed,
			"Issue Resolved",
			fmt.Sprintf("Neighbours confirmed that %q is fixed. The report is now closed.", snap.Title),
			"")})
	})
}

func (d *Dispatcher) ResolutionRejected(r *models.Report, voterID string) {
	snap := r.Clone()
	d.enqueue("resolution_rejected", func(ctx context.Context) error {
		return d.deliver(ctx, []models.Notification{d.build(snap.UserID, snap, models.NotifyResolutionRejected,
			"Resolution Disputed",
			fmt.Sprintf("A neighbour reported that %q is not fixed yet.", snap.Title),
			"")})
	})
}

// citizensWithin narrows the store's bounding-box match to the exact radius,
// nearest first, excluding the author.
func (d *Dispatcher) citizensWithin(ctx context.Context, r *models.Report, radius float64) ([]models.Citizen, error) {
	lat, lng := r.Location.Lat(), r.Location.Lng()

	candidates, err := d.store.FindCitizensWithin(ctx, geo.BoundingBox(lat, lng, radius), r.UserID)
	if err != nil {
		return nil, fmt.Errorf("find citizens: %w", err)
	}

	type scored struct {
		c    models.Citizen
		dist float64
	}
	var in []scored
	for _, c := range candidates {
		if dist := geo.Haversine(lat, lng, c.Lat, c.Lng); dist <= radius {
			in = append(in, scored{c: c, dist: dist})
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].dist < in[j].dist })

	out := make([]models.Citizen, 0, len(in))
	for _, s := range in {
		out = append(out, s.c)
	}
	return out, nil
}

func without(cs []models.Citizen, id string) []models.Citizen {
	out := cs[:0]
	for _, c := range cs {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func (d *Dispatcher) build(userID string, r *models.Report, t models.NotificationType, title, message, link string) models.Notification {
	return models.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		ReportID:  r.ID,
		Type:      t,
		Title:     title,
		Message:   message,
		Link:      link,
		CreatedAt: d.now(),
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ns []models.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	if err := d.store.CreateNotifications(ctx, ns); err != nil {
		return fmt.Errorf("persist notifications: %w", err)
	}
	for _, n := range ns {
		metrics.NotificationsSent.WithLabelValues(string(n.Type)).Inc()
	}

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, ns); err != nil {
			d.logger.Warnw("Failed to publish notifications",
				"count", len(ns),
				"error", err,
			)
		}
	}

	d.logger.Infow("Notifications sent",
		"type", ns[0].Type,
		"report_id", ns[0].ReportID,
		"count", len(ns),
	)
	return nil
}
