package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"ssl-monitor/internal/metrics"
	"ssl-monitor/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultFailedLogRetention is how many failed delivery rows are kept per certificate
const DefaultFailedLogRetention = 10

// NotificationStore is the persistence used by the notification engine
type NotificationStore interface {
	FindNotifiable(ctx context.Context) ([]models.Certificate, error)
	GetOrCreateSchedule(ctx context.Context, sslID uint) (*models.NotificationSchedule, error)
	SaveSchedule(ctx context.Context, sched *models.NotificationSchedule) error
	AppendDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error
	PruneFailedDeliveries(ctx context.Context, sslID uint, keep int) (int64, error)
}

// NotifyReport summarises one notification pass
type NotifyReport struct {
	Evaluated int `json:"evaluated"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// NotificationEngine decides which reminder tiers are due and sends them
type NotificationEngine struct {
	store       NotificationStore
	mailer      Mailer
	concurrency int
	retention   int
	metrics     *metrics.Metrics
	log         *logrus.Entry
	now         func() time.Time
}

// NewNotificationEngine creates a notification engine
func NewNotificationEngine(store NotificationStore, mailer Mailer, concurrency, retention int, m *metrics.Metrics, log *logrus.Entry) *NotificationEngine {
	if concurrency <= 0 {
		concurrency = DefaultPoolSize
	}
	if retention <= 0 {
		retention = DefaultFailedLogRetention
	}
	return &NotificationEngine{
		store:       store,
		mailer:      mailer,
		concurrency: concurrency,
		retention:   retention,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// Run evaluates every certificate with a contact email. Mail failures are recorded in the
// delivery log and left for the next run; only persistence errors are returned.
func (e *NotificationEngine) Run(ctx context.Context) (*NotifyReport, error) {
	certs, err := e.store.FindNotifiable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificates to notify: %w", err)
	}

	log := entryFor(ctx, e.log)
	now := e.now()

	var sent, failed atomic.Int64

	// one certificate's store error must not cancel delivery bookkeeping for the others
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range certs {
		cert := &certs[i]
		g.Go(func() error {
			s, f, err := e.evaluate(ctx, log, cert, now)
			sent.Add(int64(s))
			failed.Add(int64(f))
			return err
		})
	}

	report := &NotifyReport{Evaluated: len(certs)}
	err = g.Wait()
	report.Sent = int(sent.Load())
	report.Failed = int(failed.Load())
	if err != nil {
		return report, fmt.Errorf("notification run aborted: %w", err)
	}

	log.WithFields(logrus.Fields{
		"evaluated": report.Evaluated,
		"sent":      report.Sent,
		"failed":    report.Failed,
	}).Info("Notification run completed")
	return report, nil
}

// evaluate fires every due tier for one certificate and saves its schedule once at the end
func (e *NotificationEngine) evaluate(ctx context.Context, log *logrus.Entry, cert *models.Certificate, now time.Time) (int, int, error) {
	sched, err := e.store.GetOrCreateSchedule(ctx, cert.SSLID)
	if err != nil {
		return 0, 0, err
	}
	if !sched.NotificationsEnabled {
		return 0, 0, nil
	}

	days := models.DaysRemaining(cert.ValidTo, now)
	log = log.WithFields(logrus.Fields{
		"ssl_id": cert.SSLID,
		"url":    cert.URL,
		"days":   days,
	})

	var due []models.Tier
	for _, t := range models.ThresholdTiers {
		if days <= t.Days && !sched.Sent(t.Tier) {
			due = append(due, t.Tier)
		}
	}
	if days <= models.DailyThreshold {
		due = append(due, models.TierDaily)
	}
	if len(due) == 0 {
		return 0, 0, nil
	}

	sent, failed := 0, 0
	for _, tier := range due {
		ok, err := e.deliver(ctx, log, cert, tier, days, now)
		if err != nil {
			return sent, failed, err
		}
		if ok {
			sched.MarkSent(tier)
			sent++
		} else {
			failed++
		}
	}

	if sent > 0 {
		// mail already went out; record it even if the sweep deadline has passed
		if err := e.store.SaveSchedule(context.WithoutCancel(ctx), sched); err != nil {
			return sent, failed, fmt.Errorf("failed to save notification schedule for %s: %w", cert.URL, err)
		}
	}
	return sent, failed, nil
}

// deliver sends one reminder and records the attempt
func (e *NotificationEngine) deliver(ctx context.Context, log *logrus.Entry, cert *models.Certificate, tier models.Tier, days int, now time.Time) (bool, error) {
	entry := &models.DeliveryLog{
		SSLID:     cert.SSLID,
		EmailType: tier,
		Recipient: cert.Email,
		SentAt:    now,
	}

	subject, body, err := RenderReminder(cert, tier, days)
	if err == nil {
		entry.Subject = subject
		err = e.mailer.Send(ctx, cert.Email, subject, body)
	}

	if err != nil {
		entry.Status = models.DeliveryFailed
		entry.StatusMessage = err.Error()
		log.WithField("tier", tier).WithError(err).Warn("Failed to send reminder")
	} else {
		entry.Status = models.DeliverySuccess
		log.WithField("tier", tier).Info("Reminder sent")
	}
	e.metrics.Deliveries.WithLabelValues(string(tier), string(entry.Status)).Inc()

	record := context.WithoutCancel(ctx)
	if err := e.store.AppendDeliveryLog(record, entry); err != nil {
		return false, fmt.Errorf("failed to record %s delivery for %s: %w", tier, cert.URL, err)
	}

	if entry.Status == models.DeliveryFailed {
		pruned, err := e.store.PruneFailedDeliveries(record, cert.SSLID, e.retention)
		if err != nil {
			log.WithError(err).Warn("Failed to prune delivery log")
		} else if pruned > 0 {
			e.metrics.Pruned.Add(float64(pruned))
			log.Debugf("Pruned %d failed delivery log entries", pruned)
		}
	}

	return entry.Status == models.DeliverySuccess, nil
}
