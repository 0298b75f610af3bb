package services

import (
	"context"
	"fmt"
	"time"

	"ssl-monitor/internal/metrics"
	"ssl-monitor/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CertificateStore is the store needed to register a single endpoint
type CertificateStore interface {
	UpsertCertificate(ctx context.Context, url string, d models.CertificateDetails) (*models.Certificate, error)
}

// SweepReport summarises a full refresh and notify sweep
type SweepReport struct {
	ID       string         `json:"id"`
	Refresh  *RefreshReport `json:"refresh"`
	Notify   *NotifyReport  `json:"notify,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// MonitorService runs sweeps: refresh every certificate, then send due reminders
type MonitorService struct {
	prober  Prober
	store   CertificateStore
	pool    *ProbePool
	engine  *NotificationEngine
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewMonitorService creates a new monitoring service
func NewMonitorService(prober Prober, store CertificateStore, pool *ProbePool, engine *NotificationEngine, m *metrics.Metrics, log *logrus.Entry) *MonitorService {
	return &MonitorService{
		prober:  prober,
		store:   store,
		pool:    pool,
		engine:  engine,
		metrics: m,
		log:     log,
	}
}

// Sweep refreshes all certificates and then evaluates reminders. The notify phase only
// starts once every probe has finished.
func (s *MonitorService) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{ID: uuid.NewString()}
	ctx = WithSweepID(ctx, report.ID)
	log := entryFor(ctx, s.log)

	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		s.metrics.SweepDuration.Observe(report.Duration.Seconds())
	}()

	log.Info("Starting certificate sweep")

	refresh, err := s.pool.Refresh(ctx)
	report.Refresh = refresh
	if err != nil {
		s.metrics.Sweeps.WithLabelValues("failed").Inc()
		return report, err
	}

	notify, err := s.engine.Run(ctx)
	report.Notify = notify
	if err != nil {
		s.metrics.Sweeps.WithLabelValues("failed").Inc()
		return report, err
	}

	s.metrics.Sweeps.WithLabelValues("completed").Inc()
	log.WithFields(logrus.Fields{
		"refreshed":      refresh.Refreshed,
		"probe_failures": len(refresh.Failures),
		"sent":           notify.Sent,
		"send_failures":  notify.Failed,
		"elapsed":        time.Since(start).Round(time.Millisecond),
	}).Info("Certificate sweep completed")
	return report, nil
}

// CheckURL probes a single endpoint now and stores the result under its normalized url
func (s *MonitorService) CheckURL(ctx context.Context, rawURL string) (*models.Certificate, error) {
	url, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	info, err := s.prober.Probe(ctx, url)
	if err != nil {
		s.metrics.Probes.WithLabelValues(FailureKind(err)).Inc()
		return nil, err
	}
	s.metrics.Probes.WithLabelValues("success").Inc()

	cert, err := s.store.UpsertCertificate(ctx, url, info.Details())
	if err != nil {
		return nil, fmt.Errorf("failed to save certificate for %s: %w", url, err)
	}

	s.log.WithFields(logrus.Fields{
		"ssl_id": cert.SSLID,
		"url":    url,
	}).Infof("Fetched certificate: valid until %s", cert.ValidTo.Format("2006-01-02"))
	return cert, nil
}
