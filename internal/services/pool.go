package services

import (
	"context"
	"fmt"
	"sync"

	"ssl-monitor/internal/metrics"
	"ssl-monitor/internal/models"

	"github.com/fatih/semgroup"
	"github.com/sirupsen/logrus"
)

// DefaultPoolSize caps concurrent probes
const DefaultPoolSize = 15

// RefreshStore is the certificate store as seen by the probe pool
type RefreshStore interface {
	FindDueForRefresh(ctx context.Context) ([]models.Certificate, error)
	UpsertCertificate(ctx context.Context, url string, d models.CertificateDetails) (*models.Certificate, error)
}

// ProbeFailure describes one failed probe; the record it refers to is left untouched
type ProbeFailure struct {
	SSLID uint   `json:"sslId"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Err   error  `json:"-"`
}

// RefreshReport summarises a drained pool run
type RefreshReport struct {
	Total     int            `json:"total"`
	Refreshed int            `json:"refreshed"`
	Failures  []ProbeFailure `json:"failures"`
}

// ProbePool probes certificates with bounded concurrency and upserts the results
type ProbePool struct {
	prober  Prober
	store   RefreshStore
	size    int
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewProbePool creates a pool running at most size probes at a time
func NewProbePool(prober Prober, store RefreshStore, size int, m *metrics.Metrics, log *logrus.Entry) *ProbePool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &ProbePool{
		prober:  prober,
		store:   store,
		size:    size,
		metrics: m,
		log:     log,
	}
}

// Refresh probes every certificate due for refresh and returns once all probes have finished.
// Probe failures are reported, never returned; only persistence errors are.
func (p *ProbePool) Refresh(ctx context.Context) (*RefreshReport, error) {
	certs, err := p.store.FindDueForRefresh(ctx)
	if err != nil {
		return nil, err
	}

	log := entryFor(ctx, p.log)
	log.Infof("Refreshing %d certificates (pool size %d)", len(certs), p.size)

	report := &RefreshReport{Total: len(certs)}
	var mu sync.Mutex

	g := semgroup.NewGroup(ctx, int64(p.size))
	for _, cert := range certs {
		cert := cert
		g.Go(func() error {
			ok, failure, err := p.refreshOne(ctx, log, cert)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				report.Refreshed++
			} else {
				report.Failures = append(report.Failures, failure)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("certificate refresh aborted: %w", err)
	}

	log.WithFields(logrus.Fields{
		"refreshed": report.Refreshed,
		"failed":    len(report.Failures),
	}).Info("Certificate refresh completed")
	return report, nil
}

func (p *ProbePool) refreshOne(ctx context.Context, log *logrus.Entry, cert models.Certificate) (bool, ProbeFailure, error) {
	p.metrics.ProbesInFlight.Inc()
	info, err := p.prober.Probe(ctx, cert.URL)
	p.metrics.ProbesInFlight.Dec()

	fields := logrus.Fields{"ssl_id": cert.SSLID, "url": cert.URL}

	if err != nil {
		kind := FailureKind(err)
		p.metrics.Probes.WithLabelValues(kind).Inc()
		log.WithFields(fields).WithField("kind", kind).WithError(err).Warn("Certificate probe failed")
		return false, ProbeFailure{SSLID: cert.SSLID, URL: cert.URL, Kind: kind, Err: err}, nil
	}
	p.metrics.Probes.WithLabelValues("success").Inc()

	if info.ValidTo.Before(info.ValidFrom) {
		log.WithFields(fields).Warnf("Served certificate is inverted: valid from %s to %s", info.ValidFrom, info.ValidTo)
	}

	if _, err := p.store.UpsertCertificate(ctx, cert.URL, info.Details()); err != nil {
		return false, ProbeFailure{}, err
	}

	log.WithFields(fields).Debugf("Updated certificate: valid until %s", info.ValidTo.Format("2006-01-02"))
	return true, ProbeFailure{}, nil
}
