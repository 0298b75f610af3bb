package store

import (
	"context"
	"testing"
	"time"

	"ssl-monitor/internal/config"
	"ssl-monitor/internal/database"
	"ssl-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return New(db), db
}

func details(validTo time.Time) models.CertificateDetails {
	return models.CertificateDetails{
		IssuedToCommonName:   "example.com",
		IssuedToOrganization: "Example Inc",
		IssuedByCommonName:   "R3",
		IssuedByOrganization: "Let's Encrypt",
		ValidFrom:            validTo.Add(-90 * 24 * time.Hour),
		ValidTo:              validTo,
	}
}

func TestUpsertCertificateCreatesThenUpdatesInPlace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	validTo := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	created, err := s.UpsertCertificate(ctx, "https://example.com", details(validTo))
	require.NoError(t, err)
	require.NotZero(t, created.SSLID)

	_, err = s.AssignContact(ctx, "https://example.com", "Alice", "alice@example.com")
	require.NoError(t, err)

	d := details(validTo)
	d.IssuedByCommonName = "E1"
	updated, err := s.UpsertCertificate(ctx, "https://example.com", d)
	require.NoError(t, err)
	assert.Equal(t, created.SSLID, updated.SSLID)

	got, err := s.FindByID(ctx, created.SSLID)
	require.NoError(t, err)
	assert.Equal(t, "E1", got.IssuedByCommonName)
	assert.Equal(t, "Alice", got.SiteManager)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.True(t, got.ValidTo.Equal(validTo))

	all, err := s.FindDueForRefresh(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertCertificateRenewalResetsSchedule(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	validTo := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	cert, err := s.UpsertCertificate(ctx, "https://example.com", details(validTo))
	require.NoError(t, err)

	sched, err := s.GetOrCreateSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	for _, tier := range models.ThresholdTiers {
		sched.MarkSent(tier.Tier)
	}
	sched.DailySentCount = 3
	require.NoError(t, s.SaveSchedule(ctx, sched))

	// same validTo: reminder state survives
	_, err = s.UpsertCertificate(ctx, "https://example.com", details(validTo))
	require.NoError(t, err)
	got, err := s.FindSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	assert.True(t, got.ThirtyDaysSent)
	assert.Equal(t, 3, got.DailySentCount)

	// renewal: every tier back to unsent
	_, err = s.UpsertCertificate(ctx, "https://example.com", details(validTo.AddDate(0, 3, 0)))
	require.NoError(t, err)
	got, err = s.FindSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	assert.False(t, got.ThirtyDaysSent)
	assert.False(t, got.FifteenDaysSent)
	assert.False(t, got.TenDaysSent)
	assert.False(t, got.FiveDaysSent)
	assert.Equal(t, 0, got.DailySentCount)
	assert.True(t, got.NotificationsEnabled)
}

func TestUpdateCertificateValidToResetsSchedule(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	validTo := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	cert, err := s.UpsertCertificate(ctx, "https://example.com", details(validTo))
	require.NoError(t, err)
	sched, err := s.GetOrCreateSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	sched.MarkSent(models.TierThirtyDays)
	sched.MarkSent(models.TierDaily)
	require.NoError(t, s.SaveSchedule(ctx, sched))

	manager := "Bob"
	updated, err := s.UpdateCertificate(ctx, "https://example.com", CertificateUpdate{SiteManager: &manager})
	require.NoError(t, err)
	assert.Equal(t, "Bob", updated.SiteManager)
	got, err := s.FindSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	assert.True(t, got.ThirtyDaysSent, "non-validity edits keep reminder state")

	renewed := validTo.AddDate(1, 0, 0)
	updated, err = s.UpdateCertificate(ctx, "https://example.com", CertificateUpdate{ValidTo: &renewed})
	require.NoError(t, err)
	assert.True(t, updated.ValidTo.Equal(renewed))
	got, err = s.FindSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	assert.False(t, got.ThirtyDaysSent)
	assert.Equal(t, 0, got.DailySentCount)

	_, err = s.UpdateCertificate(ctx, "https://missing.example.com", CertificateUpdate{SiteManager: &manager})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCertificateCascades(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	cert, err := s.UpsertCertificate(ctx, "https://example.com", details(time.Now().Add(48*time.Hour)))
	require.NoError(t, err)
	_, err = s.GetOrCreateSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	require.NoError(t, s.AppendDeliveryLog(ctx, &models.DeliveryLog{
		SSLID: cert.SSLID, EmailType: models.TierDaily, Recipient: "a@example.com",
		Subject: "s", Status: models.DeliverySuccess, SentAt: time.Now(),
	}))

	require.NoError(t, s.DeleteCertificate(ctx, cert.SSLID))

	_, err = s.FindByID(ctx, cert.SSLID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindSchedule(ctx, cert.SSLID)
	assert.ErrorIs(t, err, ErrNotFound)
	var logs int64
	require.NoError(t, db.Model(&models.DeliveryLog{}).Where("ssl_id = ?", cert.SSLID).Count(&logs).Error)
	assert.Zero(t, logs)

	assert.ErrorIs(t, s.DeleteCertificate(ctx, cert.SSLID), ErrNotFound)
}

func TestPruneFailedDeliveriesKeepsNewest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)

	cert, err := s.UpsertCertificate(ctx, "https://example.com", details(base))
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		require.NoError(t, s.AppendDeliveryLog(ctx, &models.DeliveryLog{
			SSLID: cert.SSLID, EmailType: models.TierDaily, Recipient: "a@example.com",
			Subject: "s", Status: models.DeliveryFailed, StatusMessage: "smtp down",
			SentAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendDeliveryLog(ctx, &models.DeliveryLog{
			SSLID: cert.SSLID, EmailType: models.TierThirtyDays, Recipient: "a@example.com",
			Subject: "s", Status: models.DeliverySuccess, SentAt: base.Add(-time.Duration(i+1) * time.Hour),
		}))
	}

	deleted, err := s.PruneFailedDeliveries(ctx, cert.SSLID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	entries, err := s.ListDeliveryLogs(ctx, cert.SSLID, 100)
	require.NoError(t, err)

	var failed []time.Time
	success := 0
	for _, e := range entries {
		switch e.Status {
		case models.DeliveryFailed:
			failed = append(failed, e.SentAt)
		case models.DeliverySuccess:
			success++
		}
	}
	assert.Equal(t, 3, success)
	require.Len(t, failed, 10)
	// newest first: hours 14 down to 5 survive
	for i, sentAt := range failed {
		assert.True(t, sentAt.Equal(base.Add(time.Duration(14-i)*time.Hour)), "entry %d sent at %s", i, sentAt)
	}

	deleted, err = s.PruneFailedDeliveries(ctx, cert.SSLID, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestActivateCronKeepsSingleActiveRow(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	def, err := s.EnsureActiveCron(ctx, "0 6 * * *")
	require.NoError(t, err)
	assert.Equal(t, "0 6 * * *", def.Expression)

	again, err := s.EnsureActiveCron(ctx, "0 7 * * *")
	require.NoError(t, err)
	assert.Equal(t, def.ID, again.ID, "existing active row wins over the default")

	_, err = s.ActivateCron(ctx, "*/5 * * * *")
	require.NoError(t, err)
	active, err := s.ActiveCron(ctx)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", active.Expression)

	reused, err := s.ActivateCron(ctx, "0 6 * * *")
	require.NoError(t, err)
	assert.Equal(t, def.ID, reused.ID)

	var count int64
	require.NoError(t, db.Model(&models.CronSchedule{}).Where("active = ?", true).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFindNotifiableAndSetNotificationsEnabled(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	validTo := time.Now().Add(10 * 24 * time.Hour)

	a, err := s.UpsertCertificate(ctx, "https://a.example.com", details(validTo))
	require.NoError(t, err)
	_, err = s.UpsertCertificate(ctx, "https://b.example.com", details(validTo))
	require.NoError(t, err)
	_, err = s.AssignContact(ctx, "https://a.example.com", "Alice", "alice@example.com")
	require.NoError(t, err)

	certs, err := s.FindNotifiable(ctx)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, a.SSLID, certs[0].SSLID)

	sched, err := s.SetNotificationsEnabled(ctx, a.SSLID, false)
	require.NoError(t, err)
	assert.False(t, sched.NotificationsEnabled)
	got, err := s.FindSchedule(ctx, a.SSLID)
	require.NoError(t, err)
	assert.False(t, got.NotificationsEnabled)

	_, err = s.SetNotificationsEnabled(ctx, 9999, true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AssignContact(ctx, "https://missing.example.com", "X", "x@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
