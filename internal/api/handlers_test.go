package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ssl-monitor/internal/config"
	"ssl-monitor/internal/database"
	"ssl-monitor/internal/metrics"
	"ssl-monitor/internal/models"
	"ssl-monitor/internal/scheduler"
	"ssl-monitor/internal/services"
	"ssl-monitor/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

type stubChecker struct {
	st  *store.Store
	err error
}

func (c *stubChecker) CheckURL(ctx context.Context, rawURL string) (*models.Certificate, error) {
	if c.err != nil {
		return nil, c.err
	}
	url, err := services.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	return c.st.UpsertCertificate(ctx, url, models.CertificateDetails{
		IssuedToCommonName: "example.com",
		ValidFrom:          testNow.Add(-80 * 24 * time.Hour),
		ValidTo:            testNow.Add(10 * 24 * time.Hour),
	})
}

type stubScheduler struct {
	spec    string
	running bool
	st      *store.Store
}

func (s *stubScheduler) Current() string { return s.spec }

func (s *stubScheduler) Reschedule(ctx context.Context, expr string) (string, error) {
	if err := scheduler.ValidateCron(expr); err != nil {
		return "", err
	}
	if _, err := s.st.ActivateCron(ctx, expr); err != nil {
		return "", err
	}
	s.spec = expr
	return expr, nil
}

func (s *stubScheduler) TriggerNow() error {
	if s.running {
		return scheduler.ErrSweepRunning
	}
	s.running = true
	return nil
}

type sentMail struct {
	to, subject, html string
}

type stubMailer struct {
	sent []sentMail
	err  error
}

func (m *stubMailer) Send(ctx context.Context, to, subject, html string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, html: html})
	return nil
}

type testEnv struct {
	router  *gin.Engine
	store   *store.Store
	checker *stubChecker
	sched   *stubScheduler
	mailer  *stubMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(&config.DatabaseConfig{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	st := store.New(db)

	reg := prometheus.NewRegistry()
	metrics.New(reg)

	env := &testEnv{
		store:   st,
		checker: &stubChecker{st: st},
		sched:   &stubScheduler{st: st},
		mailer:  &stubMailer{},
	}
	h := NewHandler(st, env.checker, env.sched, env.mailer, reg)
	h.now = func() time.Time { return testNow }

	env.router = gin.New()
	SetupRoutes(env.router, h)
	return env
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGetCronScheduleCreatesDefault(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/cron-schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.DefaultCron, decode(t, w)["cronSchedule"])

	active, err := env.store.ActiveCron(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCron, active.Expression)
}

func TestGetCronScheduleReturnsArmedSpec(t *testing.T) {
	env := newTestEnv(t)
	env.sched.spec = "*/15 * * * *"

	w := env.do(http.MethodGet, "/cron-schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*/15 * * * *", decode(t, w)["cronSchedule"])
}

func TestUpdateCronSchedule(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/cron-update", gin.H{"cronSchedule": "0 8 * * 1"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "0 8 * * 1", body["cronSchedule"])
	assert.NotEmpty(t, body["message"])

	w = env.do(http.MethodGet, "/cron-schedule", nil)
	assert.Equal(t, "0 8 * * 1", decode(t, w)["cronSchedule"])
}

func TestUpdateCronScheduleRejectsMalformed(t *testing.T) {
	env := newTestEnv(t)
	env.sched.spec = config.DefaultCron

	for _, body := range []interface{}{
		gin.H{"cronSchedule": "every day"},
		gin.H{"cronSchedule": "0 6 * * * *"},
		gin.H{},
	} {
		w := env.do(http.MethodPut, "/cron-update", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, fmt.Sprint(body))
	}
	assert.Equal(t, config.DefaultCron, env.sched.spec)
}

func TestTriggerSweep(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/sweep", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(http.MethodPost, "/sweep", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFetchCertificate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/fetch-ssl", gin.H{"url": "www.example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "https://example.com", data["url"])

	env.checker.err = fmt.Errorf("%w: refused", services.ErrConnect)
	w = env.do(http.MethodPost, "/fetch-ssl", gin.H{"url": "down.example.com"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "connect", decode(t, w)["kind"])

	w = env.do(http.MethodPost, "/fetch-ssl", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCertificateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := env.do(http.MethodPost, "/fetch-ssl", gin.H{"url": "example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	cert, err := env.store.FindByURL(ctx, "https://example.com")
	require.NoError(t, err)

	w = env.do(http.MethodPost, "/mail-to-sitemanager", gin.H{
		"url":         "example.com",
		"siteManager": "Jordan",
		"email":       "owner@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Manager info saved and email sent", decode(t, w)["message"])

	w = env.do(http.MethodGet, "/all-ssl", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["data"].([]interface{})
	require.Len(t, list, 1)
	item := list[0].(map[string]interface{})
	assert.Equal(t, "owner@example.com", item["email"])
	assert.EqualValues(t, 10, item["daysRemaining"])
	assert.Equal(t, "Expiring Soon", item["expiryStatus"])
	status := item["notificationStatus"].(map[string]interface{})
	assert.Equal(t, true, status["notificationsEnabled"])
	assert.Equal(t, false, status["thirtyDaysSent"])

	w = env.do(http.MethodPut, fmt.Sprintf("/ssl/%d/notifications", cert.SSLID), gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	sched, err := env.store.FindSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	assert.False(t, sched.NotificationsEnabled)

	require.NoError(t, env.store.AppendDeliveryLog(ctx, &models.DeliveryLog{
		SSLID:     cert.SSLID,
		EmailType: models.TierTenDays,
		Recipient: "owner@example.com",
		Subject:   "s",
		Status:    models.DeliveryFailed,
		SentAt:    testNow,
	}))
	w = env.do(http.MethodGet, fmt.Sprintf("/ssl/%d/logs", cert.SSLID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []models.DeliveryLog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliveryFailed, logs[0].Status)

	w = env.do(http.MethodDelete, "/ssl-delete", gin.H{"sslId": cert.SSLID})
	require.Equal(t, http.StatusOK, w.Code)
	_, err = env.store.FindByID(ctx, cert.SSLID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	w = env.do(http.MethodDelete, "/ssl-delete", gin.H{"sslId": cert.SSLID})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(http.MethodGet, fmt.Sprintf("/ssl/%d/logs", cert.SSLID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateCertificateResetsScheduleOnNewValidTo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/fetch-ssl", gin.H{"url": "example.com"}).Code)
	cert, err := env.store.FindByURL(ctx, "https://example.com")
	require.NoError(t, err)

	sched, err := env.store.GetOrCreateSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	sched.MarkSent(models.TierThirtyDays)
	require.NoError(t, env.store.SaveSchedule(ctx, sched))

	w := env.do(http.MethodPut, "/ssl-update", gin.H{"url": "https://example.com", "siteManager": "Sam"})
	require.Equal(t, http.StatusOK, w.Code)
	sched, err = env.store.FindSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	assert.True(t, sched.ThirtyDaysSent)

	w = env.do(http.MethodPut, "/ssl-update", gin.H{
		"url":     "https://example.com",
		"validTo": testNow.Add(365 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, w.Code)
	sched, err = env.store.FindSchedule(ctx, cert.SSLID)
	require.NoError(t, err)
	assert.False(t, sched.ThirtyDaysSent)

	w = env.do(http.MethodPut, "/ssl-update", gin.H{"url": "https://unknown.example.com", "email": "a@b.c"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssignSiteManagerValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/mail-to-sitemanager", gin.H{"url": "example.com", "siteManager": "Jordan", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/mail-to-sitemanager", gin.H{"url": "example.com", "siteManager": "Jordan", "email": "owner@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, env.mailer.sent)
}

func TestAssignSiteManagerSendsCertificateDetails(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/fetch-ssl", gin.H{"url": "example.com"}).Code)

	w := env.do(http.MethodPost, "/mail-to-sitemanager", gin.H{
		"url":         "https://example.com",
		"siteManager": "Jordan",
		"email":       "owner@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Manager info saved and email sent", body["message"])
	assert.Equal(t, "owner@example.com", body["data"].(map[string]interface{})["email"])

	require.Len(t, env.mailer.sent, 1)
	mail := env.mailer.sent[0]
	assert.Equal(t, "owner@example.com", mail.to)
	assert.Equal(t, "SSL Certificate Details for https://example.com", mail.subject)
	assert.Contains(t, mail.html, "Dear Jordan")
	assert.Contains(t, mail.html, "example.com")

	// details email is not a reminder tier and leaves no delivery log row
	cert, err := env.store.FindByURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	logs, err := env.store.ListDeliveryLogs(context.Background(), cert.SSLID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAssignSiteManagerReportsMailFailure(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/fetch-ssl", gin.H{"url": "example.com"}).Code)
	env.mailer.err = fmt.Errorf("%w: no reply from smtp.example.com:587", services.ErrMailTimeout)

	w := env.do(http.MethodPost, "/mail-to-sitemanager", gin.H{
		"url":         "example.com",
		"siteManager": "Jordan",
		"email":       "owner@example.com",
	})
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Manager info saved but email failed", body["message"])
	assert.Contains(t, body["error"], "timed out")

	// the contact is saved regardless of the mail outcome
	cert, err := env.store.FindByURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "Jordan", cert.SiteManager)
	assert.Equal(t, "owner@example.com", cert.Email)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sslmon_probes_in_flight")
}
