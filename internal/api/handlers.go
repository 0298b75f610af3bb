package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ssl-monitor/internal/config"
	"ssl-monitor/internal/logger"
	"ssl-monitor/internal/models"
	"ssl-monitor/internal/scheduler"
	"ssl-monitor/internal/services"
	"ssl-monitor/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultLogLimit = 50

// CertificateChecker probes and stores a single endpoint
type CertificateChecker interface {
	CheckURL(ctx context.Context, rawURL string) (*models.Certificate, error)
}

// SweepScheduler is the scheduler as seen by the API
type SweepScheduler interface {
	Current() string
	Reschedule(ctx context.Context, expr string) (string, error)
	TriggerNow() error
}

// Handler holds service dependencies
type Handler struct {
	store     *store.Store
	checker   CertificateChecker
	scheduler SweepScheduler
	mailer    services.Mailer
	gatherer  prometheus.Gatherer
	log       *logrus.Entry
	now       func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(st *store.Store, checker CertificateChecker, sched SweepScheduler, mailer services.Mailer, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		store:     st,
		checker:   checker,
		scheduler: sched,
		mailer:    mailer,
		gatherer:  gatherer,
		log:       logger.For("api"),
		now:       time.Now,
	}
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, handler *Handler) {
	// Sweep schedule
	r.GET("/cron-schedule", handler.GetCronSchedule)
	r.PUT("/cron-update", handler.UpdateCronSchedule)
	r.POST("/sweep", handler.TriggerSweep)

	// Certificates
	r.POST("/fetch-ssl", handler.FetchCertificate)
	r.GET("/all-ssl", handler.ListCertificates)
	r.PUT("/ssl-update", handler.UpdateCertificate)
	r.DELETE("/ssl-delete", handler.DeleteCertificate)
	r.POST("/mail-to-sitemanager", handler.AssignSiteManager)

	// Notifications
	r.PUT("/ssl/:id/notifications", handler.SetNotifications)
	r.GET("/ssl/:id/logs", handler.ListDeliveryLogs)

	if handler.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(handler.gatherer, promhttp.HandlerOpts{})))
	}
}

// GetCronSchedule returns the active sweep schedule
func (h *Handler) GetCronSchedule(c *gin.Context) {
	if spec := h.scheduler.Current(); spec != "" {
		c.JSON(http.StatusOK, gin.H{"cronSchedule": spec})
		return
	}

	sched, err := h.store.EnsureActiveCron(c.Request.Context(), config.DefaultCron)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	spec := sched.Expression
	if scheduler.ValidateCron(spec) != nil {
		spec = config.DefaultCron
	}
	c.JSON(http.StatusOK, gin.H{"cronSchedule": spec})
}

// UpdateCronSchedule validates, persists and re-arms the sweep schedule
func (h *Handler) UpdateCronSchedule(c *gin.Context) {
	var req struct {
		CronSchedule string `json:"cronSchedule" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cronSchedule is required"})
		return
	}

	spec, err := h.scheduler.Reschedule(c.Request.Context(), req.CronSchedule)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidCron) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Cron schedule updated successfully",
		"cronSchedule": spec,
	})
}

// TriggerSweep starts a sweep outside the schedule
func (h *Handler) TriggerSweep(c *gin.Context) {
	if err := h.scheduler.TriggerNow(); err != nil {
		if errors.Is(err, scheduler.ErrSweepRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Sweep started"})
}

// FetchCertificate probes a URL now and stores its certificate
func (h *Handler) FetchCertificate(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	cert, err := h.checker.CheckURL(c.Request.Context(), req.URL)
	switch {
	case errors.Is(err, services.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil && services.FailureKind(err) != "error":
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": services.FailureKind(err)})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "SSL details fetched", "data": cert})
}

type notificationStatus struct {
	ThirtyDaysSent       bool `json:"thirtyDaysSent"`
	FifteenDaysSent      bool `json:"fifteenDaysSent"`
	TenDaysSent          bool `json:"tenDaysSent"`
	FiveDaysSent         bool `json:"fiveDaysSent"`
	DailySentCount       int  `json:"dailySentCount"`
	NotificationsEnabled bool `json:"notificationsEnabled"`
}

type certificateView struct {
	models.Certificate
	DaysRemaining      int                `json:"daysRemaining"`
	ExpiryStatus       string             `json:"expiryStatus"`
	NotificationStatus notificationStatus `json:"notificationStatus"`
}

func expiryStatus(days int) string {
	switch {
	case days <= 0:
		return "Expired"
	case days <= models.ThresholdTiers[0].Days:
		return "Expiring Soon"
	}
	return "Valid"
}

// ListCertificates returns every certificate, soonest expiry first
func (h *Handler) ListCertificates(c *gin.Context) {
	ctx := c.Request.Context()

	certs, err := h.store.ListCertificates(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	schedules, err := h.store.ListSchedules(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := h.now()
	views := make([]certificateView, 0, len(certs))
	for _, cert := range certs {
		days := models.DaysRemaining(cert.ValidTo, now)
		view := certificateView{
			Certificate:   cert,
			DaysRemaining: days,
			ExpiryStatus:  expiryStatus(days),
		}
		if sched, ok := schedules[cert.SSLID]; ok {
			view.NotificationStatus = notificationStatus{
				ThirtyDaysSent:       sched.ThirtyDaysSent,
				FifteenDaysSent:      sched.FifteenDaysSent,
				TenDaysSent:          sched.TenDaysSent,
				FiveDaysSent:         sched.FiveDaysSent,
				DailySentCount:       sched.DailySentCount,
				NotificationsEnabled: sched.NotificationsEnabled,
			}
		} else {
			view.NotificationStatus.NotificationsEnabled = true
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"message": "All SSL details retrieved", "data": views})
}

// UpdateCertificate applies a manual edit. Changing validTo resets reminders.
func (h *Handler) UpdateCertificate(c *gin.Context) {
	var req struct {
		URL                  string     `json:"url" binding:"required"`
		SiteManager          *string    `json:"siteManager"`
		Email                *string    `json:"email"`
		ImageURL             *string    `json:"imageUrl"`
		IssuedToCommonName   *string    `json:"issuedToCommonName"`
		IssuedToOrganization *string    `json:"issuedToOrganization"`
		IssuedByCommonName   *string    `json:"issuedByCommonName"`
		IssuedByOrganization *string    `json:"issuedByOrganization"`
		ValidFrom            *time.Time `json:"validFrom"`
		ValidTo              *time.Time `json:"validTo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Email != nil && *req.Email != "" && !strings.Contains(*req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
		return
	}

	url, err := services.NormalizeURL(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.store.UpdateCertificate(c.Request.Context(), url, store.CertificateUpdate{
		SiteManager:          req.SiteManager,
		Email:                req.Email,
		ImageURL:             req.ImageURL,
		IssuedToCommonName:   req.IssuedToCommonName,
		IssuedToOrganization: req.IssuedToOrganization,
		IssuedByCommonName:   req.IssuedByCommonName,
		IssuedByOrganization: req.IssuedByOrganization,
		ValidFrom:            req.ValidFrom,
		ValidTo:              req.ValidTo,
	})
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "SSL certificate not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "SSL details updated", "data": cert})
}

// DeleteCertificate removes a certificate with its schedule and delivery log
func (h *Handler) DeleteCertificate(c *gin.Context) {
	var req struct {
		SSLID uint `json:"sslId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sslId is required"})
		return
	}

	err := h.store.DeleteCertificate(c.Request.Context(), req.SSLID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "SSL certificate not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "SSL details deleted successfully"})
}

// AssignSiteManager sets the contact for a certificate, enrols it in reminders and
// mails the new manager the certificate details
func (h *Handler) AssignSiteManager(c *gin.Context) {
	var req struct {
		URL         string `json:"url" binding:"required"`
		SiteManager string `json:"siteManager" binding:"required"`
		Email       string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url, siteManager and email are required"})
		return
	}
	if !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
		return
	}

	url, err := services.NormalizeURL(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.store.AssignContact(c.Request.Context(), url, req.SiteManager, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "SSL certificate not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log := h.log.WithFields(logrus.Fields{"ssl_id": cert.SSLID, "url": cert.URL, "recipient": cert.Email})
	if err := h.sendManagerDetails(c.Request.Context(), cert); err != nil {
		log.WithError(err).Warn("Failed to send certificate details to site manager")
		c.JSON(http.StatusBadGateway, gin.H{
			"message": "Manager info saved but email failed",
			"error":   err.Error(),
			"data":    cert,
		})
		return
	}
	log.Info("Certificate details sent to site manager")

	c.JSON(http.StatusOK, gin.H{"message": "Manager info saved and email sent", "data": cert})
}

func (h *Handler) sendManagerDetails(ctx context.Context, cert *models.Certificate) error {
	subject, body, err := services.RenderManagerDetails(cert)
	if err != nil {
		return err
	}
	return h.mailer.Send(ctx, cert.Email, subject, body)
}

// SetNotifications enables or disables reminders for a certificate
func (h *Handler) SetNotifications(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SSL ID"})
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	sched, err := h.store.SetNotificationsEnabled(c.Request.Context(), uint(id), *req.Enabled)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "SSL certificate not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification settings updated", "data": sched})
}

// ListDeliveryLogs returns the most recent delivery attempts for a certificate
func (h *Handler) ListDeliveryLogs(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SSL ID"})
		return
	}

	limit := defaultLogLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := c.Request.Context()
	if _, err := h.store.FindByID(ctx, uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "SSL certificate not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logs, err := h.store.ListDeliveryLogs(ctx, uint(id), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, logs)
}
