package store

import (
	"context"
	"errors"
	"fmt"

	"ssl-monitor/internal/models"

	"gorm.io/gorm"
)

// GetOrCreateSchedule returns the certificate's schedule, creating an enabled one on first use
func (s *Store) GetOrCreateSchedule(ctx context.Context, sslID uint) (*models.NotificationSchedule, error) {
	var sched *models.NotificationSchedule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sched, err = getOrCreateSchedule(tx, sslID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule for certificate %d: %w", sslID, err)
	}
	return sched, nil
}

// FindSchedule returns the certificate's schedule or ErrNotFound
func (s *Store) FindSchedule(ctx context.Context, sslID uint) (*models.NotificationSchedule, error) {
	var sched models.NotificationSchedule
	if err := s.db.WithContext(ctx).Where("ssl_id = ?", sslID).First(&sched).Error; err != nil {
		return nil, translate(err)
	}
	return &sched, nil
}

// ListSchedules returns every schedule keyed by certificate id
func (s *Store) ListSchedules(ctx context.Context) (map[uint]models.NotificationSchedule, error) {
	var scheds []models.NotificationSchedule
	if err := s.db.WithContext(ctx).Find(&scheds).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]models.NotificationSchedule, len(scheds))
	for _, sc := range scheds {
		out[sc.SSLID] = sc
	}
	return out, nil
}

// SaveSchedule writes the tier state evaluated in one sweep
func (s *Store) SaveSchedule(ctx context.Context, sched *models.NotificationSchedule) error {
	err := s.db.WithContext(ctx).Model(sched).
		Select("thirty_days_sent", "fifteen_days_sent", "ten_days_sent", "five_days_sent", "daily_sent_count").
		Updates(sched).Error
	if err != nil {
		return fmt.Errorf("failed to save schedule for certificate %d: %w", sched.SSLID, err)
	}
	return nil
}

// SetNotificationsEnabled toggles reminders for a certificate
func (s *Store) SetNotificationsEnabled(ctx context.Context, sslID uint, enabled bool) (*models.NotificationSchedule, error) {
	var sched *models.NotificationSchedule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&models.Certificate{}, sslID).Error; err != nil {
			return err
		}
		var err error
		sched, err = getOrCreateSchedule(tx, sslID)
		if err != nil {
			return err
		}
		sched.NotificationsEnabled = enabled
		return tx.Model(sched).Update("notifications_enabled", enabled).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return sched, nil
}

func getOrCreateSchedule(tx *gorm.DB, sslID uint) (*models.NotificationSchedule, error) {
	var sched models.NotificationSchedule
	err := tx.Where("ssl_id = ?", sslID).First(&sched).Error
	if err == nil {
		return &sched, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := models.NewNotificationSchedule(sslID)
	if err := tx.Create(created).Error; err != nil {
		return nil, err
	}
	return created, nil
}

func resetSchedule(tx *gorm.DB, sslID uint) error {
	return tx.Model(&models.NotificationSchedule{}).
		Where("ssl_id = ?", sslID).
		Updates(models.ResetColumns()).Error
}
