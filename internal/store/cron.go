package store

import (
	"context"
	"errors"
	"fmt"

	"ssl-monitor/internal/models"

	"gorm.io/gorm"
)

// ActiveCron returns the active sweep schedule or ErrNotFound
func (s *Store) ActiveCron(ctx context.Context) (*models.CronSchedule, error) {
	var sched models.CronSchedule
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("updated_at desc").First(&sched).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sched, nil
}

// EnsureActiveCron returns the active schedule, persisting def as active when there is none
func (s *Store) EnsureActiveCron(ctx context.Context, def string) (*models.CronSchedule, error) {
	sched, err := s.ActiveCron(ctx)
	if err == nil {
		return sched, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.ActivateCron(ctx, def)
}

// ActivateCron deactivates every schedule and marks expression as the active one.
// Callers validate the expression first.
func (s *Store) ActivateCron(ctx context.Context, expression string) (*models.CronSchedule, error) {
	var sched models.CronSchedule

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CronSchedule{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}

		err := tx.Where("expression = ?", expression).First(&sched).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sched = models.CronSchedule{Expression: expression, Active: true}
			return tx.Create(&sched).Error
		}
		if err != nil {
			return err
		}
		sched.Active = true
		return tx.Model(&sched).Update("active", true).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate cron schedule %q: %w", expression, err)
	}
	return &sched, nil
}
