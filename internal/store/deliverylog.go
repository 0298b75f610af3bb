package store

import (
	"context"
	"fmt"

	"ssl-monitor/internal/models"

	"gorm.io/gorm"
)

// AppendDeliveryLog records a send attempt
func (s *Store) AppendDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record %s delivery for certificate %d: %w", entry.EmailType, entry.SSLID, err)
	}
	return nil
}

// PruneFailedDeliveries keeps only the newest keep failed entries for a certificate.
// Successful entries are never touched. It returns the number of rows deleted.
func (s *Store) PruneFailedDeliveries(ctx context.Context, sslID uint, keep int) (int64, error) {
	var deleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var failed int64
		if err := tx.Model(&models.DeliveryLog{}).
			Where("ssl_id = ? AND status = ?", sslID, models.DeliveryFailed).
			Count(&failed).Error; err != nil {
			return err
		}
		if failed <= int64(keep) {
			return nil
		}

		var stale []uint
		if err := tx.Model(&models.DeliveryLog{}).
			Where("ssl_id = ? AND status = ?", sslID, models.DeliveryFailed).
			Order("sent_at desc").Order("id desc").
			Offset(keep).Limit(int(failed)).
			Pluck("id", &stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}

		res := tx.Where("id IN ?", stale).Delete(&models.DeliveryLog{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivery log for certificate %d: %w", sslID, err)
	}
	return deleted, nil
}

// ListDeliveryLogs returns the newest entries for a certificate
func (s *Store) ListDeliveryLogs(ctx context.Context, sslID uint, limit int) ([]models.DeliveryLog, error) {
	var entries []models.DeliveryLog
	if err := s.db.WithContext(ctx).
		Where("ssl_id = ?", sslID).
		Order("sent_at desc").Order("id desc").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
