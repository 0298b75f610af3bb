package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ssl-monitor/internal/models"

	"gorm.io/gorm"
)

// probe-owned columns; contact and image are never written by a refresh
var detailColumns = []string{
	"issued_to_common_name",
	"issued_to_organization",
	"issued_by_common_name",
	"issued_by_organization",
	"valid_from",
	"valid_to",
	"last_checked",
}

// CertificateUpdate is a partial manual update. Nil fields are left unchanged.
type CertificateUpdate struct {
	SiteManager          *string
	Email                *string
	ImageURL             *string
	IssuedToCommonName   *string
	IssuedToOrganization *string
	IssuedByCommonName   *string
	IssuedByOrganization *string
	ValidFrom            *time.Time
	ValidTo              *time.Time
}

// UpsertCertificate creates the certificate for url or refreshes its probe details in place.
// A changed validTo resets the certificate's notification schedule in the same transaction.
func (s *Store) UpsertCertificate(ctx context.Context, url string, d models.CertificateDetails) (*models.Certificate, error) {
	var cert models.Certificate

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("url = ?", url).First(&cert).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cert = models.Certificate{URL: url}
			cert.Apply(d)
			cert.LastChecked = time.Now()
			return tx.Create(&cert).Error
		}
		if err != nil {
			return err
		}

		renewed := !cert.ValidTo.Equal(d.ValidTo)
		cert.Apply(d)
		cert.LastChecked = time.Now()

		if err := tx.Model(&cert).Select(detailColumns).Updates(&cert).Error; err != nil {
			return err
		}
		if renewed {
			return resetSchedule(tx, cert.SSLID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert certificate %s: %w", url, err)
	}
	return &cert, nil
}

// FindDueForRefresh returns every certificate; each sweep re-probes all of them
func (s *Store) FindDueForRefresh(ctx context.Context) ([]models.Certificate, error) {
	var certs []models.Certificate
	if err := s.db.WithContext(ctx).Order("ssl_id asc").Find(&certs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch certificates: %w", err)
	}
	return certs, nil
}

// FindNotifiable returns certificates that have a contact email
func (s *Store) FindNotifiable(ctx context.Context) ([]models.Certificate, error) {
	var certs []models.Certificate
	if err := s.db.WithContext(ctx).Where("email <> ?", "").Order("ssl_id asc").Find(&certs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch notifiable certificates: %w", err)
	}
	return certs, nil
}

// FindByID retrieves a single certificate
func (s *Store) FindByID(ctx context.Context, sslID uint) (*models.Certificate, error) {
	var cert models.Certificate
	if err := s.db.WithContext(ctx).First(&cert, sslID).Error; err != nil {
		return nil, translate(err)
	}
	return &cert, nil
}

// FindByURL retrieves a single certificate by its unique url
func (s *Store) FindByURL(ctx context.Context, url string) (*models.Certificate, error) {
	var cert models.Certificate
	if err := s.db.WithContext(ctx).Where("url = ?", url).First(&cert).Error; err != nil {
		return nil, translate(err)
	}
	return &cert, nil
}

// ListCertificates returns all certificates, soonest expiry first
func (s *Store) ListCertificates(ctx context.Context) ([]models.Certificate, error) {
	var certs []models.Certificate
	if err := s.db.WithContext(ctx).Order("valid_to asc").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// AssignContact sets the site manager and email for url and makes sure a schedule exists
func (s *Store) AssignContact(ctx context.Context, url, siteManager, email string) (*models.Certificate, error) {
	var cert models.Certificate

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("url = ?", url).First(&cert).Error; err != nil {
			return err
		}
		cert.SiteManager = siteManager
		cert.Email = email
		if err := tx.Model(&cert).Select("site_manager", "email").Updates(&cert).Error; err != nil {
			return err
		}
		_, err := getOrCreateSchedule(tx, cert.SSLID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return &cert, nil
}

// UpdateCertificate applies a manual update to the certificate at url. Changing validTo
// resets the notification schedule.
func (s *Store) UpdateCertificate(ctx context.Context, url string, upd CertificateUpdate) (*models.Certificate, error) {
	var cert models.Certificate

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("url = ?", url).First(&cert).Error; err != nil {
			return err
		}

		changes := map[string]interface{}{}
		setString := func(column string, v *string) {
			if v != nil {
				changes[column] = *v
			}
		}
		setString("site_manager", upd.SiteManager)
		setString("email", upd.Email)
		setString("image_url", upd.ImageURL)
		setString("issued_to_common_name", upd.IssuedToCommonName)
		setString("issued_to_organization", upd.IssuedToOrganization)
		setString("issued_by_common_name", upd.IssuedByCommonName)
		setString("issued_by_organization", upd.IssuedByOrganization)
		if upd.ValidFrom != nil {
			changes["valid_from"] = *upd.ValidFrom
		}
		renewed := upd.ValidTo != nil && !upd.ValidTo.Equal(cert.ValidTo)
		if upd.ValidTo != nil {
			changes["valid_to"] = *upd.ValidTo
		}
		if len(changes) == 0 {
			return nil
		}

		if err := tx.Model(&cert).Updates(changes).Error; err != nil {
			return err
		}
		if renewed {
			if err := resetSchedule(tx, cert.SSLID); err != nil {
				return err
			}
		}
		return tx.First(&cert, cert.SSLID).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &cert, nil
}

// DeleteCertificate removes a certificate together with its schedule and delivery log
func (s *Store) DeleteCertificate(ctx context.Context, sslID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ssl_id = ?", sslID).Delete(&models.DeliveryLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("ssl_id = ?", sslID).Delete(&models.NotificationSchedule{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Certificate{}, sslID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
