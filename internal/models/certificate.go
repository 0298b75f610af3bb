package models

import (
	"time"
)

// Certificate represents a monitored HTTPS endpoint and its latest probed leaf certificate
type Certificate struct {
	SSLID                uint      `gorm:"column:ssl_id;primaryKey;autoIncrement" json:"sslId"`
	URL                  string    `gorm:"uniqueIndex;not null" json:"url"`
	IssuedToCommonName   string    `json:"issuedToCommonName"`
	IssuedToOrganization string    `json:"issuedToOrganization"`
	IssuedByCommonName   string    `json:"issuedByCommonName"`
	IssuedByOrganization string    `json:"issuedByOrganization"`
	ValidFrom            time.Time `json:"validFrom"`
	ValidTo              time.Time `json:"validTo"`
	SiteManager          string    `json:"siteManager"` // Contact name
	Email                string    `json:"email"`       // Contact email
	ImageURL             string    `json:"imageUrl"`    // Branding image reference
	LastChecked          time.Time `json:"lastChecked"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// CertificateDetails holds the fields refreshed by a probe
type CertificateDetails struct {
	IssuedToCommonName   string
	IssuedToOrganization string
	IssuedByCommonName   string
	IssuedByOrganization string
	ValidFrom            time.Time
	ValidTo              time.Time
}

// Apply copies probe details onto the certificate, leaving contact and image untouched.
func (c *Certificate) Apply(d CertificateDetails) {
	c.IssuedToCommonName = d.IssuedToCommonName
	c.IssuedToOrganization = d.IssuedToOrganization
	c.IssuedByCommonName = d.IssuedByCommonName
	c.IssuedByOrganization = d.IssuedByOrganization
	c.ValidFrom = d.ValidFrom
	c.ValidTo = d.ValidTo
}

// DaysRemaining returns ceil((validTo - now) / 24h). Zero or less means expired.
func DaysRemaining(validTo, now time.Time) int {
	d := validTo.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
