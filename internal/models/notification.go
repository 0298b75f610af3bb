package models

import (
	"time"
)

// Tier identifies a reminder threshold
type Tier string

const (
	TierThirtyDays  Tier = "30days"
	TierFifteenDays Tier = "15days"
	TierTenDays     Tier = "10days"
	TierFiveDays    Tier = "5days"
	TierDaily       Tier = "daily"
)

// ThresholdTier is a one-shot tier with the days-remaining threshold at which it becomes due
type ThresholdTier struct {
	Tier Tier
	Days int
}

// ThresholdTiers lists the one-shot tiers in evaluation order.
var ThresholdTiers = []ThresholdTier{
	{Tier: TierThirtyDays, Days: 30},
	{Tier: TierFifteenDays, Days: 15},
	{Tier: TierTenDays, Days: 10},
	{Tier: TierFiveDays, Days: 5},
}

// DailyThreshold is the days-remaining window in which the daily reminder repeats
const DailyThreshold = 5

// Valid reports whether t is one of the five known tiers
func (t Tier) Valid() bool {
	switch t {
	case TierThirtyDays, TierFifteenDays, TierTenDays, TierFiveDays, TierDaily:
		return true
	}
	return false
}

// NotificationSchedule tracks which reminder tiers already fired for a certificate
type NotificationSchedule struct {
	ID                   uint      `gorm:"primarykey" json:"id"`
	SSLID                uint      `gorm:"column:ssl_id;uniqueIndex;not null" json:"sslId"`
	ThirtyDaysSent       bool      `gorm:"not null" json:"thirtyDaysSent"`
	FifteenDaysSent      bool      `gorm:"not null" json:"fifteenDaysSent"`
	TenDaysSent          bool      `gorm:"not null" json:"tenDaysSent"`
	FiveDaysSent         bool      `gorm:"not null" json:"fiveDaysSent"`
	DailySentCount       int       `gorm:"not null" json:"dailySentCount"`
	NotificationsEnabled bool      `gorm:"not null" json:"notificationsEnabled"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// NewNotificationSchedule returns an enabled schedule with every tier unsent
func NewNotificationSchedule(sslID uint) *NotificationSchedule {
	return &NotificationSchedule{SSLID: sslID, NotificationsEnabled: true}
}

// Sent reports whether a one-shot tier already fired. The daily tier is never "sent".
func (s *NotificationSchedule) Sent(t Tier) bool {
	switch t {
	case TierThirtyDays:
		return s.ThirtyDaysSent
	case TierFifteenDays:
		return s.FifteenDaysSent
	case TierTenDays:
		return s.TenDaysSent
	case TierFiveDays:
		return s.FiveDaysSent
	}
	return false
}

// MarkSent records a successful send for the tier
func (s *NotificationSchedule) MarkSent(t Tier) {
	switch t {
	case TierThirtyDays:
		s.ThirtyDaysSent = true
	case TierFifteenDays:
		s.FifteenDaysSent = true
	case TierTenDays:
		s.TenDaysSent = true
	case TierFiveDays:
		s.FiveDaysSent = true
	case TierDaily:
		s.DailySentCount++
	}
}

// Reset clears every tier, used when the certificate's validTo changes
func (s *NotificationSchedule) Reset() {
	s.ThirtyDaysSent = false
	s.FifteenDaysSent = false
	s.TenDaysSent = false
	s.FiveDaysSent = false
	s.DailySentCount = 0
}

// ResetColumns is the column set written when a renewal invalidates reminder state
func ResetColumns() map[string]interface{} {
	return map[string]interface{}{
		"thirty_days_sent":  false,
		"fifteen_days_sent": false,
		"ten_days_sent":     false,
		"five_days_sent":    false,
		"daily_sent_count":  0,
	}
}

// DeliveryStatus is the outcome of a send attempt
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryPending DeliveryStatus = "pending"
)

// DeliveryLog represents a single reminder send attempt
type DeliveryLog struct {
	ID            uint           `gorm:"primarykey" json:"id"`
	SSLID         uint           `gorm:"column:ssl_id;index;not null" json:"sslId"`
	EmailType     Tier           `gorm:"not null" json:"emailType"`
	Recipient     string         `gorm:"not null" json:"recipient"`
	Subject       string         `gorm:"not null" json:"subject"`
	Status        DeliveryStatus `gorm:"index;not null" json:"status"`
	StatusMessage string         `json:"statusMessage,omitempty"` // Failure reason
	SentAt        time.Time      `gorm:"index" json:"sentAt"`
}

// CronSchedule represents a persisted sweep schedule; at most one row is active
type CronSchedule struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Expression string    `gorm:"not null" json:"cronSchedule"`
	Active     bool      `gorm:"index;not null" json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
