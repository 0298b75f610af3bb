// Package store persists certificates, notification schedules, the delivery log and the
// active sweep schedule.
package store

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Store wraps the database handle
type Store struct {
	db *gorm.DB
}

// New creates a store over an opened, migrated database
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
