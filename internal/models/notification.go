// Package models defines the database models for the ballotwatch journal and
// the voter profile registry.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a user-visible message produced from a ledger event or a
// transaction outcome.
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Viewer    string    `gorm:"size:42;index"`
	Kind      string    `gorm:"size:32;index"`
	Message   string    `gorm:"size:512"`
	Address   string    `gorm:"size:42;index"`
	Party     string    `gorm:"size:128"`
	Winner    string    `gorm:"size:128"`
	At        time.Time `gorm:"index"`
	CreatedAt time.Time
}
