package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction stores the latest known state of one submission attempt.
// Rows are upserted by ID as the attempt moves through its lifecycle.
type Transaction struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Viewer      string    `gorm:"size:42;index"`
	Kind        string    `gorm:"size:32;index"`
	State       string    `gorm:"size:32;index"`
	Handle      string    `gorm:"size:66;index"` // empty until the ledger accepted the write
	Error       string    `gorm:"size:1024"`
	SubmittedAt time.Time `gorm:"index"`
	UpdatedAt   time.Time
}
