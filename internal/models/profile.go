package models

import "time"

// VoterProfile is the off-ledger identity record submitted with a voter
// registration request.
type VoterProfile struct {
	ID                 uint   `gorm:"primaryKey"`
	Name               string `gorm:"size:128;not null"`
	TaxID              string `gorm:"size:32;uniqueIndex;not null"`
	Email              string `gorm:"size:254;uniqueIndex;not null"`
	ChainAddress       string `gorm:"size:42;uniqueIndex;not null"`
	ResidentialAddress string `gorm:"size:512"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
