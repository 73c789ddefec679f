package models

import "time"

// SessionResult is the outcome of one ended voting session as delivered by
// the VotingSessionEnded event.
type SessionResult struct {
	ID           uint   `gorm:"primaryKey"`
	SessionID    uint64 `gorm:"index"` // 0 when the session id was not loaded
	WinningParty string `gorm:"size:128"`
	Partial      bool
	EndedAt      time.Time   `gorm:"index"`
	Tally        []PartyVote `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
}

// PartyVote is one row of a session tally.
type PartyVote struct {
	ID              uint   `gorm:"primaryKey"`
	SessionResultID uint   `gorm:"index:ux_result_party,unique"`
	Party           string `gorm:"size:128;index:ux_result_party,unique"`
	Votes           uint64
	Position        int
}
