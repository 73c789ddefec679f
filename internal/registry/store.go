package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ballotwatch/internal/election"
	"ballotwatch/internal/models"
)

// Store persists profiles with gorm.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewStore wraps a migrated database.
func NewStore(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "registry").Logger()}
}

// Register validates and inserts p. A tax id, email or chain address that is
// already on file yields ErrDuplicate.
func (s *Store) Register(ctx context.Context, p Profile) (models.VoterProfile, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return models.VoterProfile{}, err
	}
	row := models.VoterProfile{
		Name:               p.Name,
		TaxID:              p.TaxID,
		Email:              p.Email,
		ChainAddress:       election.ChecksumAddress(p.ChainAddress),
		ResidentialAddress: p.ResidentialAddress,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.VoterProfile{}, ErrDuplicate
		}
		return models.VoterProfile{}, fmt.Errorf("insert profile: %w", err)
	}
	s.log.Info().Uint("id", row.ID).Str("chain_address", row.ChainAddress).Msg("profile registered")
	return row, nil
}

// Lookup finds the profile bound to a chain address.
func (s *Store) Lookup(ctx context.Context, chainAddress string) (models.VoterProfile, error) {
	if !election.IsAddress(chainAddress) {
		return models.VoterProfile{}, ErrBadChain
	}
	var row models.VoterProfile
	err := s.db.WithContext(ctx).
		Where("chain_address = ?", election.ChecksumAddress(chainAddress)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.VoterProfile{}, ErrNotFound
	}
	if err != nil {
		return models.VoterProfile{}, fmt.Errorf("lookup profile: %w", err)
	}
	return row, nil
}
