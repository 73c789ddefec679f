// Package registry stores the off-ledger identity profile a voter submits
// alongside the on-ledger registration.
package registry

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"ballotwatch/internal/election"
)

// MaxTaxIDLength bounds the tax id as entered, grouping spaces included.
const MaxTaxIDLength = 14

var (
	ErrMissingName    = errors.New("name is required")
	ErrMissingTaxID   = errors.New("tax id is required")
	ErrBadTaxID       = errors.New("tax id must be digits, optionally grouped with spaces")
	ErrBadEmail       = errors.New("email address is not valid")
	ErrBadChain       = errors.New("chain address is not valid")
	ErrMissingAddress = errors.New("residential address is required")
	ErrDuplicate      = errors.New("profile already registered")
	ErrNotFound       = errors.New("profile not found")
)

// Profile is a registration request.
type Profile struct {
	Name               string `json:"name"`
	TaxID              string `json:"tax_id"`
	Email              string `json:"email"`
	ChainAddress       string `json:"chain_address"`
	ResidentialAddress string `json:"residential_address"`
}

// Normalize trims every field and lower-cases the email.
func (p Profile) Normalize() Profile {
	return Profile{
		Name:               strings.TrimSpace(p.Name),
		TaxID:              strings.TrimSpace(p.TaxID),
		Email:              strings.ToLower(strings.TrimSpace(p.Email)),
		ChainAddress:       strings.TrimSpace(p.ChainAddress),
		ResidentialAddress: strings.TrimSpace(p.ResidentialAddress),
	}
}

// Validate checks a normalized profile. All violations are joined.
func (p Profile) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, ErrMissingName)
	}
	switch {
	case p.TaxID == "":
		errs = append(errs, ErrMissingTaxID)
	case len(p.TaxID) > MaxTaxIDLength || !taxIDChars(p.TaxID):
		errs = append(errs, ErrBadTaxID)
	}
	if a, err := mail.ParseAddress(p.Email); err != nil || a.Address != p.Email {
		errs = append(errs, ErrBadEmail)
	}
	if !election.IsAddress(p.ChainAddress) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadChain, p.ChainAddress))
	}
	if p.ResidentialAddress == "" {
		errs = append(errs, ErrMissingAddress)
	}
	return errors.Join(errs...)
}

func taxIDChars(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ' ':
		default:
			return false
		}
	}
	return digits > 0
}
