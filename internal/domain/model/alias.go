package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AliasMatchType selects how an alias pattern is compared against a
// transaction description.
type AliasMatchType string

const (
	AliasMatchExact      AliasMatchType = "exact"
	AliasMatchContains   AliasMatchType = "contains"
	AliasMatchStartsWith AliasMatchType = "starts_with"
	AliasMatchEndsWith   AliasMatchType = "ends_with"
)

// AliasSource records where an alias rule came from.
type AliasSource string

const (
	AliasSourceSystem  AliasSource = "system"
	AliasSourceUser    AliasSource = "user"
	AliasSourceLearned AliasSource = "learned"
)

// VendorAlias maps statement text to a canonical vendor name. Higher
// priority rules are consulted first.
type VendorAlias struct {
	ID            uuid.UUID      `json:"id"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	Pattern       string         `json:"pattern"`
	MatchType     AliasMatchType `json:"match_type"`
	CanonicalName string         `json:"canonical_name"`
	Priority      int            `json:"priority"`
	Source        AliasSource    `json:"source"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Matches reports whether the alias pattern matches the given
// description, case-insensitively.
func (a *VendorAlias) Matches(description string) bool {
	desc := strings.ToLower(strings.TrimSpace(description))
	pat := strings.ToLower(strings.TrimSpace(a.Pattern))
	if pat == "" {
		return false
	}
	switch a.MatchType {
	case AliasMatchExact:
		return desc == pat
	case AliasMatchContains:
		return strings.Contains(desc, pat)
	case AliasMatchStartsWith:
		return strings.HasPrefix(desc, pat)
	case AliasMatchEndsWith:
		return strings.HasSuffix(desc, pat)
	}
	return false
}
