// Package models defines the data records shared between the gateway core and its stores.
package models

import "time"

// Scopes a pinning secret may carry.
const (
	ScopeUpload   = "upload"
	ScopeDownload = "download"
)

// PinningSecret is a long-lived programmatic credential. The raw secret is
// returned to the caller exactly once at creation; only its SHA-256 hex digest
// is stored or compared afterwards.
type PinningSecret struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	Name               string     `json:"name"`
	Prefix             string     `json:"prefix"`
	SecretHash         string     `json:"-"`
	Scopes             []string   `json:"scopes"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	MonthlyQuotaBytes  *int64     `json:"monthly_quota_bytes,omitempty"`
	UsedQuotaBytes     int64      `json:"used_quota_bytes"`
	IsActive           bool       `json:"is_active"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// HasScope returns true when the secret is active and carries the named scope.
func (s *PinningSecret) HasScope(scope string) bool {
	if !s.IsActive {
		return false
	}
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// ValidScope reports whether scope is one of the known scope names.
func ValidScope(scope string) bool {
	return scope == ScopeUpload || scope == ScopeDownload
}
