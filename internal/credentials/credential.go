package credentials

import (
	"strings"
	"time"
)

// expirySkew treats tokens expiring within this window as already expired so
// an upload never starts with a token about to lapse mid-call.
const expirySkew = 2 * time.Minute

// Credential holds one user's OAuth grant for one provider. At most one
// active credential exists per (user, provider) key; refresh and re-auth
// overwrite it last-write-wins.
type Credential struct {
	UserID       int64
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	MetaJSON     string
	UpdatedAt    time.Time
}

// Expired reports whether the access token is unusable at the given instant.
func (c *Credential) Expired(now time.Time) bool {
	if strings.TrimSpace(c.AccessToken) == "" {
		return true
	}
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(expirySkew).Before(c.Expiry)
}

// Key returns the canonical (user, provider) identity for this credential.
func (c *Credential) Key() string {
	return credentialKey(c.UserID, c.Provider)
}
