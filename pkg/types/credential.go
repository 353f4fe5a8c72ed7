package types

import "time"

// Credential is the stored OAuth2 token set for one user/provider pairing.
// A user may hold more than one credential per provider (e.g. linked accounts).
type Credential struct {
	ID             string
	UserID         string
	Provider       ProviderKind
	ExternalUserID string // the provider's user id (Garmin userId, Suunto username, COROS openId)

	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string

	DateCreated   time.Time
	DateRefreshed time.Time
	// ExpiresAt is the remote expiry minus a safety buffer, in epoch millis.
	ExpiresAt int64

	Permissions            []string
	PermissionsLastChanged time.Time
}

// Expired reports whether the credential needs a refresh at the given instant.
func (c *Credential) Expired(now time.Time) bool {
	return now.UnixMilli() >= c.ExpiresAt
}

// ExpiryTime returns ExpiresAt as a time.Time.
func (c *Credential) ExpiryTime() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// MissingPermissions returns the required permissions the credential was not granted.
func (c *Credential) MissingPermissions(required []string) []string {
	granted := make(map[string]bool, len(c.Permissions))
	for _, p := range c.Permissions {
		granted[p] = true
	}
	var missing []string
	for _, r := range required {
		if !granted[r] {
			missing = append(missing, r)
		}
	}
	return missing
}
