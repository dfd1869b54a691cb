package monitor

import "time"

// ExpirySkew is how far ahead of the real expiry a credential is treated as expired,
// so that a token never lapses while a poll is in flight.
const ExpirySkew = 5 * time.Minute

// Credential is an OAuth access/refresh token pair together with local expiry bookkeeping.
//
// IssuedAt is always stamped from the local clock when the token response is received;
// the remote clock is never trusted. A Credential is replaced wholesale on refresh.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ExpiresAt returns the local instant at which the access token stops being valid.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.ExpiresIn) * time.Second)
}

// IsExpiring reports whether the credential expires within skew of now.
// The boundary (now == expiry - skew) counts as expiring.
func (c Credential) IsExpiring(now time.Time, skew time.Duration) bool {
	return !c.ExpiresAt().After(now.Add(skew))
}
