package domain

import "time"

type User struct {
	ID            string    `db:"user_id"`
	PolarMemberID string    `db:"polar_member_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// AccessToken is the stored (sealed) upstream token of a user.
type AccessToken struct {
	UserID    string     `db:"user_id"`
	Token     string     `db:"access_token"`
	Issuer    string     `db:"issuer"`
	IssuedAt  time.Time  `db:"issued_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Credentials are what a source needs to fetch data on behalf of a user.
type Credentials struct {
	UserID      string
	AccessToken string
}

// Registration is the outcome of a completed OAuth authorization.
type Registration struct {
	UserID      string
	AccessToken string
	ExpiresAt   *time.Time
}
