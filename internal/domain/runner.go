package domain

import "time"

// Credential is the OAuth state kept for a runner. ExpiresAt is epoch seconds, as issued upstream.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// ExpiresWithin reports whether the access token expires at or before now+margin.
func (c Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return c.ExpiresAt <= now.Add(margin).Unix()
}

// Athlete is the upstream profile returned with an authorization-code grant.
type Athlete struct {
	ID        int64
	FirstName string
	LastName  string
	Profile   string
}

// DisplayName joins first and last name the way rankings show it.
func (a Athlete) DisplayName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// Authorization is the result of exchanging an authorization code.
type Authorization struct {
	Credential Credential
	Athlete    Athlete
}

// Runner is a registered athlete whose activities are tracked. ID is the upstream athlete id.
type Runner struct {
	ID         int64
	Name       string
	AvatarURL  string
	Credential Credential
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
