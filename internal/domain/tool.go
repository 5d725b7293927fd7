package domain

import "time"

// Tool is a vendor integration registered through the onboarding flow.
type Tool struct {
	ID           string
	Name         string
	RedirectURIs []string
	IsActive     bool
	CreatedAt    time.Time
}

// AllowsRedirect reports whether the redirect URI is pre-registered.
func (t Tool) AllowsRedirect(uri string) bool {
	for _, allowed := range t.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// User is a platform account; this service only reads identity fields.
type User struct {
	ID          string
	Email       string
	EmailSHA256 string
	CreatedAt   time.Time
}
