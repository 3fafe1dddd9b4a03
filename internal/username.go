package internal

import "strings"

const (
	maxUsernameBase = 30
	maxUsernameLen  = 50
)

// DeriveUsername builds a collision-resistant username for a federated
// account from the provider's login handle (preferred) or the email
// local-part, suffixed with the provider name and the provider-side
// user id so two providers can never collide on the same base.
func DeriveUsername(login, email, provider, providerUserID string) string {
	base := sanitizeUsername(login)
	if base == "" {
		local, _, _ := strings.Cut(email, "@")
		base = sanitizeUsername(local)
	}
	if base == "" {
		base = "user"
	}
	if len(base) > maxUsernameBase {
		base = base[:maxUsernameBase]
	}

	// Local registrations carry no provider; the email local-part
	// alone is the username.
	if provider == "" {
		return base
	}

	username := base + "_" + provider + "_" + providerUserID
	if len(username) > maxUsernameLen {
		username = username[:maxUsernameLen]
	}
	return username
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
