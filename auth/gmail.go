package auth

// Google endpoint and token constants for Gmail accounts. Hosts that talk
// to a different provider override the URLs through core.Config.
const (
	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"

	// Google user access tokens carry this prefix. ValidateTokens uses it
	// as a cheap structural check before any network round trip.
	GoogleAccessTokenPrefix = "ya29."
)

func DefaultGmailScopes() []string {
	return []string{
		"https://www.googleapis.com/auth/gmail.readonly",
		"https://www.googleapis.com/auth/gmail.send",
		"https://www.googleapis.com/auth/userinfo.email",
	}
}
