package peerconfig

// sensitiveProperties are redacted from GetConfig responses unless a
// caller explicitly asks for the raw values (e.g. the sync engine itself).
var sensitiveProperties = map[string]bool{
	"credentialsKey": true,
	"password":       true,
}

const redactedPlaceholder = "***"

// SanitizeProperties returns a copy of props with sensitive entries
// replaced by a placeholder, so GetConfig never leaks keyring references
// or inline credentials to bus clients.
func SanitizeProperties(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		if sensitiveProperties[k] && v != "" {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = v
	}
	return out
}

// Sanitized returns a redacted copy of the config's properties, the form
// Server.GetConfig returns to clients by default.
func (c *Config) Sanitized() map[string]string {
	return SanitizeProperties(c.ToProperties())
}
