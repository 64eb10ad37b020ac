package health

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactions run in order. URLs go first because they contain paths, and
// credentials go last so a key=value pair is replaced whole.
var redactions = []redaction{
	{regexp.MustCompile(`(?:https?|wss?|nats|tls)://\S+`), "[URL]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`/[\w./-]+`), "[PATH]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)\b(?:password|passwd|token|secret|credential|api[_-]?key)\s*[:=]\s*[^,\s}]+`), "[REDACTED]"},
}

// sanitizeErrorMessage strips worker paths, endpoints and secrets from an
// error before it is served on the unauthenticated health route.
func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		if msg == "" {
			break
		}
		msg = r.pattern.ReplaceAllString(msg, r.replacement)
	}
	return msg
}
