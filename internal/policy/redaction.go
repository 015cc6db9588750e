package policy

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	urlPattern       = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s"'<>]+`)
	bearerPattern    = regexp.MustCompile(`(?i)\b(bearer|token|authorization)([:=\s]+)[A-Za-z0-9._~+/\-]{8,}=*`)
	secretQueryNames = []string{"token", "key", "apikey", "api_key", "signature", "sig", "secret", "password", "access_token", "x-amz-signature", "confirm"}
)

// RedactLine masks credentials that installer output and transfer errors tend
// to carry: URL userinfo, secret query parameters, bearer tokens and e-mail
// addresses.
func RedactLine(input string) (redacted string, changed bool) {
	var b strings.Builder
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(input, -1) {
		b.WriteString(redactText(input[last:loc[0]]))
		b.WriteString(redactURL(input[loc[0]:loc[1]]))
		last = loc[1]
	}
	b.WriteString(redactText(input[last:]))
	out := b.String()
	return out, out != input
}

// Redact is RedactLine without the change flag.
func Redact(input string) string {
	out, _ := RedactLine(input)
	return out
}

// redactText handles text outside URLs, where userinfo cannot be confused
// with an e-mail address.
func redactText(s string) string {
	s = bearerPattern.ReplaceAllString(s, "${1}${2}[REDACTED_TOKEN]")
	return emailPattern.ReplaceAllString(s, "[REDACTED_EMAIL]")
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	touched := false
	if u.User != nil {
		u.User = url.User("redacted")
		touched = true
	}
	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if isSecretQueryName(name) {
				q.Set(name, "REDACTED")
				touched = true
			}
		}
		if touched {
			u.RawQuery = q.Encode()
		}
	}
	if !touched {
		return raw
	}
	return u.String()
}

func isSecretQueryName(name string) bool {
	name = strings.ToLower(name)
	for _, s := range secretQueryNames {
		if name == s {
			return true
		}
	}
	return false
}
