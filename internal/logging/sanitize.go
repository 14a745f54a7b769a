package logging

import "strings"

// Redactor masks mailbox addresses when Enabled.
type Redactor struct {
	Enabled bool
}

// Email returns addr, or its masked form when redaction is on.
func (r Redactor) Email(addr string) string {
	if !r.Enabled {
		return addr
	}
	return MaskEmail(addr)
}

// MaskEmail keeps the first and last character of each part:
// "alice@example.org" becomes "a***e@e*****e.o*g".
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}
	user := s[:at]
	domain := s[at+1:]
	dParts := strings.Split(domain, ".")
	for i, p := range dParts {
		dParts[i] = mask(p)
	}
	return mask(user) + "@" + strings.Join(dParts, ".")
}

func mask(part string) string {
	if len(part) <= 1 {
		return "*"
	}
	return part[:1] + strings.Repeat("*", max(0, len(part)-2)) + part[len(part)-1:]
}
