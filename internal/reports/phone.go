package reports

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^[0-9]{3}-[0-9]{3}-[0-9]{4}$`)

// NormalizePhone reduces a phone number to ten digits and groups them 3-3-4.
// Separators, Thai numerals and a +66 country prefix are accepted.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '๐' && r <= '๙':
			b.WriteRune('0' + (r - '๐'))
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		case r == '+' && b.Len() == 0:
		default:
			return "", false
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "66") && len(digits) == 11 {
		digits = "0" + digits[2:]
	}
	if len(digits) != 10 {
		return "", false
	}
	out := digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
	if !phonePattern.MatchString(out) {
		return "", false
	}
	return out, true
}

// MaskPhone hides the middle group: 081-xxx-5678.
func MaskPhone(phone string) string {
	if !phonePattern.MatchString(phone) {
		return ""
	}
	return phone[:4] + "xxx" + phone[7:]
}
