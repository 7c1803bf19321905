package whatsapp

import "strings"

// FormatPhone normalizes a number for CRM lookups. Ten digits are assumed to be
// North American.
func FormatPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch len(d) {
	case 0:
		return ""
	case 10:
		return "+1" + d
	default:
		return "+" + d
	}
}

// PhoneVariants lists the spellings a number may be stored under.
func PhoneVariants(phone string) []string {
	f := FormatPhone(phone)
	if f == phone {
		return []string{phone}
	}
	return []string{phone, f}
}
