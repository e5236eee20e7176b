package domain

import "strings"

// NormalizePhoneNumber squeezes a dialed number into E.164-ish form:
// whitespace and separators stripped, leading "+" ensured. Empty input
// stays empty.
func NormalizePhoneNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		default:
			b.WriteRune(r)
		}
	}
	number := b.String()
	if number == "" {
		return ""
	}
	if strings.HasPrefix(number, "00") {
		number = "+" + number[2:]
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return number
}
