package core

import (
	"regexp"
	"strings"
)

var (
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s.]+\.?[^@\s]*$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// IsValidEmail reports whether s has the shape of an email address.
// It is a UI enablement predicate, not a deliverability check.
func IsValidEmail(s string) bool {
	return strings.TrimSpace(s) != "" && emailPattern.MatchString(s)
}

// IsValidAddress reports whether s is a 0x-prefixed, 40 hex digit address
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// IsValidCode reports whether code is exactly length ASCII digits
func IsValidCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// TruncateAddress shortens an address for display (0x1234...abcd)
func TruncateAddress(address string) string {
	if len(address) <= 13 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
