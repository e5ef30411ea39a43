package util

import (
	"fmt"
	"net"
	"strings"
)

// ValidateAddress checks that s parses as an IP address or CIDR prefix,
// v4 or v6. Host bits in a CIDR need not be zero ("192.168.1.1/24" is
// accepted the same way "192.168.1.0/24" is).
func ValidateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("address is empty")
	}
	if strings.Contains(s, "/") {
		if _, _, err := net.ParseCIDR(s); err != nil {
			return fmt.Errorf("invalid CIDR notation: %s", s)
		}
		return nil
	}
	if net.ParseIP(s) == nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}
	return nil
}

// IsValidIP checks if a string is a valid IP address (v4 or v6).
func IsValidIP(s string) bool {
	return net.ParseIP(strings.TrimSpace(s)) != nil
}

// IsValidCIDR checks if a string is a valid CIDR prefix (v4 or v6).
func IsValidCIDR(s string) bool {
	_, _, err := net.ParseCIDR(strings.TrimSpace(s))
	return err == nil
}

// NormalizeEnvironment lowercases and trims an environment string.
func NormalizeEnvironment(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
