package util

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535
)

// ValidatePort checks that a single port value is within 1-65535.
func ValidatePort(port int) error {
	if port < minPort || port > maxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", minPort, maxPort, port)
	}
	return nil
}

// ValidatePortSpec validates a destination port specification.
// Accepted forms:
//   - "443"        single decimal port
//   - "8000-9000"  inclusive range with start <= end
//
// Whitespace around the spec and around the dash is tolerated.
// Empty segments ("-80", "80-", "") are invalid.
func ValidatePortSpec(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return fmt.Errorf("port specification is empty")
	}

	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		start, err := parsePortSegment(parts[0])
		if err != nil {
			return fmt.Errorf("invalid port range %q: %v", spec, err)
		}
		end, err := parsePortSegment(parts[1])
		if err != nil {
			return fmt.Errorf("invalid port range %q: %v", spec, err)
		}
		if start > end {
			return fmt.Errorf("invalid port range %q: start %d greater than end %d", spec, start, end)
		}
		return nil
	}

	if _, err := parsePortSegment(spec); err != nil {
		return fmt.Errorf("invalid port %q: %v", spec, err)
	}
	return nil
}

func parsePortSegment(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty segment")
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if err := ValidatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}

// ValidateVLANID checks that a VLAN id is within the usable 802.1Q range.
func ValidateVLANID(id int) error {
	if id < 1 || id > 4094 {
		return fmt.Errorf("VLAN id must be between 1 and 4094, got %d", id)
	}
	return nil
}
