package util

import "testing"

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"192.168.1.0/24", false},
		{"192.168.1.1/24", false}, // host bits allowed
		{"10.0.0.1", false},
		{"2001:db8::1", false},
		{"2001:db8::/32", false},
		{" 192.168.1.0/24 ", false},
		{"invalid-ip", true},
		{"192.168.1.0/33", true},
		{"300.1.1.1", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEnvironment(t *testing.T) {
	if got := NormalizeEnvironment(" PROD "); got != "prod" {
		t.Errorf("NormalizeEnvironment = %q, want prod", got)
	}
}
