package utils

import "testing"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0xAbCdEf", "0xabcdef"},
		{"  0x1234  ", "0x1234"},
		{"0xabc", "0xabc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortAddress(t *testing.T) {
	full := "0x1234567890abcdef1234567890abcdef12345678"
	if got := ShortAddress(full); got != "0x1234...5678" {
		t.Errorf("ShortAddress=%q, want 0x1234...5678", got)
	}
	if got := ShortAddress("0x1234"); got != "0x1234" {
		t.Errorf("short input should pass through, got %q", got)
	}
}
