package ui

import "testing"

func TestTruncateWithEllipsis(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"", 5, ""},
		{"short", 5, "short"},
		{"longer text", 6, "longer…"},
		{"日本語の動画", 3, "日本語…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateWithEllipsis(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateWithEllipsis(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"0190a1b2", "0190a1b2"},
		{"0190a1b2-c3d4", "0190a1b2-c3d4"},
		{"0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", "0190a1b2-c3d4"},
		{"αβγδεζηθικλμνξ", "αβγδεζηθικλμν"},
	}
	for _, tt := range tests {
		if got := ShortID(tt.in); got != tt.want {
			t.Errorf("ShortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortID_DistinguishesCloseRuns(t *testing.T) {
	// Two runs a few seconds apart share their first 8 hex digits.
	a := "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"
	b := "0190a1b2-d9e0-7123-8a9b-0c1d2e3f4a5b"
	if ShortID(a) == ShortID(b) {
		t.Errorf("ShortID(%q) == ShortID(%q) = %q", a, b, ShortID(a))
	}
}
