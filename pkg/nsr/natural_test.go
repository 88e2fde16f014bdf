package nsr

import "testing"

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"10", "2", false},
		{"N9", "N12", true},
		{"A", "B", true},
		{"1", "1", false},
		{"1", "1a", true},
		{"01", "1", true},
		{"1", "01", false},
		{"100", "99", false},
		{"", "1", true},
	}
	for _, tt := range tests {
		if got := NaturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("NaturalLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
