package core

import (
	"errors"
	"math"
	"testing"
)

func TestValidateCoords(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		wantCode string
	}{
		{"valid", 59.91, 10.75, ""},
		{"bounds", -90, 180, ""},
		{"latitude too large", 91, 10, "INVALID_LATITUDE"},
		{"latitude NaN", math.NaN(), 10, "INVALID_LATITUDE"},
		{"longitude too small", 59, -181, "INVALID_LONGITUDE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoords(tt.lat, tt.lon)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", ve.Code, tt.wantCode)
			}
		})
	}
}
