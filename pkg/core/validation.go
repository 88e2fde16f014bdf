package core

import (
	"fmt"
	"math"
)

// ValidationError represents an out-of-range coordinate in input data
type ValidationError struct {
	Code     string
	Message  string
	Guidance string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateCoords checks if latitude and longitude are finite and within valid ranges
func ValidateCoords(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return ValidationError{
			Code:     "INVALID_LATITUDE",
			Message:  fmt.Sprintf("Latitude must be between -90 and 90, got %f", lat),
			Guidance: "Ensure latitude is in decimal degrees",
		}
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return ValidationError{
			Code:     "INVALID_LONGITUDE",
			Message:  fmt.Sprintf("Longitude must be between -180 and 180, got %f", lon),
			Guidance: "Ensure longitude is in decimal degrees",
		}
	}
	return nil
}
