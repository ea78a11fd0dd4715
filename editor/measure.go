package editor

import (
	"fmt"
	"math"
)

// FormatLength renders a measurement value with unit-specific precision
// and suffix.
func FormatLength(length float64, unit string) string {
	switch unit {
	case "px":
		return fmt.Sprintf("%.0f px", math.Round(length))
	case "in":
		return fmt.Sprintf("%.2f\"", length)
	case "cm":
		return fmt.Sprintf("%.1f cm", length)
	case "ft":
		return fmt.Sprintf("%.2f'", length)
	case "m":
		return fmt.Sprintf("%.2f m", length)
	default:
		return fmt.Sprintf("%.2f %s", length, unit)
	}
}
