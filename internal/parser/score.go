package parser

// DefaultThreshold is the confidence at or above which a pattern parse is accepted
const DefaultThreshold = 0.7

// Contributions in tenths so the maximum adds up to exactly 1.0.
const (
	titlePoints    = 2
	schedulePoints = 4
	locationPoints = 2
	prepPoints     = 2
	maxPoints      = 10
)

// Score rates how complete the extracted features are, in [0, 1]
func Score(f Features) float64 {
	points := 0
	if f.Title != "" {
		points += titlePoints
	}
	if f.HasDate && f.HasTime {
		points += schedulePoints
	}
	if f.Location != "" {
		points += locationPoints
	}
	if len(f.PrepItems) > 0 {
		points += prepPoints
	}
	if points > maxPoints {
		points = maxPoints
	}
	return float64(points) / maxPoints
}
