package detect

// GradeLetter maps a percentage score to its letter grade.
func GradeLetter(pct float64) string {
	switch {
	case pct >= 90:
		return "A+"
	case pct >= 85:
		return "A"
	case pct >= 80:
		return "A-"
	case pct >= 75:
		return "B+"
	case pct >= 70:
		return "B"
	case pct >= 65:
		return "B-"
	case pct >= 60:
		return "C+"
	case pct >= 55:
		return "C"
	case pct >= 50:
		return "C-"
	case pct >= 40:
		return "D"
	default:
		return "F"
	}
}
