package attendance

import (
	"math"

	"github.com/kingrea/campus/internal/portal"
)

// DefaultWarningRate is the attendance rate below which a student is at risk
// of repeating the year.
const DefaultWarningRate = 80.0

// WarningLabel marks an at-risk rate.
const WarningLabel = "留年注意"

// Rate is the attendance rate in percent, rounded to one decimal. Excused
// absences leave the denominator; a period made up only of excused
// absences counts as full attendance.
func Rate(total, excused, absent int) float64 {
	if total <= 0 {
		return 0
	}
	counted := total - excused
	if counted <= 0 {
		return 100
	}
	return round1(float64(counted-absent) / float64(counted) * 100)
}

// OverallRate recomputes the rate of a summary from its counts.
func OverallRate(s portal.AttendanceSummary) float64 {
	return Rate(s.Total, s.Excused, s.Absent)
}

// SubjectRate is the rate of one subject.
func SubjectRate(s portal.SubjectSummary) float64 {
	return Rate(s.Total, s.PublicAbsent, s.Absent)
}

// AtRisk reports whether rate is below threshold.
func AtRisk(rate, threshold float64) bool {
	return rate < threshold
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
