package attendance

import (
	"testing"

	"github.com/kingrea/campus/internal/portal"
)

func TestRate(t *testing.T) {
	tests := []struct {
		total, excused, absent int
		want                   float64
	}{
		{0, 0, 0, 0},
		{10, 10, 0, 100},
		{10, 0, 0, 100},
		{10, 2, 2, 75},
		{3, 0, 1, 66.7},
		{7, 1, 1, 83.3},
	}
	for _, tt := range tests {
		if got := Rate(tt.total, tt.excused, tt.absent); got != tt.want {
			t.Fatalf("Rate(%d, %d, %d) = %v, want %v", tt.total, tt.excused, tt.absent, got, tt.want)
		}
	}
}

func TestSubjectRateAndWarning(t *testing.T) {
	s := portal.SubjectSummary{SubjectName: "数学", Present: 6, Absent: 2, PublicAbsent: 1, Total: 9}
	rate := SubjectRate(s)
	if rate != 75 {
		t.Fatalf("SubjectRate = %v", rate)
	}
	if !AtRisk(rate, DefaultWarningRate) || AtRisk(80, DefaultWarningRate) {
		t.Fatalf("threshold is exclusive at 80")
	}
	overall := OverallRate(portal.AttendanceSummary{Total: 20, Excused: 4, Absent: 4})
	if overall != 75 {
		t.Fatalf("OverallRate = %v", overall)
	}
}
