package portal

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// Status is an attendance status as stored by the portal.
type Status string

const (
	StatusPresent    Status = "出席"
	StatusAbsent     Status = "欠席"
	StatusLate       Status = "遅刻"
	StatusEarlyLeave Status = "早退"
	StatusExcused    Status = "公欠"
)

// AllStatuses lists every status the portal accepts on a status update.
var AllStatuses = []Status{StatusPresent, StatusAbsent, StatusLate, StatusEarlyLeave, StatusExcused}

// Valid reports whether s is one of AllStatuses.
func (s Status) Valid() bool {
	for _, candidate := range AllStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// User is the profile returned by /users/me.
type User struct {
	UserID              int     `json:"user_id"`
	Name                string  `json:"name"`
	Email               string  `json:"email"`
	ClassID             *int    `json:"class_id"`
	MajorID             *int    `json:"major_id"`
	NeedsMajorSelection bool    `json:"needs_major_selection"`
	AvailableMajors     []Major `json:"available_majors"`
}

// GoogleUser is the identity echoed back by the Google login exchange.
type GoogleUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Sub   string `json:"sub"`
}

// LoginResult is the response of the Google credential exchange.
type LoginResult struct {
	User        GoogleUser `json:"user"`
	AccessToken string     `json:"access_token"`
}

// Major is one specialisation a student can follow.
type Major struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TimetableEntry is one scheduled class session. The client never mutates it.
type TimetableEntry struct {
	ID               int     `json:"id"`
	Date             string  `json:"date"`
	Period           int     `json:"period"`
	SubjectName      string  `json:"subject_name"`
	TeacherName      string  `json:"teacher_name"`
	MajorID          *int    `json:"major_id"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	AttendanceStatus *Status `json:"attendance_status"`
}

// Day parses the entry date.
func (e TimetableEntry) Day() (time.Time, error) {
	return time.ParseInLocation(DateLayout, e.Date, time.Local)
}

// TimetableQuery selects the sessions in an inclusive date range.
type TimetableQuery struct {
	Start   time.Time
	End     time.Time
	MajorID int
}

// SubjectSummary is the per-subject breakdown of a summary.
type SubjectSummary struct {
	SubjectName  string `json:"subject_name"`
	Present      int    `json:"present"`
	Absent       int    `json:"absent"`
	Late         int    `json:"late"`
	Early        int    `json:"early"`
	PublicAbsent int    `json:"public_absent"`
	Total        int    `json:"total"`
}

// HistoryEntry is one non-present record in the recent history.
type HistoryEntry struct {
	Date        string  `json:"date"`
	Period      int     `json:"period"`
	SubjectName string  `json:"subject_name"`
	Status      Status  `json:"status"`
	Reason      *string `json:"reason"`
	MarkedAt    string  `json:"marked_at"`
}

// AttendanceSummary aggregates a student's attendance. It is read-only and
// re-fetched after every submission.
type AttendanceSummary struct {
	Present        int              `json:"出席"`
	Absent         int              `json:"欠席"`
	Late           int              `json:"遅刻"`
	EarlyLeave     int              `json:"早退"`
	Excused        int              `json:"公欠"`
	Total          int              `json:"total"`
	AttendanceRate float64          `json:"attendance_rate"`
	SubjectSummary []SubjectSummary `json:"subject_summary"`
	RecentHistory  []HistoryEntry   `json:"recent_history"`
}

// Count returns the number of records with the given status.
func (s AttendanceSummary) Count(status Status) int {
	switch status {
	case StatusPresent:
		return s.Present
	case StatusAbsent:
		return s.Absent
	case StatusLate:
		return s.Late
	case StatusEarlyLeave:
		return s.EarlyLeave
	case StatusExcused:
		return s.Excused
	}
	return 0
}

// StatusUpdate changes the status of one session for one user.
type StatusUpdate struct {
	UserID      int    `json:"user_id"`
	TimetableID int    `json:"timetable_id"`
	Status      Status `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// AttendResult is the response of the attend action.
type AttendResult struct {
	Message string `json:"message"`
	Status  Status `json:"status"`
}

// Notification is one entry of the notification list.
type Notification struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Scope     string  `json:"scope"`
	IsRead    bool    `json:"is_read"`
	ReadAt    *string `json:"read_at"`
	CreatedAt *string `json:"created_at"`
}

type majorsResponse struct {
	Majors []Major `json:"majors"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decodeErrorBody(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
