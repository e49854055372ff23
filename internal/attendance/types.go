// Package attendance implements the attendance application form: request
// types, date and period selection, reason rules and the sequential
// per-session submission against the portal.
package attendance

import (
	"errors"
	"strings"

	"github.com/kingrea/campus/internal/portal"
)

// ApplicationType is the kind of request a student files.
type ApplicationType string

const (
	TypeExcused    ApplicationType = "公欠"
	TypeAbsent     ApplicationType = "欠席"
	TypeLate       ApplicationType = "遅刻"
	TypeEarlyLeave ApplicationType = "早退"
)

// ApplicationTypes lists the types in the order they are offered.
var ApplicationTypes = []ApplicationType{TypeExcused, TypeAbsent, TypeLate, TypeEarlyLeave}

var typeAliases = map[string]ApplicationType{
	"公欠":          TypeExcused,
	"excused":     TypeExcused,
	"欠席":          TypeAbsent,
	"absent":      TypeAbsent,
	"遅刻":          TypeLate,
	"late":        TypeLate,
	"早退":          TypeEarlyLeave,
	"early":       TypeEarlyLeave,
	"early-leave": TypeEarlyLeave,
}

// ParseApplicationType accepts the Japanese label or its English alias.
func ParseApplicationType(value string) (ApplicationType, error) {
	if t, ok := typeAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return t, nil
	}
	return "", ErrUnknownType
}

// Status returns the portal status recorded for this type.
func (t ApplicationType) Status() portal.Status {
	return portal.Status(t)
}

// Valid reports whether t is a known application type.
func (t ApplicationType) Valid() bool {
	for _, candidate := range ApplicationTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

// SelectionMode decides how sessions are chosen for an excused absence.
type SelectionMode int

const (
	// ModeDate applies the request to every session in the date range.
	ModeDate SelectionMode = iota
	// ModePeriod lets the student pick individual sessions.
	ModePeriod
)

func (m SelectionMode) String() string {
	if m == ModePeriod {
		return "period"
	}
	return "date"
}

// Label is the text shown next to the mode toggle.
func (m SelectionMode) Label() string {
	if m == ModePeriod {
		return "時限指定"
	}
	return "日付指定 (全日)"
}

// ParseSelectionMode accepts "date" or "period".
func ParseSelectionMode(value string) (SelectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "date":
		return ModeDate, nil
	case "period":
		return ModePeriod, nil
	}
	return ModeDate, errors.New("attendance: mode must be date or period")
}

// ReasonOther is the excused-absence category that requires free text.
const ReasonOther = "その他"

// Submission is a validated application ready to be sent.
type Submission struct {
	Type         ApplicationType
	Reason       string
	TimetableIDs []int
}

var (
	ErrUnknownType     = errors.New("attendance: unknown application type")
	ErrUnknownCategory = errors.New("attendance: unknown reason category")
	ErrUnknownSession  = errors.New("attendance: session is not in the active range")
	ErrSelectionLocked = errors.New("attendance: every session in the range is selected in date mode")
	ErrExcusedOnly     = errors.New("attendance: only available for 公欠")
)
