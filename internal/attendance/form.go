package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/campus/internal/portal"
)

// Form holds the state of one attendance application. It lives as long as
// the screen that shows it and is never persisted.
type Form struct {
	kind       ApplicationType
	mode       SelectionMode
	start      time.Time
	end        time.Time
	categories []string
	category   string
	reason     string

	sessions    []portal.TimetableEntry
	loadedStart time.Time
	loadedEnd   time.Time
	loaded      bool
	selected    []int
}

// FormOption customizes a Form during construction.
type FormOption func(*Form)

// WithType preselects an application type.
func WithType(t ApplicationType) FormOption {
	return func(f *Form) {
		if t.Valid() {
			f.kind = t
		}
	}
}

// WithCategories replaces the excused-absence categories. ReasonOther is
// appended when missing.
func WithCategories(categories []string) FormOption {
	return func(f *Form) {
		var cleaned []string
		for _, c := range categories {
			if c = strings.TrimSpace(c); c != "" && c != ReasonOther {
				cleaned = append(cleaned, c)
			}
		}
		f.categories = append(cleaned, ReasonOther)
	}
}

// DefaultCategories are the excused-absence categories offered by default.
var DefaultCategories = []string{"入社試験", "会社訪問", "面接", "健康診断", "忌引", ReasonOther}

// NewForm starts a form for today: type 公欠, date mode, first category.
func NewForm(today time.Time, opts ...FormOption) *Form {
	day := dateOnly(today)
	f := &Form{
		kind:       TypeExcused,
		mode:       ModeDate,
		start:      day,
		end:        day,
		categories: append([]string(nil), DefaultCategories...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.category = f.categories[0]
	return f
}

// Type returns the selected application type.
func (f *Form) Type() ApplicationType { return f.kind }

// Mode returns the selection mode. Only meaningful for 公欠.
func (f *Form) Mode() SelectionMode { return f.mode }

// Start returns the first day of the range.
func (f *Form) Start() time.Time { return f.start }

// End returns the last day of the range.
func (f *Form) End() time.Time { return f.end }

// Category returns the selected excused-absence category.
func (f *Form) Category() string { return f.category }

// Categories returns the excused-absence categories in display order.
func (f *Form) Categories() []string { return append([]string(nil), f.categories...) }

// Reason returns the free-text reason.
func (f *Form) Reason() string { return f.reason }

// Range returns the dates whose timetable must be loaded.
func (f *Form) Range() (time.Time, time.Time) { return f.start, f.end }

// IsExcused reports whether the form files a 公欠 request.
func (f *Form) IsExcused() bool { return f.kind == TypeExcused }

// SelectionLocked reports whether sessions are chosen automatically (公欠 in
// date mode) and manual selection is hidden.
func (f *Form) SelectionLocked() bool {
	return f.kind == TypeExcused && f.mode == ModeDate
}

// SingleSelect reports radio semantics: 早退 applies to exactly one session.
func (f *Form) SingleSelect() bool { return f.kind == TypeEarlyLeave }

// NeedsFreeText reports whether the reason text box is shown.
func (f *Form) NeedsFreeText() bool {
	return f.kind != TypeExcused || f.category == ReasonOther
}

// NeedsReload reports whether the loaded sessions belong to another range.
func (f *Form) NeedsReload() bool {
	return !f.loaded || !f.loadedStart.Equal(f.start) || !f.loadedEnd.Equal(f.end)
}

// Sessions returns the sessions of the active range.
func (f *Form) Sessions() []portal.TimetableEntry {
	return append([]portal.TimetableEntry(nil), f.sessions...)
}

// Selected returns the selected session IDs in selection order.
func (f *Form) Selected() []int { return append([]int(nil), f.selected...) }

// IsSelected reports whether id is selected.
func (f *Form) IsSelected(id int) bool {
	return indexOf(f.selected, id) >= 0
}

// SetType switches the application type. Non-excused types cover a single
// day, so the end date follows the start date. The selection is reset.
func (f *Form) SetType(t ApplicationType) error {
	if !t.Valid() {
		return ErrUnknownType
	}
	f.kind = t
	if t != TypeExcused {
		f.end = f.start
	}
	f.resetSelection()
	return nil
}

// SetStartDate moves the start of the range. The selection is reset.
func (f *Form) SetStartDate(day time.Time) {
	f.start = dateOnly(day)
	if f.kind != TypeExcused || f.end.Before(f.start) {
		f.end = f.start
	}
	f.resetSelection()
}

// SetEndDate moves the end of the range. Only 公欠 spans several days.
func (f *Form) SetEndDate(day time.Time) error {
	if f.kind != TypeExcused {
		return ErrExcusedOnly
	}
	f.end = dateOnly(day)
	f.resetSelection()
	return nil
}

// SetMode switches between date and period selection for 公欠. Date mode
// selects every loaded session; period mode starts with nothing selected.
func (f *Form) SetMode(m SelectionMode) error {
	if f.kind != TypeExcused {
		return ErrExcusedOnly
	}
	f.mode = m
	f.resetSelection()
	return nil
}

// SetReasonCategory picks one of the excused-absence categories.
func (f *Form) SetReasonCategory(category string) error {
	category = strings.TrimSpace(category)
	if indexOfString(f.categories, category) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	f.category = category
	return nil
}

// SetReason stores the free-text reason.
func (f *Form) SetReason(reason string) {
	f.reason = reason
}

// LoadSessions installs the sessions fetched for [start, end]. A response for
// a range that is no longer active is discarded and false is returned.
func (f *Form) LoadSessions(start, end time.Time, entries []portal.TimetableEntry) bool {
	start, end = dateOnly(start), dateOnly(end)
	if !start.Equal(f.start) || !end.Equal(f.end) {
		return false
	}
	f.sessions = append([]portal.TimetableEntry(nil), entries...)
	f.loadedStart, f.loadedEnd, f.loaded = start, end, true
	if f.SelectionLocked() {
		f.selectAll()
		return true
	}
	kept := f.selected[:0]
	for _, id := range f.selected {
		if f.hasSession(id) {
			kept = append(kept, id)
		}
	}
	f.selected = kept
	return true
}

// Toggle selects or deselects a session. For 早退 the session replaces the
// current selection.
func (f *Form) Toggle(id int) error {
	if f.SelectionLocked() {
		return ErrSelectionLocked
	}
	if !f.hasSession(id) {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	if f.SingleSelect() {
		f.selected = []int{id}
		return nil
	}
	if idx := indexOf(f.selected, id); idx >= 0 {
		f.selected = append(f.selected[:idx], f.selected[idx+1:]...)
		return nil
	}
	f.selected = append(f.selected, id)
	return nil
}

// SelectPeriods selects the sessions with the given periods on the start
// date, using the same rules as Toggle.
func (f *Form) SelectPeriods(periods ...int) error {
	for _, period := range periods {
		found := false
		for _, entry := range f.sessions {
			if entry.Period == period && entry.Date == f.start.Format(portal.DateLayout) {
				if !f.IsSelected(entry.ID) || f.SingleSelect() {
					if err := f.Toggle(entry.ID); err != nil {
						return err
					}
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: period %d", ErrUnknownSession, period)
		}
	}
	return nil
}

// FinalReason is the reason string sent to the portal.
func (f *Form) FinalReason() string {
	text := strings.TrimSpace(f.reason)
	if f.kind != TypeExcused {
		return text
	}
	if f.category == ReasonOther {
		return fmt.Sprintf("公欠(その他): %s", text)
	}
	return fmt.Sprintf("公欠: %s", f.category)
}

// Validate checks the form and returns the submission to send. No network
// call may be made when it fails.
func (f *Form) Validate() (Submission, error) {
	input := submissionInput{
		Type:         f.kind,
		Category:     f.category,
		Reason:       f.reason,
		TimetableIDs: f.Selected(),
		Start:        f.start,
		End:          f.end,
	}
	if err := validateSubmission(input); err != nil {
		return Submission{}, err
	}
	return Submission{
		Type:         f.kind,
		Reason:       f.FinalReason(),
		TimetableIDs: input.TimetableIDs,
	}, nil
}

// ResetAfterSubmit clears the free text of non-excused requests so the next
// application starts empty.
func (f *Form) ResetAfterSubmit() {
	if f.kind != TypeExcused {
		f.reason = ""
	}
}

func (f *Form) resetSelection() {
	f.selected = nil
	if f.NeedsReload() {
		f.sessions = nil
		f.loaded = false
		return
	}
	if f.SelectionLocked() {
		f.selectAll()
	}
}

func (f *Form) selectAll() {
	f.selected = make([]int, 0, len(f.sessions))
	for _, entry := range f.sessions {
		f.selected = append(f.selected, entry.ID)
	}
}

func (f *Form) hasSession(id int) bool {
	for _, entry := range f.sessions {
		if entry.ID == id {
			return true
		}
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func indexOf(values []int, target int) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}

func indexOfString(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}
