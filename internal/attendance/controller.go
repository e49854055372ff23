package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/campus/internal/portal"
)

// Portal is the part of the portal API the application page needs.
type Portal interface {
	StatusUpdater
	Me(ctx context.Context) (portal.User, error)
	Timetable(ctx context.Context, q portal.TimetableQuery) ([]portal.TimetableEntry, error)
	Summary(ctx context.Context, userID int) (portal.AttendanceSummary, error)
}

// ErrNotOpened is returned by Submit before Open has loaded the profile.
var ErrNotOpened = errors.New("attendance: profile not loaded")

// Report describes the outcome of Controller.Submit.
type Report struct {
	Message    string
	Submission Submission
	Result     BatchResult
	// SummaryRefreshed is true when the summary was fetched again afterwards.
	SummaryRefreshed bool
}

// Snapshot is a copy of the page state, safe to read while requests run.
type Snapshot struct {
	User            portal.User
	Type            ApplicationType
	Mode            SelectionMode
	Start           time.Time
	End             time.Time
	Category        string
	Categories      []string
	Reason          string
	Sessions        []portal.TimetableEntry
	Selected        []int
	SelectionLocked bool
	SingleSelect    bool
	NeedsFreeText   bool
	Loading         bool
	Summary         *portal.AttendanceSummary
}

// IsSelected reports whether id is part of the selection.
func (s Snapshot) IsSelected(id int) bool {
	return indexOf(s.Selected, id) >= 0
}

// Controller drives one attendance application page: it owns the form, the
// loaded summary and the requests that keep both current.
type Controller struct {
	portal    Portal
	submitter *Submitter
	logger    Logger

	mu      sync.Mutex
	form    *Form
	user    portal.User
	summary *portal.AttendanceSummary
	gen     uint64
	loading bool
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithSubmitterOptions forwards options to the batch submitter.
func WithSubmitterOptions(opts ...SubmitterOption) ControllerOption {
	return func(c *Controller) {
		c.submitter = NewSubmitter(c.portal, append([]SubmitterOption{WithLogger(c.logger)}, opts...)...)
	}
}

// WithControllerLogger records activity to l.
func WithControllerLogger(l Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
			c.submitter.logger = l
		}
	}
}

// NewController binds form to p.
func NewController(p Portal, form *Form, opts ...ControllerOption) *Controller {
	c := &Controller{portal: p, form: form, logger: nopLogger{}}
	c.submitter = NewSubmitter(p)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Open loads the profile, the summary and the sessions of the active range.
func (c *Controller) Open(ctx context.Context) error {
	user, err := c.portal.Me(ctx)
	if err != nil {
		return fmt.Errorf("attendance: load profile: %w", err)
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	if err := c.RefreshSummary(ctx); err != nil {
		return err
	}
	return c.Reload(ctx)
}

// Reload fetches the sessions of the form's active range. A response that
// arrives after the range changed again is dropped.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	start, end := c.form.Range()
	c.loading = true
	c.mu.Unlock()

	entries, err := c.portal.Timetable(ctx, portal.TimetableQuery{Start: start, End: end})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.logger.Printf("dropped timetable for %s..%s: superseded", start.Format(portal.DateLayout), end.Format(portal.DateLayout))
		return nil
	}
	c.loading = false
	if err != nil {
		return fmt.Errorf("attendance: load sessions: %w", err)
	}
	if !c.form.LoadSessions(start, end, entries) {
		c.logger.Printf("dropped timetable for %s..%s: range changed", start.Format(portal.DateLayout), end.Format(portal.DateLayout))
	}
	return nil
}

// RefreshSummary re-fetches the attendance summary.
func (c *Controller) RefreshSummary(ctx context.Context) error {
	c.mu.Lock()
	userID := c.user.UserID
	c.mu.Unlock()
	summary, err := c.portal.Summary(ctx, userID)
	if err != nil {
		return fmt.Errorf("attendance: load summary: %w", err)
	}
	c.mu.Lock()
	c.summary = &summary
	c.mu.Unlock()
	return nil
}

// Edit runs fn against the form under the controller's lock. It reports
// whether the form now needs its sessions reloaded.
func (c *Controller) Edit(fn func(*Form) error) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := fn(c.form)
	return c.form.NeedsReload(), err
}

// Snapshot copies the current page state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.form
	snap := Snapshot{
		User:            c.user,
		Type:            f.Type(),
		Mode:            f.Mode(),
		Start:           f.Start(),
		End:             f.End(),
		Category:        f.Category(),
		Categories:      f.Categories(),
		Reason:          f.Reason(),
		Sessions:        f.Sessions(),
		Selected:        f.Selected(),
		SelectionLocked: f.SelectionLocked(),
		SingleSelect:    f.SingleSelect(),
		NeedsFreeText:   f.NeedsFreeText(),
		Loading:         c.loading,
	}
	if c.summary != nil {
		s := *c.summary
		snap.Summary = &s
	}
	return snap
}

// Submit validates the form, sends one status update per selected session
// and refreshes the summary. Validation failures never reach the network.
func (c *Controller) Submit(ctx context.Context) (Report, error) {
	c.mu.Lock()
	sub, err := c.form.Validate()
	userID := c.user.UserID
	c.mu.Unlock()
	if err != nil {
		if ve, ok := AsValidationError(err); ok {
			return Report{Message: ve.Message}, err
		}
		return Report{Message: portal.MessageGeneric}, err
	}
	if userID == 0 {
		return Report{Message: portal.MessageGeneric}, ErrNotOpened
	}

	result, batchErr := c.submitter.Submit(ctx, userID, sub)
	report := Report{Submission: sub, Result: result}

	if result.Attempted() > 0 && !portal.IsUnauthorized(batchErr) {
		if err := c.RefreshSummary(ctx); err != nil {
			c.logger.Printf("refresh summary after submit: %v", err)
		} else {
			report.SummaryRefreshed = true
		}
	}

	switch {
	case batchErr == nil:
		c.mu.Lock()
		c.form.ResetAfterSubmit()
		c.mu.Unlock()
		report.Message = MessageSubmitted
	case result.Succeeded() > 0:
		report.Message = fmt.Sprintf(messagePartialTemplate, result.Succeeded(), result.Total())
	default:
		report.Message = portal.UserMessage(batchErr)
	}
	return report, batchErr
}
