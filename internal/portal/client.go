// Package portal is the HTTP client for the student-portal REST API.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/campus/internal/session"
)

const maxResponseBytes int64 = 4 << 20

// Logger records request activity. It matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Client issues calls against the portal API. Every authenticated call reads
// its token from the session store.
type Client struct {
	base    *url.URL
	http    *http.Client
	session *session.Store
	logger  Logger
	newID   func() string
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (and with it the timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger records request lines to l.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestIDs overrides the X-Request-ID generator.
func WithRequestIDs(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewClient builds a client for the API rooted at baseURL.
func NewClient(baseURL string, store *session.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("portal: session store is required")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("portal: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("portal: base url %q must be absolute", baseURL)
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: 10 * time.Second},
		session: store,
		logger:  nopLogger{},
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Session returns the store backing this client.
func (c *Client) Session() *session.Store {
	return c.session
}

// LoginWithGoogle exchanges a Google ID token for a portal access token and
// stores it in the session.
func (c *Client) LoginWithGoogle(ctx context.Context, credential string) (LoginResult, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return LoginResult{}, fmt.Errorf("portal: google credential is required")
	}
	var out LoginResult
	if err := c.do(ctx, request{
		op:     "login",
		method: http.MethodPost,
		path:   "/users/auth/google",
		body:   map[string]string{"token": credential},
		public: true,
	}, &out); err != nil {
		return LoginResult{}, err
	}
	if out.AccessToken == "" {
		return LoginResult{}, &APIError{Op: "login", Status: http.StatusOK, Message: "access_token missing from response"}
	}
	if err := c.session.Save(out.AccessToken); err != nil {
		return LoginResult{}, err
	}
	c.logger.Printf("login · %s", out.User.Email)
	return out, nil
}

// Logout forgets the stored token.
func (c *Client) Logout() error {
	return c.session.Clear("")
}

// Me fetches the current user's profile.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.do(ctx, request{op: "me", method: http.MethodGet, path: "/users/me"}, &out)
	return out, err
}

// SetMajor records the user's major.
func (c *Client) SetMajor(ctx context.Context, majorID int) error {
	return c.do(ctx, request{
		op:     "set major",
		method: http.MethodPut,
		path:   "/users/me/major",
		body:   map[string]int{"major_id": majorID},
	}, nil)
}

// Timetable fetches the sessions in q's date range.
func (c *Client) Timetable(ctx context.Context, q TimetableQuery) ([]TimetableEntry, error) {
	query := url.Values{}
	query.Set("start_date", q.Start.Format(DateLayout))
	query.Set("end_date", q.End.Format(DateLayout))
	if q.MajorID > 0 {
		query.Set("major_id", strconv.Itoa(q.MajorID))
	}
	var out []TimetableEntry
	if err := c.do(ctx, request{op: "timetable", method: http.MethodGet, path: "/timetables/", query: query}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Majors lists the majors of the user's department.
func (c *Client) Majors(ctx context.Context) ([]Major, error) {
	var out majorsResponse
	if err := c.do(ctx, request{op: "majors", method: http.MethodGet, path: "/timetables/majors"}, &out); err != nil {
		return nil, err
	}
	return out.Majors, nil
}

// Summary fetches the attendance aggregate for userID.
func (c *Client) Summary(ctx context.Context, userID int) (AttendanceSummary, error) {
	query := url.Values{}
	query.Set("user_id", strconv.Itoa(userID))
	var out AttendanceSummary
	err := c.do(ctx, request{op: "summary", method: http.MethodGet, path: "/attendance/summary", query: query}, &out)
	return out, err
}

// UpdateStatus changes the status of a single session.
func (c *Client) UpdateStatus(ctx context.Context, update StatusUpdate) error {
	if !update.Status.Valid() {
		return fmt.Errorf("portal: invalid status %q", update.Status)
	}
	return c.do(ctx, request{op: "update status", method: http.MethodPost, path: "/attendance/status", body: update}, nil)
}

// Attend registers attendance for a session; the portal decides the status.
func (c *Client) Attend(ctx context.Context, userID, timetableID int) (AttendResult, error) {
	var out AttendResult
	err := c.do(ctx, request{
		op:     "attend",
		method: http.MethodPost,
		path:   "/attendance/attend",
		body:   map[string]int{"user_id": userID, "timetable_id": timetableID},
	}, &out)
	return out, err
}

// Notifications lists up to limit notifications, newest first.
func (c *Client) Notifications(ctx context.Context, limit int) ([]Notification, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []Notification
	if err := c.do(ctx, request{op: "notifications", method: http.MethodGet, path: "/notifications/", query: query}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int) error {
	return c.do(ctx, request{
		op:     "mark read",
		method: http.MethodPost,
		path:   "/notifications/read",
		body:   map[string]int{"notification_id": id},
	}, nil)
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	public bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var token string
	if !r.public {
		t, err := c.session.Token()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		token = t
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("portal: %s: encode body: %w", r.op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), body)
	if err != nil {
		return fmt.Errorf("portal: %s: build request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := c.newID()
	req.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("%s %s · %s · failed: %v", r.method, r.path, requestID, err)
		return &NetworkError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Op: r.op, Err: err}
	}
	c.logger.Printf("%s %s · %s · %d in %s", r.method, r.path, requestID, resp.StatusCode, time.Since(started).Round(time.Millisecond))

	switch {
	case resp.StatusCode == http.StatusUnauthorized && !r.public:
		cleared, err := c.session.ClearIfToken(token, "unauthorized")
		if err != nil {
			c.logger.Printf("clear session after 401: %v", err)
		} else if !cleared {
			c.logger.Printf("%s %s · 401 for a replaced token, keeping the current session", r.method, r.path)
		}
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Op: r.op, Status: resp.StatusCode, Message: decodeErrorBody(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("portal: %s: decode response: %w", r.op, err)
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
