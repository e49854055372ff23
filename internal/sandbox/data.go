package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/campus/internal/attendance"
	"github.com/kingrea/campus/internal/portal"
)

// DemoEmail is the seeded student; log in with "dev:" + DemoEmail.
const DemoEmail = "student@example.ac.jp"

// DemoCard is the IC card registered to the demo student.
const DemoCard = "0123456789ABCDEF"

const (
	entryWindow   = 30 * time.Minute
	lateAfter     = time.Minute
	absentAfter   = 15 * time.Minute
	historyLimit  = 10
	dayMultiplier = 100
)

var (
	errNoCards      = errors.New("sandbox: no cards registered")
	errNoEntry      = errors.New("sandbox: no recent entry")
	errUnknownMajor = errors.New("sandbox: unknown major")
	errUnknownClass = errors.New("sandbox: unknown timetable entry")
)

var calendarEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type period struct {
	start, end string
}

var periods = map[int]period{
	1: {"09:15:00", "10:45:00"},
	2: {"11:00:00", "12:30:00"},
	3: {"13:30:00", "15:00:00"},
	4: {"15:15:00", "16:45:00"},
}

type slot struct {
	period  int
	subject string
	teacher string
	major   int
}

// The sandbox school week. Major-specific classes share a period.
var weeklySchedule = map[time.Weekday][]slot{
	time.Monday: {
		{1, "プログラミング基礎", "佐藤", 0},
		{2, "データベース", "鈴木", 0},
		{3, "ビジネス日本語", "高橋", 0},
		{4, "Webアプリ開発", "伊藤", 1},
		{4, "ネットワーク構築", "田中", 2},
	},
	time.Tuesday: {
		{1, "アルゴリズム", "渡辺", 0},
		{2, "プログラミング基礎", "佐藤", 0},
		{3, "キャリアデザイン", "山本", 0},
	},
	time.Wednesday: {
		{1, "データベース", "鈴木", 0},
		{2, "情報セキュリティ", "中村", 0},
		{3, "Webアプリ開発", "伊藤", 1},
		{3, "サーバー管理", "小林", 2},
		{4, "ホームルーム", "山本", 0},
	},
	time.Thursday: {
		{1, "アルゴリズム", "渡辺", 0},
		{2, "ビジネス日本語", "高橋", 0},
		{3, "情報セキュリティ", "中村", 0},
	},
	time.Friday: {
		{1, "システム設計", "加藤", 0},
		{2, "プログラミング基礎", "佐藤", 0},
		{3, "モバイルアプリ開発", "吉田", 1},
		{3, "クラウド基盤", "小林", 2},
	},
	time.Saturday: {
		{1, "資格対策", "加藤", 0},
		{2, "資格対策", "加藤", 0},
	},
}

// Student is a sandbox account.
type Student struct {
	UserID  int
	Sub     string
	Email   string
	Name    string
	ClassID int
	MajorID *int
	Cards   []string
}

type classSession struct {
	id   int
	date time.Time
	slot slot
}

func (c classSession) entry(status *portal.Status) portal.TimetableEntry {
	p := periods[c.slot.period]
	e := portal.TimetableEntry{
		ID:               c.id,
		Date:             c.date.Format(portal.DateLayout),
		Period:           c.slot.period,
		SubjectName:      c.slot.subject,
		TeacherName:      c.slot.teacher,
		StartTime:        p.start,
		EndTime:          p.end,
		AttendanceStatus: status,
	}
	if c.slot.major > 0 {
		major := c.slot.major
		e.MajorID = &major
	}
	return e
}

func (c classSession) startsAt(loc *time.Location) time.Time {
	clock, _ := time.Parse("15:04:05", periods[c.slot.period].start)
	y, m, d := c.date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc)
}

type recordKey struct {
	userID int
	id     int
}

type record struct {
	status   portal.Status
	reason   *string
	markedAt time.Time
}

type notification struct {
	portal.Notification
	majorID int
}

// Data is the in-memory state behind the sandbox API.
type Data struct {
	mu    sync.Mutex
	clock func() time.Time

	students      map[string]*Student
	nextUserID    int
	majors        []portal.Major
	records       map[recordKey]*record
	entries       map[string]time.Time
	notifications []notification
	reads         map[recordKey]time.Time
	updates       []portal.StatusUpdate
}

// NewData seeds one student, two majors and a few notifications.
func NewData(clock func() time.Time) *Data {
	if clock == nil {
		clock = time.Now
	}
	d := &Data{
		clock:      clock,
		students:   make(map[string]*Student),
		nextUserID: 1,
		majors:     []portal.Major{{ID: 1, Name: "情報システム専攻"}, {ID: 2, Name: "ネットワーク専攻"}},
		records:    make(map[recordKey]*record),
		entries:    make(map[string]time.Time),
		reads:      make(map[recordKey]time.Time),
	}
	demo := d.register(DemoEmail, "山田 太郎")
	major := 1
	demo.MajorID = &major
	demo.Cards = []string{DemoCard}

	created := clock().Add(-48 * time.Hour).Format("2006-01-02 15:04:05")
	d.notifications = []notification{
		{Notification: portal.Notification{ID: 1, Type: "info", Message: "前期定期試験の時間割を公開しました", Scope: "department", CreatedAt: &created}},
		{Notification: portal.Notification{ID: 2, Type: "cancel", Message: "金曜3限 モバイルアプリ開発は休講です", Scope: "major", CreatedAt: &created}, majorID: 1},
		{Notification: portal.Notification{ID: 3, Type: "cancel", Message: "金曜3限 クラウド基盤は休講です", Scope: "major", CreatedAt: &created}, majorID: 2},
		{Notification: portal.Notification{ID: 4, Type: "warning", Message: "出席率が80%を下回ると留年の対象になります", Scope: "class", CreatedAt: &created}},
	}
	return d
}

func (d *Data) register(email, name string) *Student {
	sub := "dev:" + email
	s := &Student{UserID: d.nextUserID, Sub: sub, Email: email, Name: name, ClassID: 1}
	d.nextUserID++
	d.students[sub] = s
	return s
}

// Login returns the student for a dev credential, registering new ones.
func (d *Data) Login(email string) Student {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.students["dev:"+email]; ok {
		return *s
	}
	name := email
	if at := strings.Index(email, "@"); at > 0 {
		name = email[:at]
	}
	return *d.register(email, name)
}

// StudentBySub looks a student up by token subject.
func (d *Data) StudentBySub(sub string) (Student, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.students[sub]
	if !ok {
		return Student{}, false
	}
	return *s, true
}

// Majors lists the sandbox majors.
func (d *Data) Majors() []portal.Major {
	return append([]portal.Major(nil), d.majors...)
}

// Profile renders the /users/me response.
func (d *Data) Profile(s Student) portal.User {
	classID := s.ClassID
	user := portal.User{
		UserID:              s.UserID,
		Name:                s.Name,
		Email:               s.Email,
		ClassID:             &classID,
		MajorID:             s.MajorID,
		NeedsMajorSelection: s.MajorID == nil,
	}
	if user.NeedsMajorSelection {
		user.AvailableMajors = d.Majors()
	}
	return user
}

// SetMajor records a student's major.
func (d *Data) SetMajor(userID, majorID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	known := false
	for _, m := range d.majors {
		known = known || m.ID == majorID
	}
	if !known {
		return errUnknownMajor
	}
	for _, s := range d.students {
		if s.UserID == userID {
			id := majorID
			s.MajorID = &id
			return nil
		}
	}
	return fmt.Errorf("sandbox: user %d not found", userID)
}

// Timetable lists the sessions between start and end for majorID (common
// classes always included), with the user's recorded status.
func (d *Data) Timetable(userID int, start, end time.Time, majorID int) []portal.TimetableEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []portal.TimetableEntry{}
	for day := utcDate(start); !day.After(utcDate(end)); day = day.AddDate(0, 0, 1) {
		for _, c := range sessionsOn(day) {
			if c.slot.major != 0 && c.slot.major != majorID {
				continue
			}
			var status *portal.Status
			if rec, ok := d.records[recordKey{userID, c.id}]; ok {
				st := rec.status
				status = &st
			}
			out = append(out, c.entry(status))
		}
	}
	return out
}

// UpdateStatus upserts a status record. An empty reason keeps the previous one.
func (d *Data) UpdateStatus(update portal.StatusUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := sessionByID(update.TimetableID); !ok {
		return errUnknownClass
	}
	d.updates = append(d.updates, update)
	key := recordKey{update.UserID, update.TimetableID}
	rec, ok := d.records[key]
	if !ok {
		rec = &record{}
		d.records[key] = rec
	}
	rec.status = update.Status
	rec.markedAt = d.clock()
	if update.Reason != "" {
		reason := update.Reason
		rec.reason = &reason
	}
	return nil
}

// Updates returns every status update received, in order.
func (d *Data) Updates() []portal.StatusUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]portal.StatusUpdate(nil), d.updates...)
}

// RecordEntry logs a gate entry for an IC card.
func (d *Data) RecordEntry(idm string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[strings.ToUpper(strings.TrimSpace(idm))] = d.clock()
}

// Attend derives the status from the latest gate entry and records it.
func (d *Data) Attend(userID, timetableID int) (portal.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var student *Student
	for _, s := range d.students {
		if s.UserID == userID {
			student = s
		}
	}
	if student == nil || len(student.Cards) == 0 {
		return "", errNoCards
	}
	now := d.clock()
	var entered time.Time
	for _, card := range student.Cards {
		if at, ok := d.entries[card]; ok && now.Sub(at) <= entryWindow && at.After(entered) {
			entered = at
		}
	}
	if entered.IsZero() {
		return "", errNoEntry
	}
	c, ok := sessionByID(timetableID)
	if !ok {
		return "", errUnknownClass
	}
	status := portal.StatusPresent
	begins := c.startsAt(now.Location())
	switch {
	case entered.After(begins.Add(absentAfter)):
		status = portal.StatusAbsent
	case entered.After(begins.Add(lateAfter)):
		status = portal.StatusLate
	}
	key := recordKey{userID, timetableID}
	if _, exists := d.records[key]; !exists {
		d.records[key] = &record{status: status, markedAt: now}
	}
	return d.records[key].status, nil
}

// Summary aggregates a user's records.
func (d *Data) Summary(userID int) portal.AttendanceSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	summary := portal.AttendanceSummary{SubjectSummary: []portal.SubjectSummary{}, RecentHistory: []portal.HistoryEntry{}}
	subjects := map[string]*portal.SubjectSummary{}
	var history []portal.HistoryEntry
	var historyTimes []time.Time
	for key, rec := range d.records {
		if key.userID != userID {
			continue
		}
		c, ok := sessionByID(key.id)
		if !ok {
			continue
		}
		summary.Total++
		sub := subjects[c.slot.subject]
		if sub == nil {
			sub = &portal.SubjectSummary{SubjectName: c.slot.subject}
			subjects[c.slot.subject] = sub
		}
		sub.Total++
		switch rec.status {
		case portal.StatusPresent:
			summary.Present++
			sub.Present++
		case portal.StatusAbsent:
			summary.Absent++
			sub.Absent++
		case portal.StatusLate:
			summary.Late++
			sub.Late++
		case portal.StatusEarlyLeave:
			summary.EarlyLeave++
			sub.Early++
		case portal.StatusExcused:
			summary.Excused++
			sub.PublicAbsent++
		}
		if rec.status != portal.StatusPresent {
			history = append(history, portal.HistoryEntry{
				Date:        c.date.Format(portal.DateLayout),
				Period:      c.slot.period,
				SubjectName: c.slot.subject,
				Status:      rec.status,
				Reason:      rec.reason,
				MarkedAt:    rec.markedAt.Format("2006-01-02 15:04:05"),
			})
			historyTimes = append(historyTimes, rec.markedAt)
		}
	}
	summary.AttendanceRate = attendance.OverallRate(summary)
	for _, sub := range subjects {
		summary.SubjectSummary = append(summary.SubjectSummary, *sub)
	}
	sort.Slice(summary.SubjectSummary, func(i, j int) bool {
		return summary.SubjectSummary[i].SubjectName < summary.SubjectSummary[j].SubjectName
	})
	idx := make([]int, len(history))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		if !historyTimes[a].Equal(historyTimes[b]) {
			return historyTimes[a].After(historyTimes[b])
		}
		if history[a].Date != history[b].Date {
			return history[a].Date > history[b].Date
		}
		return history[a].Period > history[b].Period
	})
	for i, k := range idx {
		if i == historyLimit {
			break
		}
		summary.RecentHistory = append(summary.RecentHistory, history[k])
	}
	return summary
}

// Notifications lists the student's notifications, newest first.
func (d *Data) Notifications(s Student, limit int) []portal.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []portal.Notification{}
	for i := len(d.notifications) - 1; i >= 0; i-- {
		n := d.notifications[i]
		if n.majorID != 0 && (s.MajorID == nil || *s.MajorID != n.majorID) {
			continue
		}
		item := n.Notification
		if at, ok := d.reads[recordKey{s.UserID, n.ID}]; ok {
			readAt := at.Format("2006-01-02 15:04:05")
			item.IsRead = true
			item.ReadAt = &readAt
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// MarkRead marks a notification read for userID.
func (d *Data) MarkRead(userID, notificationID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.notifications {
		if n.ID == notificationID {
			if _, done := d.reads[recordKey{userID, n.ID}]; !done {
				d.reads[recordKey{userID, n.ID}] = d.clock()
			}
			return true
		}
	}
	return false
}

// SessionID returns the ID of the index-th class on date, for tests and demos.
func SessionID(date time.Time, index int) int {
	return dayNumber(utcDate(date))*dayMultiplier + index
}

func sessionsOn(day time.Time) []classSession {
	slots := weeklySchedule[day.Weekday()]
	out := make([]classSession, 0, len(slots))
	base := dayNumber(day) * dayMultiplier
	for i, s := range slots {
		out = append(out, classSession{id: base + i, date: day, slot: s})
	}
	return out
}

func sessionByID(id int) (classSession, bool) {
	if id <= 0 {
		return classSession{}, false
	}
	day := calendarEpoch.AddDate(0, 0, id/dayMultiplier)
	slots := weeklySchedule[day.Weekday()]
	index := id % dayMultiplier
	if index >= len(slots) {
		return classSession{}, false
	}
	return classSession{id: id, date: day, slot: slots[index]}, true
}

func dayNumber(day time.Time) int {
	return int(day.Sub(calendarEpoch).Hours() / 24)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
