package sandbox

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kingrea/campus/internal/portal"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type loginRequest struct {
	Token string `json:"token"`
}

type majorRequest struct {
	MajorID *int `json:"major_id"`
}

type attendRequest struct {
	UserID      *int `json:"user_id"`
	TimetableID *int `json:"timetable_id"`
}

type statusRequest struct {
	UserID      *int    `json:"user_id"`
	TimetableID *int    `json:"timetable_id"`
	Status      *string `json:"status"`
	Reason      string  `json:"reason"`
}

type entryRequest struct {
	IDm string `json:"idm"`
}

type readRequest struct {
	NotificationID *int `json:"notification_id"`
}

func (srv *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", srv.health)

	api := e.Group("/api")
	api.POST("/users/auth/google", srv.login)
	api.POST("/attendance/entry", srv.recordEntry)

	auth := api.Group("", srv.requireStudent)
	auth.GET("/users/me", srv.me)
	auth.PUT("/users/me/major", srv.setMajor)
	auth.GET("/timetables", srv.timetable)
	auth.GET("/timetables/majors", srv.majors)
	auth.GET("/attendance/summary", srv.summary)
	auth.POST("/attendance/status", srv.updateStatus)
	auth.POST("/attendance/attend", srv.attend)
	auth.GET("/notifications", srv.notifications)
	auth.POST("/notifications/read", srv.markRead)
}

func (srv *Server) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, healthResponse{Status: string(srv.Status()), UptimeSeconds: srv.uptimeSeconds()})
}

func (srv *Server) login(ctx echo.Context) error {
	var req loginRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	email, ok := strings.CutPrefix(strings.TrimSpace(req.Token), devCredentialPrefix)
	if !ok || !strings.Contains(email, "@") {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Wrong credential: use dev:<email> in the sandbox"})
	}
	student := srv.data.Login(email)
	token, err := srv.IssueToken(student, srv.settings.TokenTTL)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return ctx.JSON(http.StatusOK, portal.LoginResult{
		User:        portal.GoogleUser{Email: student.Email, Name: student.Name, Sub: student.Sub},
		AccessToken: token,
	})
}

func (srv *Server) me(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, srv.data.Profile(currentStudent(ctx)))
}

func (srv *Server) setMajor(ctx echo.Context) error {
	var req majorRequest
	if err := ctx.Bind(&req); err != nil || req.MajorID == nil {
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "major_id is required"})
	}
	if err := srv.data.SetMajor(currentStudent(ctx).UserID, *req.MajorID); err != nil {
		if errors.Is(err, errUnknownMajor) {
			return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid major_id"})
		}
		return ctx.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to update major"})
	}
	return ctx.JSON(http.StatusOK, messageResponse{Message: "Major updated successfully"})
}

func (srv *Server) timetable(ctx echo.Context) error {
	student := currentStudent(ctx)
	majorID := 0
	if student.MajorID != nil {
		majorID = *student.MajorID
	}
	if raw := ctx.QueryParam("major_id"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			majorID = parsed
		}
	}
	var start, end time.Time
	startRaw, endRaw := ctx.QueryParam("start_date"), ctx.QueryParam("end_date")
	if startRaw == "" || endRaw == "" {
		today := srv.now()
		offset := (int(today.Weekday()) + 6) % 7
		start = today.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 6)
	} else {
		var err1, err2 error
		start, err1 = time.Parse(portal.DateLayout, startRaw)
		end, err2 = time.Parse(portal.DateLayout, endRaw)
		if err1 != nil || err2 != nil {
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid date format. Use YYYY-MM-DD"})
		}
	}
	return ctx.JSON(http.StatusOK, srv.data.Timetable(student.UserID, start, end, majorID))
}

func (srv *Server) majors(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string][]portal.Major{"majors": srv.data.Majors()})
}

func (srv *Server) summary(ctx echo.Context) error {
	raw := ctx.QueryParam("user_id")
	if raw == "" {
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "User ID is required"})
	}
	userID, err := strconv.Atoi(raw)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "User ID must be a number"})
	}
	if userID != currentStudent(ctx).UserID {
		return ctx.JSON(http.StatusForbidden, messageResponse{Message: "Forbidden"})
	}
	return ctx.JSON(http.StatusOK, srv.data.Summary(userID))
}

func (srv *Server) updateStatus(ctx echo.Context) error {
	var req statusRequest
	if err := ctx.Bind(&req); err != nil || req.UserID == nil || req.TimetableID == nil || req.Status == nil {
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "User ID, Timetable ID, and Status are required"})
	}
	status := portal.Status(*req.Status)
	if !status.Valid() {
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid status"})
	}
	if *req.UserID != currentStudent(ctx).UserID {
		return ctx.JSON(http.StatusForbidden, messageResponse{Message: "Forbidden"})
	}
	if srv.failStatus(*req.TimetableID) {
		return ctx.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to update status"})
	}
	update := portal.StatusUpdate{UserID: *req.UserID, TimetableID: *req.TimetableID, Status: status, Reason: req.Reason}
	if err := srv.data.UpdateStatus(update); err != nil {
		return ctx.JSON(http.StatusNotFound, messageResponse{Message: "Timetable not found"})
	}
	srv.logger.Printf("sandbox: user %d marked %d as %s", update.UserID, update.TimetableID, update.Status)
	return ctx.JSON(http.StatusOK, messageResponse{Message: "Status updated successfully"})
}

func (srv *Server) attend(ctx echo.Context) error {
	var req attendRequest
	if err := ctx.Bind(&req); err != nil || req.UserID == nil || req.TimetableID == nil {
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "User ID and Timetable ID are required"})
	}
	if *req.UserID != currentStudent(ctx).UserID {
		return ctx.JSON(http.StatusForbidden, messageResponse{Message: "Forbidden"})
	}
	status, err := srv.data.Attend(*req.UserID, *req.TimetableID)
	switch {
	case errors.Is(err, errNoCards):
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "No cards registered for this user"})
	case errors.Is(err, errNoEntry):
		return ctx.JSON(http.StatusForbidden, messageResponse{Message: "No recent entry record found"})
	case errors.Is(err, errUnknownClass):
		return ctx.JSON(http.StatusNotFound, messageResponse{Message: "Timetable not found"})
	case err != nil:
		return ctx.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to register attendance"})
	}
	return ctx.JSON(http.StatusOK, portal.AttendResult{Message: "Attendance registered successfully", Status: status})
}

func (srv *Server) recordEntry(ctx echo.Context) error {
	var req entryRequest
	if err := ctx.Bind(&req); err != nil || strings.TrimSpace(req.IDm) == "" {
		return ctx.JSON(http.StatusBadRequest, messageResponse{Message: "IDm is required"})
	}
	srv.data.RecordEntry(req.IDm)
	return ctx.JSON(http.StatusOK, messageResponse{Message: "Entry recorded successfully"})
}

func (srv *Server) notifications(ctx echo.Context) error {
	limit, err := strconv.Atoi(ctx.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	return ctx.JSON(http.StatusOK, srv.data.Notifications(currentStudent(ctx), limit))
}

func (srv *Server) markRead(ctx echo.Context) error {
	var req readRequest
	if err := ctx.Bind(&req); err != nil || req.NotificationID == nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "notification_id is required"})
	}
	if !srv.data.MarkRead(currentStudent(ctx).UserID, *req.NotificationID) {
		return ctx.JSON(http.StatusNotFound, errorResponse{Error: "notification not found"})
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"ok": true})
}
