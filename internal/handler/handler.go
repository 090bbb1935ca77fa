// Package handler exposes the attendance service over HTTP.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/export"
)

// Service is the part of attendance.Service the handlers call.
type Service interface {
	DashboardStats(ctx context.Context, callerID int64) (*attendance.Dashboard, error)
	Profile(ctx context.Context, callerID int64) (*attendance.Instructor, error)
	UpdateProfile(ctx context.Context, callerID int64, req attendance.UpdateProfileRequest) (*attendance.Instructor, error)

	CreateClass(ctx context.Context, callerID int64, req attendance.CreateClassRequest) (*attendance.Class, error)
	ListClasses(ctx context.Context, callerID int64) ([]attendance.ClassOverview, error)
	UpdateClass(ctx context.Context, callerID, classID int64, req attendance.UpdateClassRequest) (*attendance.Class, error)
	DeleteClass(ctx context.Context, callerID, classID int64) error

	Enroll(ctx context.Context, callerID, classID int64, req attendance.EnrollRequest) (*attendance.EnrollResult, error)
	ListActiveStudents(ctx context.Context, callerID, classID int64) ([]attendance.EnrolledStudent, error)
	UpdateStudent(ctx context.Context, callerID, studentID int64, req attendance.UpdateStudentRequest) (*attendance.Student, error)
	SetEnrollmentStatus(ctx context.Context, callerID, classID, studentID int64, status attendance.EnrollmentStatus) error

	MarkByScan(ctx context.Context, callerID, studentID, classID int64) (*attendance.ScanResult, error)
	MarkByScanPayload(ctx context.Context, callerID int64, payload string) (*attendance.ScanResult, error)
	MarkManual(ctx context.Context, callerID, classID int64, day attendance.Date, entries []attendance.ManualEntry) (*attendance.ManualResult, error)
	ClassAttendance(ctx context.Context, callerID, classID int64, day attendance.Date) ([]attendance.DayRecord, error)

	ClassReport(ctx context.Context, callerID, classID int64) (*attendance.ClassReport, error)
	StudentHistory(ctx context.Context, callerID, studentID, classID int64) ([]attendance.HistoryEntry, error)
}

// ErrorCounter counts errors by kind.
type ErrorCounter interface {
	CoreError(kind attendance.Kind)
}

type Handler struct {
	svc    Service
	log    *zap.Logger
	errors ErrorCounter
}

// New builds the handlers. errs may be nil.
func New(svc Service, logger *zap.Logger, errs ErrorCounter) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, log: logger, errors: errs}
}

// Register mounts every route on rg. rg must already resolve the caller.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/dashboard", h.Dashboard)
	rg.GET("/profile", h.GetProfile)
	rg.PUT("/profile", h.UpdateProfile)

	classes := rg.Group("/classes")
	{
		classes.GET("", h.ListClasses)
		classes.POST("", h.CreateClass)
		classes.PUT("/:id", h.UpdateClass)
		classes.DELETE("/:id", h.DeleteClass)

		classes.GET("/:id/students", h.ListStudents)
		classes.POST("/:id/enrollments", h.Enroll)
		classes.PUT("/:id/enrollments/:studentId", h.SetEnrollmentStatus)
		classes.GET("/:id/students/:studentId/history", h.StudentHistory)

		classes.POST("/:id/attendance", h.MarkManual)
		classes.GET("/:id/attendance", h.ClassAttendance)

		classes.GET("/:id/report", h.ClassReport)
		classes.GET("/:id/report/export", h.ExportClassReport)
	}

	rg.PUT("/students/:id", h.UpdateStudent)
	rg.POST("/attendance/scan", h.Scan)
}

// caller returns the authenticated instructor id. The auth middleware runs
// first, so a miss here means the route was mounted without it.
func (h *Handler) caller(c *gin.Context) (int64, bool) {
	id, ok := auth.CallerID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"kind": "unauthenticated", "message": "caller not resolved"},
		})
	}
	return id, ok
}

// parseIDParam reads a positive id path parameter; 0 means a response was
// already written.
func (h *Handler) parseIDParam(c *gin.Context, name string) int64 {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name+" parameter")
		return 0
	}
	return id
}

func (h *Handler) bind(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		badRequest(c, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) Dashboard(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	d, err := h.svc.DashboardStats(c.Request.Context(), caller)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) GetProfile(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	p, err := h.svc.Profile(c.Request.Context(), caller)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req attendance.UpdateProfileRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.svc.UpdateProfile(c.Request.Context(), caller, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ListClasses(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	classes, err := h.svc.ListClasses(c.Request.Context(), caller)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if classes == nil {
		classes = []attendance.ClassOverview{}
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (h *Handler) CreateClass(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req attendance.CreateClassRequest
	if !h.bind(c, &req) {
		return
	}
	class, err := h.svc.CreateClass(c.Request.Context(), caller, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, class)
}

func (h *Handler) UpdateClass(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req attendance.UpdateClassRequest
	if !h.bind(c, &req) {
		return
	}
	class, err := h.svc.UpdateClass(c.Request.Context(), caller, id, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (h *Handler) DeleteClass(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	if err := h.svc.DeleteClass(c.Request.Context(), caller, id); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListStudents(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	students, err := h.svc.ListActiveStudents(c.Request.Context(), caller, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if students == nil {
		students = []attendance.EnrolledStudent{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) Enroll(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req attendance.EnrollRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.svc.Enroll(c.Request.Context(), caller, id, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) SetEnrollmentStatus(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	classID := h.parseIDParam(c, "id")
	if classID == 0 {
		return
	}
	studentID := h.parseIDParam(c, "studentId")
	if studentID == 0 {
		return
	}
	var req struct {
		Status attendance.EnrollmentStatus `json:"status"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.SetEnrollmentStatus(c.Request.Context(), caller, classID, studentID, req.Status); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": studentID, "class_id": classID, "status": req.Status})
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req attendance.UpdateStudentRequest
	if !h.bind(c, &req) {
		return
	}
	st, err := h.svc.UpdateStudent(c.Request.Context(), caller, id, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type scanRequest struct {
	Payload   string `json:"payload"`
	StudentID int64  `json:"student_id"`
	ClassID   int64  `json:"class_id"`
}

// Scan records a QR scan. The body carries either the raw payload or the
// decoded student and class ids.
func (h *Handler) Scan(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req scanRequest
	if !h.bind(c, &req) {
		return
	}
	var (
		res *attendance.ScanResult
		err error
	)
	if strings.TrimSpace(req.Payload) != "" {
		res, err = h.svc.MarkByScanPayload(c.Request.Context(), caller, req.Payload)
	} else {
		res, err = h.svc.MarkByScan(c.Request.Context(), caller, req.StudentID, req.ClassID)
	}
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type manualRequest struct {
	Date    string         `json:"date"`
	Records []manualRecord `json:"records"`
}

// manualRecord decodes one batch entry without ever failing, so a malformed
// entry reaches the service as an invalid id or status and is skipped there
// instead of rejecting the whole batch.
type manualRecord attendance.ManualEntry

func (m *manualRecord) UnmarshalJSON(data []byte) error {
	*m = manualRecord{}
	var raw struct {
		StudentID json.RawMessage `json:"student_id"`
		Status    json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	m.StudentID = lenientID(raw.StudentID)
	m.Status = lenientStatus(raw.Status)
	return nil
}

// lenientID accepts a JSON integer, an integral float or a numeric string.
// Anything else yields 0.
func lenientID(raw json.RawMessage) int64 {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0
	}
	return int64(f)
}

// lenientStatus returns a JSON string as is, "" for null or a missing field,
// and the raw text of any other value so it fails status validation.
func lenientStatus(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (h *Handler) MarkManual(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var req manualRequest
	if !h.bind(c, &req) {
		return
	}
	day, err := attendance.ParseDate(req.Date)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	entries := make([]attendance.ManualEntry, len(req.Records))
	for i, r := range req.Records {
		entries[i] = attendance.ManualEntry(r)
	}
	res, err := h.svc.MarkManual(c.Request.Context(), caller, id, day, entries)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ClassAttendance lists one day of records; ?date= defaults to today.
func (h *Handler) ClassAttendance(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	var day attendance.Date
	if raw := c.Query("date"); raw != "" {
		d, err := attendance.ParseDate(raw)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		day = d
	}
	records, err := h.svc.ClassAttendance(c.Request.Context(), caller, id, day)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if records == nil {
		records = []attendance.DayRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) ClassReport(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	r, err := h.svc.ClassReport(c.Request.Context(), caller, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ExportClassReport serves the class report as an XLSX download.
func (h *Handler) ExportClassReport(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	r, err := h.svc.ClassReport(c.Request.Context(), caller, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := export.ClassReportXLSX(&buf, r); err != nil {
		h.handleServiceError(c, attendance.StoreFailure("render report", err))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(r)+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

func (h *Handler) StudentHistory(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	classID := h.parseIDParam(c, "id")
	if classID == 0 {
		return
	}
	studentID := h.parseIDParam(c, "studentId")
	if studentID == 0 {
		return
	}
	history, err := h.svc.StudentHistory(c.Request.Context(), caller, studentID, classID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if history == nil {
		history = []attendance.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
