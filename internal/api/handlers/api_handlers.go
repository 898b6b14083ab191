package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"face-attendance-go/internal/api/middleware"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/report"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/util/timezone"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SampleCounter liefert die Zahl der angelernten Beispiele je Person (Galerie)
type SampleCounter interface {
	SampleCount(personID uint) int
}

// ManualRecorder erfasst Anwesenheiten von Hand (attendance.Recorder)
type ManualRecorder interface {
	Manual(ctx context.Context, name string, ts time.Time) (*models.AttendanceEvent, attendance.Outcome, error)
}

// APIHandler behandelt die API-Anfragen
type APIHandler struct {
	repo       repository.Repository
	attendance *attendance.Service
	reporter   *report.Reporter
	manual     ManualRecorder
	samples    SampleCounter
	status     *StatusHandler
	loc        *time.Location
}

// NewAPIHandler erstellt einen neuen API-Handler; manual, samples und status dürfen nil sein
func NewAPIHandler(repo repository.Repository, svc *attendance.Service, reporter *report.Reporter, manual ManualRecorder, samples SampleCounter, status *StatusHandler) *APIHandler {
	return &APIHandler{
		repo:       repo,
		attendance: svc,
		reporter:   reporter,
		manual:     manual,
		samples:    samples,
		status:     status,
		loc:        svc.Location(),
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router gin.IRouter) {
	// Anwesenheit
	router.GET("/attendance/today", h.GetToday)
	router.GET("/attendance/open", h.GetOpenSessions)
	if h.manual != nil {
		router.POST("/attendance/manual", h.PostManualAttendance)
	}

	// Personen
	router.GET("/persons", h.ListPersons)
	router.GET("/persons/:id/attendance", h.GetPersonAttendance)

	// Berichte
	router.GET("/reports/daily", h.GetDailyReport)
	router.GET("/reports/monthly", h.GetMonthlyReport)

	if h.status != nil {
		router.GET("/status", h.status.GetStatus)
	}
}

// EventView ist ein Ereignis in lokaler Zeit mit Personennamen
type EventView struct {
	ID         uint             `json:"id"`
	PersonID   uint             `json:"person_id"`
	Name       string           `json:"name"`
	Kind       models.EventKind `json:"kind"`
	Timestamp  time.Time        `json:"timestamp"`
	Confidence float64          `json:"confidence"`
}

// PersonView ist eine Person mit heutigem Status
type PersonView struct {
	attendance.PersonDay
	StatusText string `json:"status_text"`
	Samples    *int   `json:"samples,omitempty"`
}

// GetToday liefert die heutigen Ereignisse
func (h *APIHandler) GetToday(c *gin.Context) {
	ctx := c.Request.Context()
	events, err := h.attendance.Today(ctx)
	if err != nil {
		h.storeError(c, err)
		return
	}
	views, err := h.eventViews(c, events)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":   timezone.LocalDate(time.Now(), h.loc),
		"events": views,
	})
}

// ManualRequest ist der Body von POST /attendance/manual
type ManualRequest struct {
	Name string `json:"name" binding:"required"`
}

// PostManualAttendance erfasst eine Anwesenheit von Hand; die Tagesregeln gelten wie bei der Kamera
func (h *APIHandler) PostManualAttendance(c *gin.Context) {
	var req ManualRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		h.badRequest(c, "error.invalid_request")
		return
	}
	name := strings.TrimSpace(req.Name)

	event, outcome, err := h.manual.Manual(c.Request.Context(), name, time.Now())
	if errors.Is(err, attendance.ErrUnknownPerson) {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "error.person_not_found")})
		return
	}
	if err != nil {
		h.storeError(c, err)
		return
	}

	resp := gin.H{
		"outcome": outcome.String(),
		"message": middleware.T(c, "manual."+outcome.String()),
	}
	status := http.StatusOK
	if event != nil {
		resp["event"] = h.eventView(*event, name)
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

// GetOpenSessions liefert alle Personen, die eingecheckt und noch nicht gegangen sind
func (h *APIHandler) GetOpenSessions(c *gin.Context) {
	roster, err := h.attendance.Roster(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	open := make([]PersonView, 0)
	for _, day := range roster {
		if day.Status == models.StatusCheckedIn {
			open = append(open, h.personView(c, day))
		}
	}
	c.JSON(http.StatusOK, gin.H{"open": open, "count": len(open)})
}

// ListPersons liefert alle Personen mit Status und Beispielanzahl
func (h *APIHandler) ListPersons(c *gin.Context) {
	roster, err := h.attendance.Roster(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	persons := make([]PersonView, 0, len(roster))
	for _, day := range roster {
		persons = append(persons, h.personView(c, day))
	}
	c.JSON(http.StatusOK, gin.H{"persons": persons})
}

// GetPersonAttendance liefert die Ereignisse einer Person, standardmäßig von heute
func (h *APIHandler) GetPersonAttendance(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		h.badRequest(c, "error.invalid_id")
		return
	}
	ctx := c.Request.Context()

	person, err := h.repo.GetPersonByID(ctx, uint(id))
	if err != nil {
		h.storeError(c, err)
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "error.person_not_found")})
		return
	}

	from, to, ok := h.dateRange(c)
	if !ok {
		return
	}
	events, err := h.attendance.ForPerson(ctx, person.ID, from, to)
	if err != nil {
		h.storeError(c, err)
		return
	}

	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, h.eventView(ev, person.Name))
	}
	c.JSON(http.StatusOK, gin.H{
		"person": person,
		"from":   timezone.LocalDate(from, h.loc),
		"to":     timezone.LocalDate(to, h.loc),
		"events": views,
	})
}

// GetDailyReport liefert den Tagesbericht als JSON, CSV oder XLSX
func (h *APIHandler) GetDailyReport(c *gin.Context) {
	format, ok := h.format(c)
	if !ok {
		return
	}
	from, to, ok := h.dateRange(c)
	if !ok {
		return
	}
	rep, err := h.reporter.Daily(c.Request.Context(), from, to)
	if err != nil {
		h.reportError(c, err)
		return
	}
	if format == report.FormatJSON {
		c.JSON(http.StatusOK, rep)
		return
	}
	name := "daily_" + rep.From
	if rep.To != rep.From {
		name += "_" + rep.To
	}
	h.attachment(c, name, format)
	if err := report.WriteDaily(c.Writer, rep, format); err != nil {
		log.Errorf("Failed to write daily report: %v", err)
	}
}

// GetMonthlyReport liefert die Monatsübersicht; ohne ?month= den laufenden Monat
func (h *APIHandler) GetMonthlyReport(c *gin.Context) {
	format, ok := h.format(c)
	if !ok {
		return
	}
	month := time.Now().In(h.loc)
	if s := c.Query("month"); s != "" {
		m, err := report.ParseMonth(s, h.loc)
		if err != nil {
			h.badRequest(c, "error.invalid_month")
			return
		}
		month = m
	}
	rep, err := h.reporter.Monthly(c.Request.Context(), month)
	if err != nil {
		h.reportError(c, err)
		return
	}
	if format == report.FormatJSON {
		c.JSON(http.StatusOK, rep)
		return
	}
	h.attachment(c, "monthly_"+rep.Month, format)
	if err := report.WriteMonthly(c.Writer, rep, format); err != nil {
		log.Errorf("Failed to write monthly report: %v", err)
	}
}

func (h *APIHandler) attachment(c *gin.Context, name string, format report.Format) {
	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, format.Extension()))
	c.Status(http.StatusOK)
}

// format liest ?format=; ohne Angabe liefert die API JSON
func (h *APIHandler) format(c *gin.Context) (report.Format, bool) {
	s := c.Query("format")
	if s == "" {
		return report.FormatJSON, true
	}
	f, err := report.ParseFormat(s)
	if err != nil {
		h.badRequest(c, "error.invalid_format")
		return "", false
	}
	return f, true
}

// dateRange liest ?from= und ?to= (YYYY-MM-DD); fehlende Werte sind heute bzw. from.
// Der Zeitraum umfasst höchstens report.MaxRangeDays Tage.
func (h *APIHandler) dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	from := time.Now().In(h.loc)
	if s := c.Query("from"); s != "" {
		d, err := timezone.ParseDate(s, h.loc)
		if err != nil {
			h.badRequest(c, "error.invalid_date")
			return time.Time{}, time.Time{}, false
		}
		from = d
	}
	to := from
	if s := c.Query("to"); s != "" {
		d, err := timezone.ParseDate(s, h.loc)
		if err != nil {
			h.badRequest(c, "error.invalid_date")
			return time.Time{}, time.Time{}, false
		}
		to = d
	}
	if days := report.SpanDays(from, to, h.loc); days < 1 || days > report.MaxRangeDays {
		h.badRequest(c, "error.invalid_range")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *APIHandler) eventViews(c *gin.Context, events []models.AttendanceEvent) ([]EventView, error) {
	persons, err := h.repo.ListPersons(c.Request.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(persons))
	for _, p := range persons {
		names[p.ID] = p.Name
	}
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, h.eventView(ev, names[ev.PersonID]))
	}
	return views, nil
}

func (h *APIHandler) eventView(ev models.AttendanceEvent, name string) EventView {
	return EventView{
		ID:         ev.ID,
		PersonID:   ev.PersonID,
		Name:       name,
		Kind:       ev.Kind,
		Timestamp:  ev.Timestamp.In(h.loc),
		Confidence: ev.Confidence,
	}
}

func (h *APIHandler) personView(c *gin.Context, day attendance.PersonDay) PersonView {
	v := PersonView{
		PersonDay:  day,
		StatusText: middleware.T(c, "status."+string(day.Status)),
	}
	if h.samples != nil {
		n := h.samples.SampleCount(day.Person.ID)
		v.Samples = &n
	}
	return v
}

func (h *APIHandler) badRequest(c *gin.Context, key string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, key)})
}

func (h *APIHandler) storeError(c *gin.Context, err error) {
	log.Errorf("API request %s failed: %v", c.Request.URL.Path, err)
	status := http.StatusInternalServerError
	if failure.Is(err, failure.StoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": middleware.T(c, "error.store")})
}

func (h *APIHandler) reportError(c *gin.Context, err error) {
	if failure.Is(err, failure.StoreUnavailable) {
		h.storeError(c, err)
		return
	}
	log.Errorf("Report request %s failed: %v", c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "error.report")})
}
