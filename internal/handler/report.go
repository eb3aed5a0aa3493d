package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/middleware"
	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/service"
)

// DepartmentLister lists the routing targets. *repository.DepartmentRepo
// satisfies it.
type DepartmentLister interface {
	List(ctx context.Context) ([]model.Department, error)
}

// ReportHandler serves the report endpoints of report-service. All routes
// except Departments expect JWTAuth to have run.
type ReportHandler struct {
	reports     *service.ReportService
	departments DepartmentLister
	logger      *zap.Logger
}

func NewReportHandler(reports *service.ReportService, departments DepartmentLister, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, departments: departments, logger: logger.Named("http")}
}

type locationBody struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address *string  `json:"address"`
}

type createReportBody struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Visibility  string        `json:"visibility"`
	Location    *locationBody `json:"location"`
}

// Create handles POST /v1/reports. The caller becomes the owner; for
// anonymous reports only the keyed hash of their id is stored. Responds 201
// with the stored report, which is already published to the department
// queues.
func (h *ReportHandler) Create(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var body createReportBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	in := service.CreateReportInput{
		ReporterID:  actor.UserID,
		Title:       body.Title,
		Description: body.Description,
		Category:    model.Category(body.Category),
		Visibility:  model.Visibility(body.Visibility),
	}
	if l := body.Location; l != nil {
		if l.Lat == nil || l.Lng == nil {
			return badRequest(c, "location requires lat and lng")
		}
		in.Location = &model.Location{Lat: *l.Lat, Lng: *l.Lng, Address: l.Address}
	}
	rep, err := h.reports.Create(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, rep)
}

// List handles GET /v1/reports. Query parameters: scope (public|private),
// status, category, sort_by, sort_order (asc|desc), page and limit.
func (h *ReportHandler) List(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	in := service.ListReportsInput{
		Scope:     service.ListScope(c.QueryParam("scope")),
		Status:    model.Status(c.QueryParam("status")),
		Category:  model.Category(c.QueryParam("category")),
		SortBy:    c.QueryParam("sort_by"),
		SortOrder: c.QueryParam("sort_order"),
	}
	for name, dst := range map[string]*int{"page": &in.Page, "limit": &in.Limit} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, name+" must be a positive integer")
		}
		*dst = n
	}
	page, err := h.reports.List(c.Request().Context(), actor, in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, page)
}

// Get handles GET /v1/reports/:id.
func (h *ReportHandler) Get(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	rep, err := h.reports.Get(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// History handles GET /v1/reports/:id/history, oldest entry first.
func (h *ReportHandler) History(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	entries, err := h.reports.History(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if entries == nil {
		entries = []model.StatusHistoryEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"history": entries})
}

// ChangeStatus handles PATCH /v1/reports/:id/status with body
// {"status": "...", "notes": "..."}.
func (h *ReportHandler) ChangeStatus(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		Status string  `json:"status"`
		Notes  *string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Status == "" {
		return badRequest(c, "status is required")
	}
	rep, err := h.reports.ChangeStatus(c.Request().Context(), actor, c.Param("id"), model.Status(body.Status), body.Notes)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Cancel handles POST /v1/reports/:id/cancel. Only the owner may cancel;
// the optional {"reason": "..."} is kept as the history note.
func (h *ReportHandler) Cancel(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		Reason *string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	rep, err := h.reports.Cancel(c.Request().Context(), actor, c.Param("id"), body.Reason)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Departments handles GET /v1/departments.
func (h *ReportHandler) Departments(c echo.Context) error {
	depts, err := h.departments.List(c.Request().Context())
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if depts == nil {
		depts = []model.Department{}
	}
	return c.JSON(http.StatusOK, echo.Map{"departments": depts})
}
