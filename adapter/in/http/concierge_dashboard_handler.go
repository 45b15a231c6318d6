package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/AliedRevenue/family-concierge-sub000/adapter/out/persistence"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/dashboard"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/items"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"
)

// DashboardHandler serves the five dashboard sections and the per-item
// operations the UI needs.
type DashboardHandler struct {
	dashboards *dashboard.Service
	items      *items.Service
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(dashboards *dashboard.Service, itemSvc *items.Service) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboards, items: itemSvc}
}

// Register mounts the routes.
func (h *DashboardHandler) Register(app *fiber.App) {
	api := app.Group("/api")

	dash := api.Group("/dashboard")
	dash.Get("/obligations", h.Obligations)
	dash.Get("/tasks", h.Tasks)
	dash.Get("/announcements", h.Announcements)
	dash.Get("/updates", h.Updates)
	dash.Get("/catchup", h.Catchup)

	api.Get("/items/:id", h.GetItem)
	api.Post("/items/:id/dismiss", h.DismissItem)
}

// Obligations returns upcoming dated obligations grouped by time bucket.
func (h *DashboardHandler) Obligations(c *fiber.Ctx) error {
	view, err := h.dashboards.Obligations(c.Context(), GetItemFilter(c))
	if err != nil {
		return InternalErrorResponse(c, err, "list obligations")
	}
	return SuccessResponse(c, view)
}

// Tasks returns undated obligations from the last 30 days.
func (h *DashboardHandler) Tasks(c *fiber.Ctx) error {
	tasks, err := h.dashboards.Tasks(c.Context(), GetItemFilter(c))
	if err != nil {
		return InternalErrorResponse(c, err, "list tasks")
	}
	return SuccessResponse(c, tasks)
}

// Announcements returns recent non-obligation items.
func (h *DashboardHandler) Announcements(c *fiber.Ctx) error {
	view, err := h.dashboards.Announcements(c.Context(), GetItemFilter(c))
	if err != nil {
		return InternalErrorResponse(c, err, "list announcements")
	}
	return SuccessResponse(c, view)
}

// Updates returns the merged primary view.
func (h *DashboardHandler) Updates(c *fiber.Ctx) error {
	updates, err := h.dashboards.Updates(c.Context(), GetItemFilter(c))
	if err != nil {
		return InternalErrorResponse(c, err, "list updates")
	}
	return SuccessResponse(c, updates)
}

// Catchup returns items that aged out of the live sections.
func (h *DashboardHandler) Catchup(c *fiber.Ctx) error {
	daysBack := c.QueryInt("daysBack", 7)
	view, err := h.dashboards.Catchup(c.Context(), GetItemFilter(c), daysBack)
	if err != nil {
		return InternalErrorResponse(c, err, "list catchup")
	}
	return SuccessResponse(c, view)
}

// GetItem returns one item by id. An unknown id is a 404, not a server
// fault.
func (h *DashboardHandler) GetItem(c *fiber.Ctx) error {
	item, err := h.items.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrorResponse(c, fiber.StatusNotFound, apperr.CodeNotFound, "item not found")
		}
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "get item")
	}
	return SuccessResponse(c, item)
}

type dismissRequest struct {
	Reason      string `json:"reason"`
	DismissedBy string `json:"dismissedBy"`
}

// DismissItem records a dismissal. A missing reason is rejected with 422.
func (h *DashboardHandler) DismissItem(c *fiber.Ctx) error {
	var req dismissRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, apperr.CodeBadRequest, "invalid request body")
	}

	d, err := h.items.Dismiss(c.Context(), c.Params("id"), req.Reason, req.DismissedBy)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrorResponse(c, fiber.StatusNotFound, apperr.CodeNotFound, "item not found")
		}
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "dismiss item")
	}
	return SuccessResponse(c, d)
}
