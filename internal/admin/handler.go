// Package admin serves the usage reports of the admin REST API.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"infergate/internal/core"
	"infergate/internal/usage"
)

// DefaultDays is the report window when no dates are given.
const DefaultDays = 30

// Handler serves admin API endpoints.
type Handler struct {
	usageReader usage.UsageReader
	now         func() time.Time
}

// NewHandler creates a new admin API handler.
// reader may be nil when usage tracking is disabled; reports are then empty.
func NewHandler(reader usage.UsageReader) *Handler {
	return &Handler{
		usageReader: reader,
		now:         time.Now,
	}
}

// Register mounts the admin routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/usage/summary", h.UsageSummary)
	g.GET("/usage/daily", h.DailyUsage)
}

// parseUsageParams extracts UsageQueryParams from the request query string.
// Explicit dates win over days; a missing side of an explicit range is
// filled from the other one.
func (h *Handler) parseUsageParams(c echo.Context) (usage.UsageQueryParams, error) {
	var params usage.UsageQueryParams

	now := h.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	startStr := c.QueryParam("start_date")
	endStr := c.QueryParam("end_date")

	if startStr != "" {
		t, err := time.Parse(time.DateOnly, startStr)
		if err != nil {
			return params, core.NewInvalidRequestError("invalid start_date format, expected YYYY-MM-DD", nil)
		}
		params.StartDate = t
	}
	if endStr != "" {
		t, err := time.Parse(time.DateOnly, endStr)
		if err != nil {
			return params, core.NewInvalidRequestError("invalid end_date format, expected YYYY-MM-DD", nil)
		}
		params.EndDate = t
	}

	switch {
	case startStr != "" || endStr != "":
		if startStr == "" {
			params.StartDate = params.EndDate.AddDate(0, 0, -(DefaultDays - 1))
		}
		if endStr == "" {
			params.EndDate = today
		}
		if params.EndDate.Before(params.StartDate) {
			return params, core.NewInvalidRequestError("end_date is before start_date", nil)
		}
	default:
		days := DefaultDays
		if d := c.QueryParam("days"); d != "" {
			parsed, err := strconv.Atoi(d)
			if err != nil || parsed <= 0 {
				return params, core.NewInvalidRequestError("days must be a positive integer", nil)
			}
			days = parsed
		}
		params.EndDate = today
		params.StartDate = today.AddDate(0, 0, -(days - 1))
	}

	params.Interval = usage.IntervalDaily
	if i := c.QueryParam("interval"); i != "" {
		if !usage.ValidInterval(i) {
			return params, core.NewInvalidRequestError("interval must be one of daily, weekly, monthly, yearly", nil)
		}
		params.Interval = i
	}

	params.Model = c.QueryParam("model")
	return params, nil
}

// handleError converts errors to appropriate HTTP responses, matching the
// format used by the main API handlers in the server package.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	slog.Error("admin request failed",
		"path", c.Request().URL.Path,
		"request_id", core.GetRequestID(c.Request().Context()),
		"error", err,
	)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    core.ErrorTypeInternal,
			"message": "an unexpected error occurred",
		},
	})
}

// UsageSummary handles GET /admin/api/v1/usage/summary
//
// @Summary      Get usage summary by model and cache status
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        days        query     int     false  "Number of days (default 30)"
// @Param        start_date  query     string  false  "Start date (YYYY-MM-DD)"
// @Param        end_date    query     string  false  "End date (YYYY-MM-DD)"
// @Param        model       query     string  false  "Resolved model id"
// @Success      200  {object}  usage.UsageSummary
// @Failure      400  {object}  core.GatewayError
// @Failure      401  {object}  core.GatewayError
// @Router       /admin/api/v1/usage/summary [get]
func (h *Handler) UsageSummary(c echo.Context) error {
	params, err := h.parseUsageParams(c)
	if err != nil {
		return handleError(c, err)
	}

	if h.usageReader == nil {
		return c.JSON(http.StatusOK, usage.UsageSummary{ByModel: []usage.ModelUsage{}})
	}

	summary, err := h.usageReader.GetSummary(c.Request().Context(), params)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, summary)
}

// DailyUsage handles GET /admin/api/v1/usage/daily
//
// @Summary      Get usage breakdown by period
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        days        query     int     false  "Number of days (default 30)"
// @Param        start_date  query     string  false  "Start date (YYYY-MM-DD)"
// @Param        end_date    query     string  false  "End date (YYYY-MM-DD)"
// @Param        interval    query     string  false  "Grouping interval: daily, weekly, monthly, yearly (default daily)"
// @Param        model       query     string  false  "Resolved model id"
// @Success      200  {array}   usage.DailyUsage
// @Failure      400  {object}  core.GatewayError
// @Failure      401  {object}  core.GatewayError
// @Router       /admin/api/v1/usage/daily [get]
func (h *Handler) DailyUsage(c echo.Context) error {
	params, err := h.parseUsageParams(c)
	if err != nil {
		return handleError(c, err)
	}

	if h.usageReader == nil {
		return c.JSON(http.StatusOK, []usage.DailyUsage{})
	}

	daily, err := h.usageReader.GetDailyUsage(c.Request().Context(), params)
	if err != nil {
		return handleError(c, err)
	}

	if daily == nil {
		daily = []usage.DailyUsage{}
	}

	return c.JSON(http.StatusOK, daily)
}
