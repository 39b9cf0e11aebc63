// Package dashboard implements the read-only telemetry endpoints.
package dashboard

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PoyrazK/Mini-AWS/internal/api/respond"
	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/middleware"
)

// Reader is the subset of fleet.Reader the handlers use.
type Reader interface {
	InstanceStats(ctx context.Context, owner, id string) (models.InstanceStats, error)
	Summary(ctx context.Context, owner string) models.FleetSummary
	RecentEvents(ctx context.Context, owner string, limit int) ([]models.Event, error)
}

// Handler serves the dashboard endpoints.
type Handler struct {
	reader Reader
}

// NewHandler creates a new dashboard handler
func NewHandler(r Reader) *Handler {
	return &Handler{reader: r}
}

// @Summary      Instance runtime stats
// @Tags         Dashboard
// @Security     APIKey
// @Produce      json
// @Param        id  path  string  true  "Instance id"
// @Success      200  {object}  models.InstanceStats
// @Failure      404  {object}  map[string]interface{}  "Unknown instance, or not running"
// @Router       /instances/{id}/stats [get]
func (h *Handler) InstanceStats(c *gin.Context) {
	stats, err := h.reader.InstanceStats(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, stats)
}

// Summary returns the caller's resource overview.
func (h *Handler) Summary(c *gin.Context) {
	respond.Data(c, http.StatusOK, h.reader.Summary(c.Request.Context(), middleware.AccountID(c)))
}

// Events returns the caller's most recent lifecycle events, newest first.
// ?limit= defaults to 20 and is capped at 100.
func (h *Handler) Events(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respond.Error(c, apperr.Validation("limit must be an integer"))
			return
		}
		if n <= 0 {
			respond.Error(c, apperr.Validation("limit must be positive"))
			return
		}
		limit = n
	}

	evs, err := h.reader.RecentEvents(c.Request.Context(), middleware.AccountID(c), limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, evs)
}
