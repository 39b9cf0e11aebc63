// Package compute implements the instance endpoints.
package compute

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PoyrazK/Mini-AWS/internal/api/respond"
	orchestrator "github.com/PoyrazK/Mini-AWS/internal/compute"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/middleware"
)

// Instances is the subset of compute.Orchestrator the handlers use.
type Instances interface {
	Launch(ctx context.Context, owner string, req orchestrator.LaunchRequest) (models.Instance, error)
	Get(ctx context.Context, owner, id string) (models.Instance, error)
	List(ctx context.Context, owner string) []models.Instance
	Stop(ctx context.Context, owner, id string) (models.Instance, error)
	Delete(ctx context.Context, owner, id string) error
}

// Handler serves the instance endpoints.
type Handler struct {
	instances Instances
}

// NewHandler creates a new compute handler
func NewHandler(i Instances) *Handler {
	return &Handler{instances: i}
}

// LaunchRequest is the body of POST /instances.
type LaunchRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Image    string `json:"image" binding:"required,max=512"`
	VPCID    string `json:"vpc_id" binding:"required,resid=vpc"`
	SubnetID string `json:"subnet_id" binding:"required,resid=subnet"`
	Ports    string `json:"ports" binding:"omitempty,ports"`
}

// @Summary      Launch an instance
// @Description  Records the instance as pending and provisions it in the background. Poll GET /instances/{id} for the outcome.
// @Tags         Compute
// @Security     APIKey
// @Accept       json
// @Produce      json
// @Param        body  body  LaunchRequest  true  "Instance"
// @Success      202  {object}  models.Instance
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      404  {object}  map[string]interface{}  "VPC not found"
// @Router       /instances [post]
func (h *Handler) Launch(c *gin.Context) {
	var req LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	inst, err := h.instances.Launch(c.Request.Context(), middleware.AccountID(c), orchestrator.LaunchRequest{
		Name:     req.Name,
		Image:    req.Image,
		VPCID:    req.VPCID,
		SubnetID: req.SubnetID,
		Ports:    req.Ports,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.Header("Location", "/instances/"+inst.ID)
	respond.Data(c, http.StatusAccepted, inst)
}

// List returns the caller's instances ordered by creation time.
func (h *Handler) List(c *gin.Context) {
	respond.Data(c, http.StatusOK, h.instances.List(c.Request.Context(), middleware.AccountID(c)))
}

// Get returns one instance.
func (h *Handler) Get(c *gin.Context) {
	inst, err := h.instances.Get(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, inst)
}

// Stop stops a running instance.
func (h *Handler) Stop(c *gin.Context) {
	inst, err := h.instances.Stop(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, inst)
}

// Delete removes an instance from any state.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.instances.Delete(c.Request.Context(), middleware.AccountID(c), c.Param("id")); err != nil {
		respond.Error(c, err)
		return
	}
	respond.NoContent(c)
}
