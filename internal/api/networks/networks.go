// Package networks implements the VPC and subnet endpoints.
package networks

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PoyrazK/Mini-AWS/internal/api/respond"
	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/middleware"
)

// Fabric is the subset of network.Manager the handlers use.
type Fabric interface {
	CreateVPC(ctx context.Context, owner, name, cidrBlock string) (models.VPC, error)
	GetVPC(ctx context.Context, owner, id string) (models.VPC, error)
	ListVPCs(ctx context.Context, owner string) []models.VPC
	DeleteVPC(ctx context.Context, owner, id string) error
	CreateSubnet(ctx context.Context, owner, vpcID, name, cidrBlock string) (models.Subnet, error)
	GetSubnet(ctx context.Context, owner, id string) (models.Subnet, error)
	ListSubnets(ctx context.Context, owner, vpcID string) ([]models.Subnet, error)
	DeleteSubnet(ctx context.Context, owner, id string) error
}

// Handler serves the network endpoints.
type Handler struct {
	fabric Fabric
}

// NewHandler creates a new networks handler
func NewHandler(f Fabric) *Handler {
	return &Handler{fabric: f}
}

// CreateVPCRequest is the body of POST /vpcs.
type CreateVPCRequest struct {
	Name      string `json:"name" binding:"max=255"`
	CIDRBlock string `json:"cidr_block" binding:"required,cidrv4"`
}

// CreateSubnetRequest is the body of POST /vpcs/:id/subnets. VPCID is
// optional; when present it must match the path.
type CreateSubnetRequest struct {
	Name      string `json:"name" binding:"max=255"`
	CIDRBlock string `json:"cidr_block" binding:"required,cidrv4"`
	VPCID     string `json:"vpc_id" binding:"omitempty,resid=vpc"`
}

// @Summary      Create a VPC
// @Tags         Networks
// @Security     APIKey
// @Accept       json
// @Produce      json
// @Param        body  body  CreateVPCRequest  true  "VPC"
// @Success      201  {object}  models.VPC
// @Failure      400  {object}  map[string]interface{}  "Invalid CIDR"
// @Router       /vpcs [post]
func (h *Handler) CreateVPC(c *gin.Context) {
	var req CreateVPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	vpc, err := h.fabric.CreateVPC(c.Request.Context(), middleware.AccountID(c), req.Name, req.CIDRBlock)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusCreated, vpc)
}

// ListVPCs returns the caller's VPCs.
func (h *Handler) ListVPCs(c *gin.Context) {
	respond.Data(c, http.StatusOK, h.fabric.ListVPCs(c.Request.Context(), middleware.AccountID(c)))
}

// GetVPC returns one VPC.
func (h *Handler) GetVPC(c *gin.Context) {
	vpc, err := h.fabric.GetVPC(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, vpc)
}

// @Summary      Delete a VPC
// @Description  Fails with 409 while any subnet remains in the VPC.
// @Tags         Networks
// @Security     APIKey
// @Param        id  path  string  true  "VPC id"
// @Success      204
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Failure      409  {object}  map[string]interface{}  "VPC still has subnets"
// @Router       /vpcs/{id} [delete]
func (h *Handler) DeleteVPC(c *gin.Context) {
	if err := h.fabric.DeleteVPC(c.Request.Context(), middleware.AccountID(c), c.Param("id")); err != nil {
		respond.Error(c, err)
		return
	}
	respond.NoContent(c)
}

// @Summary      Create a subnet
// @Description  The CIDR must lie inside the VPC and must not overlap any other subnet of the VPC.
// @Tags         Networks
// @Security     APIKey
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "VPC id"
// @Param        body  body  CreateSubnetRequest  true  "Subnet"
// @Success      201  {object}  models.Subnet
// @Failure      400  {object}  map[string]interface{}  "Invalid, out-of-range or overlapping CIDR"
// @Failure      404  {object}  map[string]interface{}  "VPC not found"
// @Router       /vpcs/{id}/subnets [post]
func (h *Handler) CreateSubnet(c *gin.Context) {
	var req CreateSubnetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}
	vpcID := c.Param("id")
	if req.VPCID != "" && req.VPCID != vpcID {
		respond.Error(c, apperr.Validation("vpc_id %q does not match the path vpc %q", req.VPCID, vpcID))
		return
	}

	subnet, err := h.fabric.CreateSubnet(c.Request.Context(), middleware.AccountID(c), vpcID, req.Name, req.CIDRBlock)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusCreated, subnet)
}

// ListSubnets returns the subnets of one VPC.
func (h *Handler) ListSubnets(c *gin.Context) {
	subnets, err := h.fabric.ListSubnets(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, subnets)
}

// GetSubnet returns one subnet.
func (h *Handler) GetSubnet(c *gin.Context) {
	subnet, err := h.fabric.GetSubnet(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, subnet)
}

// DeleteSubnet removes a subnet with no instances.
func (h *Handler) DeleteSubnet(c *gin.Context) {
	if err := h.fabric.DeleteSubnet(c.Request.Context(), middleware.AccountID(c), c.Param("id")); err != nil {
		respond.Error(c, err)
		return
	}
	respond.NoContent(c)
}
