// Package accounts implements the /auth endpoints: registration, login, the
// current account and API key rotation/revocation.
package accounts

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PoyrazK/Mini-AWS/internal/api/respond"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/identity"
	"github.com/PoyrazK/Mini-AWS/internal/middleware"
)

// Identity is the subset of identity.Service the handlers use.
type Identity interface {
	Register(ctx context.Context, email, password, name string) (*identity.Session, error)
	Login(ctx context.Context, email, password string) (*identity.Session, error)
	Account(ctx context.Context, id string) (*models.Account, error)
	RotateKey(ctx context.Context, accountID string) (string, error)
	RevokeKey(ctx context.Context, accountID string) error
}

// Handler serves the account endpoints.
type Handler struct {
	identity Identity
}

// NewHandler creates a new accounts handler
func NewHandler(id Identity) *Handler {
	return &Handler{identity: id}
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=72"`
	Name     string `json:"name" binding:"required,max=255"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// KeyResponse carries a freshly issued API key.
type KeyResponse struct {
	APIKey string `json:"api_key"`
}

// @Summary      Register an account
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "Account details"
// @Success      201  {object}  identity.Session
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	session, err := h.identity.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusCreated, session)
}

// @Summary      Log in
// @Description  Verifies the password and returns the account's API key. The key is stable across logins.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  identity.Session
// @Failure      401  {object}  map[string]interface{}  "Invalid email or password"
// @Router       /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BindError(c, err)
		return
	}

	session, err := h.identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, session)
}

// Me returns the authenticated account. The account resolved by the auth
// middleware is reused; the lookup only runs when it is absent.
func (h *Handler) Me(c *gin.Context) {
	if account := middleware.CurrentAccount(c); account != nil {
		respond.Data(c, http.StatusOK, account)
		return
	}
	account, err := h.identity.Account(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, account)
}

// RotateKey revokes the caller's key and returns a new one. The old key stops
// working immediately.
func (h *Handler) RotateKey(c *gin.Context) {
	key, err := h.identity.RotateKey(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.Data(c, http.StatusOK, KeyResponse{APIKey: key})
}

// RevokeKey revokes the caller's key. The next login issues a new one.
func (h *Handler) RevokeKey(c *gin.Context) {
	if err := h.identity.RevokeKey(c.Request.Context(), middleware.AccountID(c)); err != nil {
		respond.Error(c, err)
		return
	}
	respond.NoContent(c)
}
