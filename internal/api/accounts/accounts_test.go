package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/identity"
	"github.com/PoyrazK/Mini-AWS/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIdentity struct {
	registerErr error
	loginErr    error
	gotEmail    string
	revoked     string
	lookups     int
}

func (f *fakeIdentity) Register(_ context.Context, email, _, name string) (*identity.Session, error) {
	f.gotEmail = email
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &identity.Session{Account: &models.Account{ID: "acct-1", Email: email, Name: name}, APIKey: "maws_new"}, nil
}

func (f *fakeIdentity) Login(_ context.Context, email, _ string) (*identity.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &identity.Session{Account: &models.Account{ID: "acct-1", Email: email}, APIKey: "maws_stable"}, nil
}

func (f *fakeIdentity) Account(_ context.Context, id string) (*models.Account, error) {
	f.lookups++
	if id != "acct-1" {
		return nil, apperr.NotFound("account %s not found", id)
	}
	return &models.Account{ID: id, Email: "a@example.com"}, nil
}

func (f *fakeIdentity) RotateKey(_ context.Context, _ string) (string, error) {
	return "maws_rotated", nil
}

func (f *fakeIdentity) RevokeKey(_ context.Context, accountID string) error {
	f.revoked = accountID
	return nil
}

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	authed := r.Group("/auth", func(c *gin.Context) {
		c.Set(middleware.AccountIDKey, "acct-1")
		c.Next()
	})
	authed.GET("/me", h.Me)
	authed.POST("/keys/rotate", h.RotateKey)
	authed.DELETE("/keys", h.RevokeKey)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRegister(t *testing.T) {
	fake := &fakeIdentity{}
	r := newRouter(NewHandler(fake))

	w := post(r, "/auth/register", `{"email":"a@example.com","password":"pw","name":"Ada"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Data identity.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "maws_new", body.Data.APIKey)
	assert.Equal(t, "acct-1", body.Data.Account.ID)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestRegister_SingleLabelDomain(t *testing.T) {
	fake := &fakeIdentity{}
	r := newRouter(NewHandler(fake))

	w := post(r, "/auth/register", `{"email":"user-ab12@test","password":"Pw1!","name":"Ab"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "user-ab12@test", fake.gotEmail)
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed json", `{"email":`, nil, http.StatusBadRequest},
		{"missing password", `{"email":"a@example.com","name":"Ada"}`, nil, http.StatusBadRequest},
		{"duplicate email", `{"email":"a@example.com","password":"pw","name":"Ada"}`, apperr.Conflict("email already registered"), http.StatusConflict},
		{"service validation", `{"email":"nope","password":"pw","name":"Ada"}`, apperr.Validation("invalid email address"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(NewHandler(&fakeIdentity{registerErr: tt.err}))
			w := post(r, "/auth/register", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestLogin(t *testing.T) {
	r := newRouter(NewHandler(&fakeIdentity{}))
	w := post(r, "/auth/login", `{"email":"a@example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "maws_stable")

	r = newRouter(NewHandler(&fakeIdentity{loginErr: apperr.Unauthorized("invalid email or password")}))
	w = post(r, "/auth/login", `{"email":"a@example.com","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"invalid email or password"}`, w.Body.String())
}

func TestMe_UsesAuthenticatedAccount(t *testing.T) {
	fake := &fakeIdentity{}
	h := NewHandler(fake)
	r := gin.New()
	r.GET("/auth/me", func(c *gin.Context) {
		c.Set(middleware.AccountKey, &models.Account{ID: "acct-7", Email: "seven@example.com"})
		c.Set(middleware.AccountIDKey, "acct-7")
		c.Next()
	}, h.Me)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "seven@example.com")
	assert.Zero(t, fake.lookups, "Me must not look the account up again")
}

func TestMeRotateRevoke(t *testing.T) {
	fake := &fakeIdentity{}
	r := newRouter(NewHandler(fake))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a@example.com")
	assert.Equal(t, 1, fake.lookups, "without a cached account Me falls back to a lookup")

	w = post(r, "/auth/keys/rotate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"api_key":"maws_rotated"}}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/auth/keys", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "acct-1", fake.revoked)
}
