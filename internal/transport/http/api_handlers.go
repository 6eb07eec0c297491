package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/auth"
)

// APIHandlers provides HTTP handlers for account endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OKResponse acknowledges an operation without a payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

// LoginResponse carries a session token and the canonical username.
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// MeResponse identifies the caller.
type MeResponse struct {
	Username string `json:"username"`
}

// ExistsResponse answers a username lookup.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: codeBadRequest})
		return
	}

	if err := h.authService.Register(c.Request.Context(), req.Username, req.Password); err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user registered")
	c.JSON(http.StatusCreated, OKResponse{OK: true})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: codeBadRequest})
		return
	}

	token, username, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("username", username).Msg("user logged in")
	c.JSON(http.StatusOK, LoginResponse{Token: token, Username: username})
}

// Me returns the authenticated username.
// GET /api/me
func (h *APIHandlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, MeResponse{Username: currentUser(c)})
}

// UserExists reports whether a username is registered.
// GET /api/users/exists?username=
func (h *APIHandlers) UserExists(c *gin.Context) {
	ok, err := h.authService.Exists(c.Request.Context(), c.Query("username"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ExistsResponse{Exists: ok})
}
