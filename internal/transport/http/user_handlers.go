package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/service/rename"
)

// UserHandlers provides HTTP handlers for identity operations.
type UserHandlers struct {
	renamer *rename.Coordinator
	log     *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(renamer *rename.Coordinator, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{renamer: renamer, log: logger}
}

// RenameRequest is the body of POST /api/user/rename.
type RenameRequest struct {
	NewUsername string `json:"newUsername"`
}

// RenameResponse carries the new identity and its token.
type RenameResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Rename changes the caller's username.
// POST /api/user/rename
func (h *UserHandlers) Rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid rename request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: codeBadRequest})
		return
	}

	res, err := h.renamer.Rename(c.Request.Context(), currentUser(c), req.NewUsername)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, RenameResponse{Username: res.Username, Token: res.Token})
}
