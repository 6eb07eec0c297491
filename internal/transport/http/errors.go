package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/chat"
)

const (
	codeBadRequest  = "bad_request"
	codeRateLimited = "rate_limited"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFor(kind chat.Kind) int {
	switch kind {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindAuth:
		return http.StatusUnauthorized
	case chat.KindAuthorization:
		return http.StatusForbidden
	case chat.KindConflict:
		return http.StatusConflict
	case chat.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to its status and wire code. Anything that
// is not a classified client error is logged and reported as internal_error.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	kind := chat.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: chat.CodeOf(err)})
}
