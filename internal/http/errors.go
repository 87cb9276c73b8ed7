package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"member-registry/internal/service"
)

type errorMapping struct {
	target error
	status int
}

var errorMappings = []errorMapping{
	{service.ErrMissingParameter, http.StatusUnauthorized},
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrValidation, http.StatusUnauthorized},
	{service.ErrUserAlreadyExists, http.StatusNotFound},
	{service.ErrRefereeMismatch, http.StatusForbidden},
	{service.ErrUnauthorized, http.StatusUnauthorized},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrInvalidToken, http.StatusUnauthorized},
	{service.ErrDispatch, http.StatusUnauthorized},
	{service.ErrPersistence, http.StatusInternalServerError},
}

// writeError renders err as {"status":"error","err":...}; not-found errors
// use a "message" key instead.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			status = m.status
			message = publicMessage(err, m.target)
			break
		}
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	key := "err"
	if status == http.StatusNotFound && errors.Is(err, service.ErrNotFound) {
		key = "message"
	}
	c.JSON(status, gin.H{"status": "error", key: message})
}

// publicMessage drops the sentinel prefix added by fmt.Errorf("%w: ...").
func publicMessage(err, target error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, target.Error()+": "); trimmed != msg && trimmed != "" {
		return trimmed
	}
	return msg
}
