package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Envelope wraps every /api response.
type Envelope struct {
	Status string  `json:"status"`
	Data   any     `json:"data"`
	Error  *string `json:"error"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Status: statusSuccess, Data: data})
}

func fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, Envelope{Status: statusFailure, Error: &msg})
}

// statusFor maps a pipeline error onto an HTTP status: bad input is the
// client's fault, everything else is ours.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindDecode, apperrors.KindMetadata:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
