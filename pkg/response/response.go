package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eventgate/backend/internal/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    apperr.Code       `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, Code: apperr.CodeValidation})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err, Code: apperr.CodeForbidden})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err, Code: apperr.CodeNotFound})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err, Code: apperr.CodeStoreUnavailable})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeEventFull, apperr.CodeAlreadyRedeemed, apperr.CodeAlreadyRegistered:
		return http.StatusConflict
	case apperr.CodeInvalidPayload:
		return http.StatusUnprocessableEntity
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrorWithData writes err like Error and attaches data, for rejections that
// carry context the client displays (e.g. a prior redemption).
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	c.JSON(StatusOf(err), Body{Success: false, Error: err.Error(), Code: apperr.CodeOf(err), Data: data})
}

// Error writes err using the envelope. Validation failures carry their fields;
// unclassified errors are reported without internal detail.
func Error(c *gin.Context, err error) {
	status := StatusOf(err)
	body := Body{Success: false, Error: err.Error(), Code: apperr.CodeOf(err)}
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	switch status {
	case http.StatusInternalServerError:
		body.Error = "internal error"
	case http.StatusServiceUnavailable:
		body.Error = "service temporarily unavailable, try again"
	}
	c.JSON(status, body)
}
