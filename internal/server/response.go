package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/b3vet/swiftbase/internal/model"
)

// Every response carries success plus either data or a stable error code.

func okBody(data any) gin.H {
	return gin.H{"success": true, "data": data}
}

func errorBody(code, message string) gin.H {
	return gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	}
}

// writeError maps the error taxonomy to status codes. Storage failures are
// surfaced as a generic message so internal engine detail never leaks.
func writeError(c *gin.Context, err error) {
	status := model.HTTPStatus(err)
	code := string(model.CodeOf(err))

	message := err.Error()
	var e *model.Error
	if errors.As(err, &e) {
		// Message, not Error(): the wrapped cause stays in the logs.
		message = e.Message
	}
	body := gin.H{"code": code, "message": message}
	if e != nil && e.Field != "" {
		body["field"] = e.Field
	}
	c.JSON(status, gin.H{"success": false, "error": body})
}
