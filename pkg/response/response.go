// Package response provides the standard API response envelope.
package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// Response is the standard API response structure.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total    int  `json:"total,omitempty"`
	Limit    int  `json:"limit,omitempty"`
	Offset   int  `json:"offset,omitempty"`
	HasMore  bool `json:"has_more,omitempty"`
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

// OKWithMeta returns a successful response with metadata.
func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

// Accepted returns a 202 for enqueued work.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data})
}

// Error returns an error response, mapping AppError codes to statuses.
func Error(c *fiber.Ctx, err error) error {
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return c.Status(ae.HTTPStatus()).JSON(Response{
			Success: false,
			Error:   &ErrorInfo{Code: ae.Code, Message: ae.Message},
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(Response{
		Success: false,
		Error:   &ErrorInfo{Code: apperr.CodeInternalError, Message: "internal error"},
	})
}
