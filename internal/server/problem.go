package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// classify maps an error onto a status code and problem type.
func classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return fiber.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrRateLimited):
		return fiber.StatusTooManyRequests, "rate_limit_exceeded"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return fiber.StatusBadRequest, "invalid_input"
	case errors.Is(err, apperrors.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrUnavailable):
		return fiber.StatusServiceUnavailable, "unavailable"
	case errors.As(err, &fe):
		if fe.Code == fiber.StatusNotFound {
			return fe.Code, "not_found"
		}
		return fe.Code, "http_error"
	}
	return fiber.StatusInternalServerError, "internal_error"
}
