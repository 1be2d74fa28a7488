package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/flags"
)

// errorResponse maps an error returned by a handler to the JSON envelope.
// Flag store errors keep their meaning; anything unknown is a 500.
func errorResponse(err error) ErrorResponse {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return ErrorResponse{Error: msg, Code: he.Code}
	case errors.Is(err, flags.ErrInvalidKey):
		return ErrorResponse{Error: "invalid key", Code: http.StatusBadRequest, Details: map[string]any{"key": err.Error()}}
	case errors.Is(err, flags.ErrNotFound):
		return ErrorResponse{Error: "flag not found", Code: http.StatusNotFound}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse{Error: "backend timeout", Code: http.StatusGatewayTimeout}
	}
	return ErrorResponse{Error: "internal server error", Code: http.StatusInternalServerError, Details: err.Error()}
}

// jsonErrorHandler renders every unhandled error, routing misses included,
// as an ErrorResponse. Details only leave the process in dev mode.
func jsonErrorHandler(logger *logrus.Logger, devMode bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		resp := errorResponse(err)
		if resp.Code >= http.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Path(),
			}).Error("request failed")
		}
		if !devMode {
			resp.Details = nil
		}
		_ = c.JSON(resp.Code, resp)
	}
}
