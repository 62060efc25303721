package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-api/domain"
)

const genericErrorMessage = "Something went wrong!"

// translate maps a failure to the status code and message sent to the client.
func translate(err error) (int, string) {
	e := domain.Classify(err)
	switch e.Kind {
	case domain.KindSchemaViolation:
		return http.StatusBadRequest, "Invalid input data. " + joinMessages(e.Violations)
	case domain.KindDuplicate:
		value := e.Value
		if value == "" {
			value = "duplicate value"
		}
		return http.StatusBadRequest, fmt.Sprintf("Duplicate field value: %s. Please use another value!", value)
	case domain.KindInvalidID:
		return http.StatusBadRequest, fmt.Sprintf("Invalid %s: %s", e.Field, e.Value)
	case domain.KindValidationFailed:
		return http.StatusBadRequest, "Validation failed. " + joinMessages(e.Violations)
	case domain.KindNotFound, domain.KindStatus:
		if e.Code != 0 {
			return e.Code, e.Message
		}
	}
	return http.StatusInternalServerError, genericErrorMessage
}

func joinMessages(v []domain.FieldError) string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, ". ")
}

// transportError tags errors raised by echo itself, such as unknown routes
// or oversized bodies, with their status code.
func transportError(he *echo.HTTPError) *domain.Error {
	msg := http.StatusText(he.Code)
	if s, ok := he.Message.(string); ok && s != "" {
		msg = s
	}
	return domain.WithStatus(he.Code, msg)
}

// errorHandler renders every failure as {success:false, error:{message, code}}.
// Unclassified failures are logged with their cause and answered with a
// generic message.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			err = transportError(he)
		}
		code, msg := translate(err)

		if domain.Classify(err).Kind == domain.KindUnclassified && logger != nil {
			logger.WithFields(log.Fields{
				"method":     c.Request().Method,
				"path":       c.Request().URL.Path,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).WithError(err).Error("unhandled error")
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, errorResponse{Error: errorBody{Message: msg, Code: code}})
		}
		if err != nil && logger != nil {
			logger.WithError(err).Warn("write error response")
		}
	}
}
