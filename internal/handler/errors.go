package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/site-journal/internal/attachment"
	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/pkg/log"
	"github.com/weiawesome/site-journal/pkg/response"
)

var errAuthorMismatch = errors.New("author does not match the authenticated user")

// statusClientClosedRequest is reported when the caller went away first.
const statusClientClosedRequest = 499

// classify maps an error to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errAuthorMismatch):
		return http.StatusForbidden, domain.ErrCodeForbidden
	case errors.Is(err, attachment.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, response.CodeTooLarge
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, domain.ErrCodeValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, domain.ErrCodeConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, domain.ErrCodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.ErrCodeTimeout
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternalError
	}
}

// publicMessage hides internal failure details from callers.
func publicMessage(status int, err error) string {
	switch {
	case status == statusClientClosedRequest:
		return "request canceled"
	case status == http.StatusGatewayTimeout:
		return "request timed out"
	case status >= http.StatusInternalServerError:
		return "internal error"
	}
	return err.Error()
}

// serverFault reports whether status is a failure on our side worth an
// error-level log line.
func serverFault(status int) bool {
	return status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout
}

func respondError(c *gin.Context, err error, msg string) {
	status, code := classify(err)
	l := log.Ctx(c.Request.Context())
	switch {
	case serverFault(status):
		l.Error().Err(err).Msg(msg)
	case status == statusClientClosedRequest || status == http.StatusGatewayTimeout:
		l.Debug().Err(err).Msg(msg)
	}
	response.Error(c, status, code, publicMessage(status, err))
}

// errorEvent builds the connection-scoped socket error for err.
func errorEvent(err error) *domain.ErrorMessage {
	status, code := classify(err)
	return domain.NewErrorMessage(code, publicMessage(status, err))
}

// resolveAuthor applies the identity rule: an authenticated caller may only
// act as itself, and an empty author defaults to the caller.
func resolveAuthor(identity, author string) (string, error) {
	author = strings.TrimSpace(author)
	if identity == "" {
		return author, nil
	}
	if author != "" && author != identity {
		return "", errAuthorMismatch
	}
	return identity, nil
}
