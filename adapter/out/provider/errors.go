// Package provider implements the mail provider adapters (Gmail and
// Outlook) behind out.EmailProviderPort.
package provider

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// wrapGmailError maps Gmail API failures onto the engine's error
// vocabulary. 404 becomes apperr.NotFound so the pipeline can drop
// events for deleted messages; everything else is a provider error.
func wrapGmailError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return apperr.NotFound("message")
		case http.StatusUnauthorized, http.StatusForbidden:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return apperr.ProviderError(err).WithDetail("retryable", true)
			}
			return apperr.ProviderError(err).WithDetail("retryable", false)
		case http.StatusTooManyRequests:
			return apperr.ProviderError(err).WithDetail("retryable", true)
		}
	}
	return apperr.ProviderError(err).WithDetail("op", op)
}

// wrapGraphStatus maps a Microsoft Graph response status the same way.
func wrapGraphStatus(status int, body string, op string) error {
	switch status {
	case http.StatusNotFound:
		return apperr.NotFound("message")
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.New(apperr.CodeProviderError, "graph auth failure: "+body, http.StatusBadGateway).
			WithDetail("retryable", false)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return apperr.New(apperr.CodeProviderError, "graph throttled", http.StatusBadGateway).
			WithDetail("retryable", true)
	}
	return apperr.New(apperr.CodeProviderError, "graph request failed: "+body, http.StatusBadGateway).
		WithDetail("op", op).WithDetail("status", status)
}
