package rpcenvelope

import "net/http"

// DecodeErrorBody reconstructs the appropriate client-side Error for a
// non-200 response, given its HTTP status and decoded Body. This
// implements the status dispatch table from SPEC_FULL.md §6.6 / the
// distilled spec's §4.3.
func DecodeErrorBody(status int, body Body) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewPermissionDenied()
	case http.StatusNotFound:
		return NewNotFound()
	case http.StatusUnprocessableEntity:
		return NewValidationError(body.Errors)
	case http.StatusBadRequest, http.StatusInternalServerError:
		return NewServerError(status, body.Code, body.Error, body.Payload)
	default:
		return NewUnexpectedStatus(status)
	}
}
