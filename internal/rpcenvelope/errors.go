package rpcenvelope

import "net/http"

// Error is implemented by every member of the RPC error taxonomy. Status
// is the HTTP status code the server responds with, or (for client-side
// errors reconstructed from a response) the status the server actually
// sent.
type Error interface {
	error
	Status() int
	Code() string
}

// Body is the wire shape of an error response: everything the client needs
// to reconstruct a typed Error from decoded envelope bytes.
type Body struct {
	Error   string         `msgpack:"error"`
	Code    string         `msgpack:"code,omitempty"`
	Payload any            `msgpack:"payload,omitempty"`
	Errors  []ValidationIssue `msgpack:"errors,omitempty"`
	Input   any            `msgpack:"input,omitempty"`
}

// ValidationIssue describes a single schema validation failure.
type ValidationIssue struct {
	Path    string `msgpack:"path"`
	Message string `msgpack:"message"`
}

type baseError struct {
	msg    string
	status int
	code   string
}

func (e *baseError) Error() string { return e.msg }
func (e *baseError) Status() int   { return e.status }
func (e *baseError) Code() string  { return e.code }

// RequestInvalidTypeHeader: the request's Content-Type was not
// application/vnd.msgpack.
type RequestInvalidTypeHeaderError struct{ *baseError }

func NewRequestInvalidTypeHeader() *RequestInvalidTypeHeaderError {
	return &RequestInvalidTypeHeaderError{&baseError{
		msg: "request content-type must be " + ContentType, status: http.StatusBadRequest, code: "RequestInvalidTypeHeader",
	}}
}

// RequestInvalidBody: the request body failed to decode.
type RequestInvalidBodyError struct{ *baseError }

func NewRequestInvalidBody(cause error) *RequestInvalidBodyError {
	msg := "request body is not a valid envelope"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &RequestInvalidBodyError{&baseError{msg: msg, status: http.StatusBadRequest, code: "RequestInvalidBody"}}
}

// ValidationFailed: the decoded input failed schema validation. Carries
// the structured issue list and the raw input that was rejected.
type ValidationFailedError struct {
	*baseError
	Issues []ValidationIssue
	Input  any
}

func NewValidationFailed(issues []ValidationIssue, input any) *ValidationFailedError {
	return &ValidationFailedError{
		baseError: &baseError{msg: "validation failed", status: http.StatusUnprocessableEntity, code: "ValidationFailed"},
		Issues:    issues,
		Input:     input,
	}
}

// AuthenticationRequired: authRequired was set and no user resolved from
// the Authorization header.
type AuthenticationRequiredError struct{ *baseError }

func NewAuthenticationRequired() *AuthenticationRequiredError {
	return &AuthenticationRequiredError{&baseError{msg: "authentication required", status: http.StatusUnauthorized, code: "AuthenticationRequired"}}
}

// PermissionDenied: raised by the client when a call receives 401/403.
type PermissionDeniedError struct{ *baseError }

func NewPermissionDenied() *PermissionDeniedError {
	return &PermissionDeniedError{&baseError{msg: "permission denied", status: http.StatusForbidden, code: "PermissionDenied"}}
}

// NotFound: raised by the client when a call receives 404.
type NotFoundError struct{ *baseError }

func NewNotFound() *NotFoundError {
	return &NotFoundError{&baseError{msg: "not found", status: http.StatusNotFound, code: "NotFound"}}
}

// ValidationError: the client-side reconstruction of a 422 response.
type ValidationError struct {
	*baseError
	Issues []ValidationIssue
}

func NewValidationError(issues []ValidationIssue) *ValidationError {
	return &ValidationError{
		baseError: &baseError{msg: "validation error", status: http.StatusUnprocessableEntity, code: "ValidationFailed"},
		Issues:    issues,
	}
}

// HandledError is an application-declared error with a caller-chosen code,
// message, status, and payload. Handlers raise this directly; the server
// surfaces it as-is instead of turning it into a 500.
type HandledError struct {
	*baseError
	Payload any
}

func NewHandledError(status int, code, message string, payload any) *HandledError {
	return &HandledError{
		baseError: &baseError{msg: message, status: status, code: code},
		Payload:   payload,
	}
}

// ServerError: the client-side reconstruction of a declared HandledError
// (or any other 400/500 the server chose to expose structurally).
type ServerError struct {
	*baseError
	Payload any
}

func NewServerError(status int, code, message string, payload any) *ServerError {
	return &ServerError{
		baseError: &baseError{msg: message, status: status, code: code},
		Payload:   payload,
	}
}

// InternalServerError: any handler panic or unexpected error.
type InternalServerError struct{ *baseError }

func NewInternalServerError() *InternalServerError {
	return &InternalServerError{&baseError{msg: "internal server error", status: http.StatusInternalServerError, code: "InternalServerError"}}
}

// UnexpectedStatusError: the client received a status outside the taxonomy.
type UnexpectedStatusError struct {
	*baseError
	HTTPStatus int
}

func NewUnexpectedStatus(status int) *UnexpectedStatusError {
	return &UnexpectedStatusError{
		baseError:  &baseError{msg: "unexpected response status", status: status, code: "Unexpected"},
		HTTPStatus: status,
	}
}
