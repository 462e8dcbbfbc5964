// Package apierr provides the gateway's tagged error taxonomy and its
// rendering in the OpenAI-compatible error format.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
)

// Kind is a stable error category with a fixed HTTP status mapping.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindUnauthenticated     Kind = "unauthenticated"
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindKeyBlocked          Kind = "key_blocked"
	KindAccessDenied        Kind = "access_denied"
	KindResourceNotFound    Kind = "resource_not_found"
	KindModelNotAllowed     Kind = "model_not_allowed"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamMalformed   Kind = "upstream_malformed"
	KindUpstreamError       Kind = "upstream_error"
	KindInternal            Kind = "internal_error"
)

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypePermissionErr     = "permission_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeInvalidAPIKey         = "invalid_api_key"
	CodeInternalError         = "internal_error"
	CodeProviderError         = "provider_error"
	CodeProviderMalformed     = "provider_malformed_response"
	CodeInvalidRequest        = "invalid_request"
	CodeMissingAuthorization  = "missing_authorization"
	CodeKeyBlocked            = "key_blocked"
	CodeAccessDenied          = "access_denied"
	CodeResourceNotFound      = "resource_not_found"
	CodeModelNotFound         = "model_not_found"
	CodeStreamingNotSupported = "streaming_not_supported_across_providers"
)

// Error is the tagged error carried across package boundaries. Status and
// Body are set only for KindUpstreamError, which forwards a non-retryable
// upstream response verbatim.
type Error struct {
	Kind    Kind
	Message string
	Code    string

	Status int
	Body   []byte

	cause error
}

func (e *Error) Error() string {
	if e.Kind == KindUpstreamError {
		return fmt.Sprintf("%s: upstream returned %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches the underlying error for errors.Is/As chains.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// HTTPStatus implements the StatusCoder contract shared with the provider
// layer.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return fasthttp.StatusBadRequest
	case KindUnauthenticated, KindInvalidCredentials:
		return fasthttp.StatusUnauthorized
	case KindKeyBlocked, KindAccessDenied:
		return fasthttp.StatusForbidden
	case KindResourceNotFound, KindModelNotAllowed:
		return fasthttp.StatusNotFound
	case KindUpstreamUnavailable, KindUpstreamMalformed:
		return fasthttp.StatusBadGateway
	case KindUpstreamError:
		return e.Status
	default:
		return fasthttp.StatusInternalServerError
	}
}

func (e *Error) wire() (errType, code string) {
	switch e.Kind {
	case KindBadRequest:
		code = e.Code
		if code == "" {
			code = CodeInvalidRequest
		}
		return TypeInvalidRequest, code
	case KindUnauthenticated:
		return TypeAuthenticationErr, CodeMissingAuthorization
	case KindInvalidCredentials:
		return TypeAuthenticationErr, CodeInvalidAPIKey
	case KindKeyBlocked:
		return TypePermissionErr, CodeKeyBlocked
	case KindAccessDenied:
		return TypePermissionErr, CodeAccessDenied
	case KindResourceNotFound:
		return TypeInvalidRequest, CodeResourceNotFound
	case KindModelNotAllowed:
		return TypeInvalidRequest, CodeModelNotFound
	case KindUpstreamUnavailable:
		return TypeProviderError, CodeProviderError
	case KindUpstreamMalformed:
		return TypeProviderError, CodeProviderMalformed
	default:
		return TypeServerError, CodeInternalError
	}
}

// BadRequest reports a request body or parameter that failed validation.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// StreamingNotSupported reports a streaming request that would cross
// provider schemas.
func StreamingNotSupported() *Error {
	return &Error{
		Kind:    KindBadRequest,
		Message: "streaming is not supported across provider schemas",
		Code:    CodeStreamingNotSupported,
	}
}

// Unauthenticated reports missing or malformed credentials.
func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// InvalidCredentials reports credentials that do not resolve to a known
// key or session.
func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
}

// KeyBlocked reports a virtual key that exists but has been blocked.
func KeyBlocked() *Error {
	return &Error{Kind: KindKeyBlocked, Message: "virtual key is blocked"}
}

// AccessDenied reports a failed authorization check.
func AccessDenied(msg string) *Error {
	return &Error{Kind: KindAccessDenied, Message: msg}
}

// ResourceNotFound reports a missing entity.
func ResourceNotFound(msg string) *Error {
	return &Error{Kind: KindResourceNotFound, Message: msg}
}

// ModelNotAllowed reports a model the presented virtual key is not linked to.
func ModelNotAllowed(model string) *Error {
	return &Error{
		Kind:    KindModelNotAllowed,
		Message: fmt.Sprintf("model %q is not available for this key", model),
	}
}

// UpstreamUnavailable reports that every candidate connection failed with a
// retryable error.
func UpstreamUnavailable(msg string) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: msg}
}

// UpstreamMalformed reports a 2xx upstream response that failed to decode.
func UpstreamMalformed(cause error) *Error {
	return &Error{
		Kind:    KindUpstreamMalformed,
		Message: "upstream returned a malformed response",
		cause:   cause,
	}
}

// Upstream carries a non-retryable upstream response to be forwarded
// verbatim.
func Upstream(status int, body []byte) *Error {
	return &Error{Kind: KindUpstreamError, Status: status, Body: body}
}

// Internal reports an invariant violation or unrecoverable local failure.
func Internal(msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg}
}

// KindOf extracts the Kind from err. Untagged errors classify as
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given
// HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteError renders err on the response. KindUpstreamError forwards the
// upstream status and body untouched; untagged errors become 500s.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal("internal server error")
	}
	if e.Kind == KindUpstreamError {
		ctx.SetStatusCode(e.Status)
		ctx.SetContentType("application/json")
		ctx.SetBody(e.Body)
		return
	}
	errType, code := e.wire()
	Write(ctx, e.HTTPStatus(), e.Message, errType, code)
}
