package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindOutputParse        Kind = "output_parse"
	KindValidation         Kind = "validation"
	KindSQLGeneration      Kind = "sql_generation"
	KindServiceUnavailable Kind = "service_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindConversation       Kind = "conversation"
	KindInternal           Kind = "internal"
)

// DefaultRetryAfter is suggested to clients when an upstream gives no hint.
const DefaultRetryAfter = 60 * time.Second

// Sentinels for errors.Is checks against a kind.
var (
	ErrOutputParse        = &Error{Kind: KindOutputParse}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrSQLGeneration      = &Error{Kind: KindSQLGeneration}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrConversation       = &Error{Kind: KindConversation}
	ErrInternal           = &Error{Kind: KindInternal}
)

// Error carries the kind plus the details each kind cares about. Only Kind,
// Field and the retry hints are ever shown to clients; Msg and Err stay in logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// Validation / SQL generation
	Field     string
	QueryType string

	// Service unavailable / rate limited
	Service    string
	RetryAfter time.Duration
	Usage      int64
	Limit      int64

	// Conversation
	SessionID string
	Operation string
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func OutputParse(msg string, err error) *Error {
	return &Error{Kind: KindOutputParse, Msg: msg, Err: err}
}

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: msg}
}

func SQLGeneration(queryType, field, msg string) *Error {
	return &Error{Kind: KindSQLGeneration, QueryType: queryType, Field: field, Msg: msg}
}

func ServiceUnavailable(service string, retryAfter time.Duration, err error) *Error {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &Error{Kind: KindServiceUnavailable, Service: service, RetryAfter: retryAfter, Msg: "upstream exhausted retries", Err: err}
}

func RateLimited(usage, limit int64, retryAfter time.Duration) *Error {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &Error{Kind: KindRateLimited, Usage: usage, Limit: limit, RetryAfter: retryAfter}
}

func Conversation(sessionID, operation, msg string) *Error {
	return &Error{Kind: KindConversation, SessionID: sessionID, Operation: operation, Msg: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// From returns err as an *Error, mapping anything uncategorized to KindInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unexpected failure", err)
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	return From(err).Kind
}

// Code is the numeric status placed in the response envelope.
func (e *Error) Code() int {
	switch e.Kind {
	case KindValidation:
		return 401
	case KindOutputParse:
		return 422
	case KindRateLimited:
		return 429
	case KindServiceUnavailable:
		return 503
	default:
		return 502
	}
}

// HTTPStatus maps the kind onto an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindOutputParse:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the stable, client-safe message for the kind.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindOutputParse:
		return "could not understand the request, please rephrase"
	case KindValidation:
		if e.Field != "" {
			return "invalid request: " + e.Field
		}
		return "invalid request"
	case KindSQLGeneration:
		return "could not build a query for this request"
	case KindServiceUnavailable:
		return "model service temporarily unavailable, retry later"
	case KindRateLimited:
		return "too many requests, retry later"
	case KindConversation:
		return "conversation state unavailable"
	default:
		return "internal error"
	}
}
