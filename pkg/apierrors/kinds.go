package apierrors

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind is a failure class in the closed error taxonomy
type Kind string

const (
	KindValidation         Kind = "validation"
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindNotFound           Kind = "not_found"
	KindRateLimit          Kind = "rate_limit"
	KindServiceUnavailable Kind = "service_unavailable"
	KindDatabase           Kind = "database"
	KindExternalAPI        Kind = "external_api"
	KindInternalServer     Kind = "internal_server"
	KindTimeout            Kind = "timeout"
	KindNetwork            Kind = "network"
)

// Kinds lists every kind in the taxonomy
var Kinds = []Kind{
	KindValidation,
	KindAuthentication,
	KindAuthorization,
	KindNotFound,
	KindRateLimit,
	KindServiceUnavailable,
	KindDatabase,
	KindExternalAPI,
	KindInternalServer,
	KindTimeout,
	KindNetwork,
}

var kindStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindAuthentication:     http.StatusUnauthorized,
	KindAuthorization:      http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindRateLimit:          http.StatusTooManyRequests,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindDatabase:           http.StatusServiceUnavailable,
	KindExternalAPI:        http.StatusServiceUnavailable,
	KindInternalServer:     http.StatusInternalServerError,
	KindTimeout:            http.StatusRequestTimeout,
	KindNetwork:            http.StatusServiceUnavailable,
}

var kindMessage = map[Kind]string{
	KindValidation:         "Invalid input data. Please check your request and try again.",
	KindAuthentication:     "Authentication failed. Please check your credentials.",
	KindAuthorization:      "Access denied. You don't have permission to perform this action.",
	KindNotFound:           "The requested resource was not found.",
	KindRateLimit:          "Too many requests. Please slow down and try again later.",
	KindServiceUnavailable: "Service is temporarily unavailable. Please try again later.",
	KindDatabase:           "Database error occurred. Please try again later.",
	KindExternalAPI:        "External service error. Please try again later.",
	KindInternalServer:     "An internal error occurred. Our team has been notified.",
	KindTimeout:            "Request timed out. Please try again.",
	KindNetwork:            "Network error occurred. Please check your connection.",
}

// Status returns the canonical HTTP status for the kind
func (k Kind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns the static user-facing message for the kind
func (k Kind) Message() string {
	if m, ok := kindMessage[k]; ok {
		return m
	}
	return kindMessage[KindInternalServer]
}

// Code derives the stable envelope code, e.g. E429_RATE_LIMIT
func (k Kind) Code(status int) string {
	return fmt.Sprintf("E%d_%s", status, strings.ToUpper(string(k)))
}

// Retryable reports whether clients may retry requests failing with this kind
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindServiceUnavailable, KindDatabase, KindExternalAPI, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

var kindRetryAfter = map[Kind]int{
	KindRateLimit:          60,
	KindServiceUnavailable: 30,
	KindDatabase:           5,
	KindExternalAPI:        10,
	KindTimeout:            5,
	KindNetwork:            5,
}

// RetryAfterSeconds is the retry hint for failures of this kind that carry
// none of their own. It is 0 for kinds that are not retryable.
func (k Kind) RetryAfterSeconds() int {
	if !k.Retryable() {
		return 0
	}
	return kindRetryAfter[k]
}

func (k Kind) String() string {
	return string(k)
}
