// Package observability provides the service's OpenTelemetry metrics and their Prometheus endpoint.
package observability

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
)

// Attribute keys
const (
	attrMethod = "method"
	attrRoute  = "route"
	attrStatus = "status"
	attrOp     = "op"
	attrResult = "result"
	attrReason = "reason"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

// routeAttr expects the matched route template (/api/v1/jobs/:id), never the raw path.
func routeAttr(route string) attribute.KeyValue {
	if route == "" {
		route = "unmatched"
	}
	return attribute.String(attrRoute, route)
}

func statusCodeAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func jobStatusAttr(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func resultAttr(err error) attribute.KeyValue {
	return attribute.String(attrResult, Result(err))
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

// Result classifies err into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrNotCancellable):
		return "not_cancellable"
	case errors.Is(err, apperr.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperr.ErrUpstream):
		return "upstream"
	default:
		return "error"
	}
}
