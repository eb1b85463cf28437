package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	wferrors "github.com/ejc3/workflow/pkg/errors"
)

var (
	storageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_storage_errors_total",
			Help: "Total storage operation errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
)

// RecordStorageError increments the storage error counter.
// operation should be the store method name (e.g. UpdateRun, EnqueueJob).
func RecordStorageError(operation, errorType string) {
	storageErrors.WithLabelValues(operation, errorType).Inc()
}

// ErrorType classifies an error for the error_type label.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case wferrors.IsNotFound(err):
		return "not_found"
	case wferrors.IsConflict(err):
		return "conflict"
	case wferrors.IsValidation(err):
		return "validation"
	default:
		return "unknown"
	}
}
