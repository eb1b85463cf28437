package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	wferrors "github.com/ejc3/workflow/pkg/errors"
)

func TestRecordStorageError(t *testing.T) {
	initial := testutil.ToFloat64(storageErrors.With(prometheus.Labels{
		"operation":  "UpdateRun",
		"error_type": "not_found",
	}))

	RecordStorageError("UpdateRun", "not_found")

	got := testutil.ToFloat64(storageErrors.With(prometheus.Labels{
		"operation":  "UpdateRun",
		"error_type": "not_found",
	}))
	if got != initial+1 {
		t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "none"},
		{name: "canceled", err: context.Canceled, want: "context_canceled"},
		{name: "deadline", err: context.DeadlineExceeded, want: "deadline_exceeded"},
		{name: "not found", err: &wferrors.NotFoundError{Resource: "run", ID: "r1"}, want: "not_found"},
		{name: "conflict", err: &wferrors.ConflictError{Resource: "job", ID: "j1"}, want: "conflict"},
		{name: "validation", err: &wferrors.ValidationError{Field: "queueName", Message: "bad"}, want: "validation"},
		{name: "unknown", err: errors.New("boom"), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(tt.err); got != tt.want {
				t.Errorf("ErrorType() = %q, want %q", got, tt.want)
			}
		})
	}
}
