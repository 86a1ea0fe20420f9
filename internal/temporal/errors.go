package temporal

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/spolu/ingestd/internal/classify"
	"github.com/spolu/ingestd/internal/provider"
)

// Application error types surfaced to the workflow retry machinery.
// Auth and permanent-item failures are non-retryable: retrying them
// cannot succeed without outside intervention.
const (
	ErrTypeTransient     = "TRANSIENT_PROVIDER_ERROR"
	ErrTypeAuth          = "AUTH_ERROR"
	ErrTypePermanentItem = "PERMANENT_ITEM_ERROR"
	ErrTypeUnknown       = "UNKNOWN_ERROR"
)

// Unknown errors get a small bounded retry budget instead of the full
// transient policy. Past this attempt count they become non-retryable.
const unknownErrorMaxAttempts = 3

// activityError translates a provider error into a typed application
// error so the activity retry policy can act on its classification.
func (a *Activities) activityError(ctx context.Context, kind provider.Kind, err error) error {
	switch a.classifiers.Classify(kind, err) {
	case classify.KindAuth:
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeAuth, err)
	case classify.KindPermanentItem:
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanentItem, err)
	case classify.KindTransient:
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeTransient, err)
	default:
		if activity.GetInfo(ctx).Attempt >= unknownErrorMaxAttempts {
			return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnknown, err)
		}
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeUnknown, err)
	}
}

// failureType extracts the application error type from a workflow-side
// activity failure, unwrapping the ActivityError envelope.
func failureType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
