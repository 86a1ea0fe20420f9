// Package classify maps opaque provider and transport failures into the
// small taxonomy the sync workflows act on. Status-code tables differ
// per provider; the four output kinds are shared, which is the seam
// that lets one orchestrator serve every provider.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spolu/ingestd/internal/provider"
)

// Kind is the workflow-visible error category.
type Kind string

const (
	// KindTransient covers 5xx, gateway timeouts and rate limits; safe
	// to retry with backoff.
	KindTransient Kind = "transient_provider_error"
	// KindAuth covers expired or invalid tokens; never retried, the
	// connector is paused for reauthorization instead.
	KindAuth Kind = "auth_error"
	// KindPermanentItem covers 404-style permanently-gone objects; the
	// item is skipped and the sync continues.
	KindPermanentItem Kind = "permanent_item_error"
	// KindUnknown is everything else; retried a small number of times
	// so bugs are not masked as provider flakiness.
	KindUnknown Kind = "unknown_error"
)

// Error wraps a provider failure with its classified kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classifier maps a raw error to a Kind for one provider.
type Classifier interface {
	Classify(err error) Kind
}

// statusClassifier classifies via a per-provider HTTP status table,
// falling back to shared transport heuristics.
type statusClassifier struct {
	provider provider.Kind
	statuses map[int]Kind
}

func (c *statusClassifier) Classify(err error) Kind {
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		if kind, ok := c.statuses[statusErr.StatusCode]; ok {
			return kind
		}
		switch {
		case statusErr.StatusCode == 429:
			return KindTransient
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return KindAuth
		case statusErr.StatusCode == 404 || statusErr.StatusCode == 410:
			return KindPermanentItem
		case statusErr.StatusCode >= 500:
			return KindTransient
		}
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "unreachable"):
		return KindTransient
	case strings.Contains(msg, "token expired"), strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "unauthorized"):
		return KindAuth
	}
	return KindUnknown
}
