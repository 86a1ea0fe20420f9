// Package provider defines the adapter contract consumed by sync
// activities. Per-provider HTTP clients live behind this seam and raise
// raw errors; classification happens in internal/classify.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/spolu/ingestd/internal/hierarchy"
)

// Kind identifies a supported provider.
type Kind string

const (
	KindSlack       Kind = "slack"
	KindConfluence  Kind = "confluence"
	KindNotion      Kind = "notion"
	KindZendesk     Kind = "zendesk"
	KindGitHub      Kind = "github"
	KindGoogleDrive Kind = "google_drive"
	KindWebcrawler  Kind = "webcrawler"
)

// ConnectionRef points at the provider-side account a connector is
// bound to. Token refresh is the adapter's responsibility.
type ConnectionRef struct {
	ConnectionID string         `json:"connectionId"`
	WorkspaceID  string         `json:"workspaceId"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Unit is the smallest independently-paginated scope of a sync: a
// Confluence space, a Zendesk brand, a GitHub repo, a crawl seed.
type Unit struct {
	ID    string             `json:"id"`
	Title string             `json:"title"`
	Kind  hierarchy.NodeKind `json:"kind"`
}

// Item is one remote object returned by a page fetch.
type Item struct {
	NativeID       string             `json:"nativeId"`
	ParentNativeID string             `json:"parentNativeId,omitempty"`
	Kind           hierarchy.NodeKind `json:"kind"`
	Title          string             `json:"title"`
	SourceURL      string             `json:"sourceUrl,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Page is the result of fetching one cursor page. NextCursor empty
// means the unit is exhausted.
type Page struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Adapter is the typed client contract for one provider. Adapters must
// return the raw transport error (StatusError where an HTTP status is
// known) so the classifier can map it.
type Adapter interface {
	Kind() Kind
	ListUnits(ctx context.Context, ref ConnectionRef) ([]Unit, error)
	FetchPage(ctx context.Context, ref ConnectionRef, unitID, cursor string, limit int) (*Page, error)
	GetAccessToken(ctx context.Context, ref ConnectionRef) (string, error)
}

// StatusError carries a provider HTTP failure with its status code.
type StatusError struct {
	Provider   Kind
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}
