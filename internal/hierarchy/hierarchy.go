// Package hierarchy defines the internal-id scheme and parent-chain
// resolution for content nodes surfaced by connector syncs.
package hierarchy

import "fmt"

// NodeKind discriminates the type of a content node. Internal ids embed
// the kind so two kinds sharing a provider-native id never collide.
type NodeKind string

const (
	KindFolder   NodeKind = "folder"
	KindFile     NodeKind = "file"
	KindChannel  NodeKind = "channel"
	KindDatabase NodeKind = "database"
)

// Permission is the per-node access state shown to the permission UI.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionReadWrite Permission = "read_write"
	PermissionNone      Permission = "none"
)

// Node is the hierarchy-relevant projection of a content node.
type Node struct {
	InternalID       string     `json:"internalId"`
	ParentInternalID string     `json:"parentInternalId,omitempty"`
	Kind             NodeKind   `json:"kind"`
	Permission       Permission `json:"permission"`
	Title            string     `json:"title,omitempty"`
	SourceURL        string     `json:"sourceUrl,omitempty"`
	LastUpdatedAt    int64      `json:"lastUpdatedAt,omitempty"`
}

// InternalID builds the deterministic id for a node. The scheme is
// {connectorID}-{kind}-{nativeID}; it is injective per (connector, kind)
// because neither connector ids nor kinds contain the native id part.
func InternalID(connectorID string, kind NodeKind, nativeID string) string {
	return fmt.Sprintf("%s-%s-%s", connectorID, kind, nativeID)
}

// RootID returns the synthetic root id for a connector. Every parent
// chain terminates here.
func RootID(connectorID string) string {
	return fmt.Sprintf("%s-root", connectorID)
}

// IsRoot reports whether the internal id is the connector's synthetic
// root. The comparison is exact: a node whose native id ends in "root"
// is an ordinary node.
func IsRoot(connectorID, internalID string) bool {
	return internalID == RootID(connectorID)
}

// IsDescendantOf reports whether a node whose ancestor chain is
// candidateChain (nearest first) lives inside the subtree rooted at
// ancestorID.
func IsDescendantOf(ancestorID string, candidateChain []string) bool {
	for _, id := range candidateChain {
		if id == ancestorID {
			return true
		}
	}
	return false
}
