package hierarchy

import (
	"context"
	"fmt"
)

// CycleDetectedError is raised when a stored parent pointer loops back
// onto an id already visited. Parent pointers are provider-reported, so
// inconsistent data must fail the resolution, not hang it.
type CycleDetectedError struct {
	NodeID  string
	Visited []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("parent chain cycle at %s (visited %d nodes)", e.NodeID, len(e.Visited))
}

// ParentLookup fetches the parent pointer for an internal id. ok is
// false when the node is unknown to the store.
type ParentLookup func(ctx context.Context, internalID string) (parentID string, ok bool, err error)

// ResolveParentChain walks stored parent pointers from internalID up to
// the connector's synthetic root and returns the ancestor ids nearest
// first, ending with the root id. The walk is iterative with a seen-set
// guard; a repeated id fails with CycleDetectedError.
func ResolveParentChain(ctx context.Context, connectorID, internalID string, lookup ParentLookup) ([]string, error) {
	root := RootID(connectorID)
	if internalID == root {
		return []string{root}, nil
	}

	seen := map[string]bool{internalID: true}
	order := []string{internalID}
	var chain []string

	current := internalID
	for {
		parent, ok, err := lookup(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to look up parent of %s: %w", current, err)
		}
		if !ok || parent == "" || parent == root {
			chain = append(chain, root)
			return chain, nil
		}
		if seen[parent] {
			return nil, &CycleDetectedError{NodeID: parent, Visited: order}
		}
		seen[parent] = true
		order = append(order, parent)
		chain = append(chain, parent)
		current = parent
	}
}
