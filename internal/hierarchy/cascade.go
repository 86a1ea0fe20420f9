package hierarchy

import "sort"

// PermissionUpdate is one node mutation inside a cascade.
type PermissionUpdate struct {
	InternalID string
	Permission Permission
}

// Inherited returns the permission a newly-discovered child picks up
// from its container.
func Inherited(parent Permission) Permission {
	if parent == PermissionNone {
		return PermissionNone
	}
	return parent
}

// PlanRevoke orders the updates for revoking a container. Descendants
// are updated deepest first and the container comes last, so a partial
// failure never leaves a child with broader access than its updated
// parent. depth maps internal id to distance from the container.
func PlanRevoke(containerID string, descendants []Node, depth map[string]int) []PermissionUpdate {
	updates := make([]PermissionUpdate, 0, len(descendants)+1)
	for _, n := range descendants {
		updates = append(updates, PermissionUpdate{InternalID: n.InternalID, Permission: PermissionNone})
	}
	sort.SliceStable(updates, func(i, j int) bool {
		return depth[updates[i].InternalID] > depth[updates[j].InternalID]
	})
	return append(updates, PermissionUpdate{InternalID: containerID, Permission: PermissionNone})
}

// PlanAllow orders the updates for allowing a container: the container
// first, then descendants shallowest first. The mirrored ordering keeps
// the no-child-broader-than-parent invariant during partial failures.
func PlanAllow(containerID string, perm Permission, descendants []Node, depth map[string]int) []PermissionUpdate {
	updates := []PermissionUpdate{{InternalID: containerID, Permission: perm}}
	children := make([]PermissionUpdate, 0, len(descendants))
	for _, n := range descendants {
		children = append(children, PermissionUpdate{InternalID: n.InternalID, Permission: perm})
	}
	sort.SliceStable(children, func(i, j int) bool {
		return depth[children[i].InternalID] < depth[children[j].InternalID]
	})
	return append(updates, children...)
}

// Reconcile returns the updates needed to restore the cascade invariant
// after a partially-applied revoke: any node whose parent is "none" but
// which still holds read access gets revoked. Last write per node wins;
// the sweep repeats until a pass produces no update.
func Reconcile(nodes []Node) []PermissionUpdate {
	perm := make(map[string]Permission, len(nodes))
	parent := make(map[string]string, len(nodes))
	for _, n := range nodes {
		perm[n.InternalID] = n.Permission
		parent[n.InternalID] = n.ParentInternalID
	}

	var updates []PermissionUpdate
	for {
		changed := false
		for _, n := range nodes {
			p := parent[n.InternalID]
			pp, known := perm[p]
			if !known {
				// Unknown parents include the synthetic root, which is
				// never a stored node.
				continue
			}
			if pp == PermissionNone && perm[n.InternalID] != PermissionNone {
				perm[n.InternalID] = PermissionNone
				updates = append(updates, PermissionUpdate{InternalID: n.InternalID, Permission: PermissionNone})
				changed = true
			}
		}
		if !changed {
			return updates
		}
	}
}
