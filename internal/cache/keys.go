package cache

import (
	"fmt"

	"carecore/pkg/domain"
)

// Cache keys encode every input that affects the returned value: requesting
// identity, role, and (for single-item reads) the entity id. Omitting the role
// would let one role observe another's filtered view.

// ListKey addresses an actor's role-filtered care-plan list.
func ListKey(actor domain.Actor) string {
	return fmt.Sprintf("list:%s:%s", actor.UserID, actor.Role)
}

// ItemKey addresses a single plan as seen by one actor.
func ItemKey(planID string, actor domain.Actor) string {
	return fmt.Sprintf("item:%s:%s:%s", planID, actor.UserID, actor.Role)
}

// PlanPrefix matches every detail entry for a plan across all actors.
func PlanPrefix(planID string) string {
	return "item:" + planID + ":"
}

// UserListPrefix matches a user's list entries across all roles.
func UserListPrefix(userID string) string {
	return "list:" + userID + ":"
}
