package core

import "carecore/pkg/domain"

// Access policy: a pure decision layer over the closed Role enum. No I/O
// happens here; the same predicates back both the store read path and the
// cache read path, and the cache key carries the (user, role) pair so a cached
// decision can never serve another actor.

// planWriteRoles enumerates roles permitted to create, update, or delete care
// plans.
var planWriteRoles = map[Role]bool{
	RoleFamilyMember: true,
	RoleAdmin:        true,
}

// taskStatusRoles enumerates roles that may ever write a task status. A care
// recipient never writes statuses, even if a task was mistakenly assigned to
// them.
var taskStatusRoles = map[Role]bool{
	RoleCaregiver:    true,
	RoleFamilyMember: true,
	RoleAdmin:        true,
}

// CanWritePlan reports whether role may create, update, or delete care plans.
func CanWritePlan(role Role) bool {
	return planWriteRoles[role]
}

// CanSeePlan reports whether actor has read visibility of plan.
func CanSeePlan(actor Actor, plan CarePlan) bool {
	switch actor.Role {
	case RoleAdmin, RoleFamilyMember:
		return true
	case RoleCaregiver:
		return plan.HasAssignee(actor.UserID)
	case RoleUser:
		return plan.OwnerUserID == actor.UserID
	}
	return false
}

// CanWriteTaskStatus reports whether actor may set the status of task.
func CanWriteTaskStatus(actor Actor, task Task) bool {
	if !taskStatusRoles[actor.Role] {
		return false
	}
	if actor.Role == RoleAdmin {
		return true
	}
	return task.AssignedTo == actor.UserID
}

// CanTouchNotification reports whether actor may read, mark, or delete n.
func CanTouchNotification(actor Actor, n Notification) bool {
	return actor.Role == RoleAdmin || n.UserID == actor.UserID
}

// FilterPlans returns the subset of plans visible to actor. The filter must
// be applied identically whether a list is served from cache or from the
// store; callers cache only already-filtered results.
func FilterPlans(actor Actor, plans []CarePlan) []CarePlan {
	out := make([]CarePlan, 0, len(plans))
	for _, p := range plans {
		if CanSeePlan(actor, p) {
			out = append(out, p)
		}
	}
	return out
}

// requireActor rejects requests carrying no identity or an unknown role.
func requireActor(actor Actor) error {
	if actor.UserID == "" {
		return domain.UnauthenticatedError{}
	}
	if !actor.Role.Valid() {
		return domain.UnauthenticatedError{}
	}
	return nil
}
