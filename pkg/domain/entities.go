// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by carecore.
package domain

import (
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityCarePlan identifies a care plan document.
	EntityCarePlan EntityType = "careplan"
	// EntityTask identifies a task embedded in a care plan.
	EntityTask EntityType = "task"
	// EntityNotification identifies a notification record.
	EntityNotification EntityType = "notification"
)

// Role determines both write permissions and the read filtering applied to an
// actor. Roles are carried per request by the authentication collaborator and
// never persisted.
type Role string

// Canonical actor roles.
const (
	// RoleUser is a care recipient; sees only plans they own.
	RoleUser Role = "user"
	// RoleCaregiver sees only plans containing a task assigned to them.
	RoleCaregiver Role = "caregiver"
	// RoleFamilyMember manages plans and sees all of them.
	RoleFamilyMember Role = "family_member"
	RoleAdmin        Role = "admin"
)

// Valid reports whether r is one of the four canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCaregiver, RoleFamilyMember, RoleAdmin:
		return true
	}
	return false
}

// Actor is an authenticated request identity.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// TaskStatus enumerates canonical task workflow states. Transitions are
// unordered: any status is reachable from any other.
type TaskStatus string

// Canonical task statuses.
const (
	TaskStatusPending    TaskStatus = "Pending"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusCompleted  TaskStatus = "Completed"
)

// Valid reports whether s is one of the three enumerated statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// NotificationType enumerates the notification kinds derived from mutations.
type NotificationType string

// Canonical notification types; realtime events are named after them.
const (
	NotificationCarePlanAdded   NotificationType = "careplan_added"
	NotificationCarePlanUpdated NotificationType = "careplan_updated"
	NotificationTaskAssigned    NotificationType = "task_assigned"
	NotificationTaskReminder    NotificationType = "task_reminder"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a unit of work embedded in a care plan. Tasks are not independently
// addressable in persistence; they live and die with their parent document.
type Task struct {
	ID         string     `json:"id"`
	TaskName   string     `json:"task_name"`
	AssignedTo string     `json:"assigned_to"`
	DueDate    time.Time  `json:"due_date"`
	Status     TaskStatus `json:"status"`
}

// CarePlan is a titled collection of tasks owned by a care recipient.
// OwnerUserID is immutable once set and Tasks is never empty after creation.
// Version counts committed writes and backs optimistic concurrency checks.
type CarePlan struct {
	Base
	OwnerUserID string `json:"owner_user_id"`
	Title       string `json:"title"`
	Tasks       []Task `json:"tasks"`
	Version     int64  `json:"version"`
}

// FindTask locates a task by id within the plan.
func (p CarePlan) FindTask(taskID string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return Task{}, false
}

// AssigneeIDs returns the sorted, deduplicated set of user ids assigned to
// any task in the plan.
func (p CarePlan) AssigneeIDs() []string {
	seen := make(map[string]struct{}, len(p.Tasks))
	out := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.AssignedTo == "" {
			continue
		}
		if _, ok := seen[t.AssignedTo]; ok {
			continue
		}
		seen[t.AssignedTo] = struct{}{}
		out = append(out, t.AssignedTo)
	}
	sort.Strings(out)
	return out
}

// HasAssignee reports whether any task in the plan is assigned to userID.
func (p CarePlan) HasAssignee(userID string) bool {
	for _, t := range p.Tasks {
		if t.AssignedTo == userID {
			return true
		}
	}
	return false
}

// RelatedEntity points a notification at the record it was derived from. The
// target may no longer exist (plan deletion does not cascade); consumers treat
// resolution failure as a soft "no longer available" state.
type RelatedEntity struct {
	Kind EntityType `json:"kind"`
	ID   string     `json:"id"`
}

// Notification is an alert derived from a care-plan mutation and addressed to
// a single recipient. Immutable except for the Read flag.
type Notification struct {
	Base
	UserID        string           `json:"user_id"`
	Message       string           `json:"message"`
	Type          NotificationType `json:"type"`
	RelatedEntity RelatedEntity    `json:"related_entity"`
	Read          bool             `json:"read"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
