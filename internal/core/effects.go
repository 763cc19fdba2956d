package core

import (
	"context"
	"fmt"

	"carecore/internal/cache"
)

// Mutation event names pushed to connected clients. Broadcast payloads carry
// only ids, never plan content, so they need no per-recipient filtering.
const (
	EventCarePlanCreated = "careplan:created"
	EventCarePlanUpdated = "careplan:updated"
	EventCarePlanDeleted = "careplan:deleted"
	EventTaskUpdated     = "task:updated"
)

// NotificationIntent is an in-memory, not-yet-persisted description of a
// notification to be created as a side effect of a mutation.
type NotificationIntent struct {
	Recipient string
	Message   string
	Type      NotificationType
	Related   RelatedEntity
}

// Event is a realtime push derived from a mutation. Broadcast events go to
// every connected client; otherwise delivery targets Recipient's channel.
type Event struct {
	Name      string
	Recipient string
	Broadcast bool
	Payload   map[string]any
}

// Effects bundles the side effects a committed mutation implies. They are
// executed after the primary write; any failure is logged and never rolls the
// write back.
type Effects struct {
	Intents            []NotificationIntent
	Events             []Event
	InvalidateKeys     []string
	InvalidatePrefixes []string
}

// Empty reports whether the effect set carries nothing to execute.
func (e Effects) Empty() bool {
	return len(e.Intents) == 0 && len(e.Events) == 0 &&
		len(e.InvalidateKeys) == 0 && len(e.InvalidatePrefixes) == 0
}

// EffectsDispatcher persists notification intents and relays events to live
// connections. Implementations must treat every failure as loggable, not
// fatal.
type EffectsDispatcher interface {
	Dispatch(ctx context.Context, effects Effects) error
}

// NoopDispatcher discards effects; the default until a dispatcher is wired.
type NoopDispatcher struct{}

// Dispatch implements EffectsDispatcher.
func (NoopDispatcher) Dispatch(context.Context, Effects) error { return nil }

// planInvalidation returns the simplified invalidation fan-out for a plan
// write: every cached detail view of the plan, plus the owner's and every
// involved assignee's list entries across all roles. Broader audiences
// (admin and family lists of other users) self-heal within the TTL window.
func planInvalidation(planID string, owner string, assignees ...[]string) (prefixes []string) {
	prefixes = append(prefixes, cache.PlanPrefix(planID))
	seen := map[string]struct{}{}
	addUser := func(userID string) {
		if userID == "" {
			return
		}
		if _, ok := seen[userID]; ok {
			return
		}
		seen[userID] = struct{}{}
		prefixes = append(prefixes, cache.UserListPrefix(userID))
	}
	addUser(owner)
	for _, group := range assignees {
		for _, userID := range group {
			addUser(userID)
		}
	}
	return prefixes
}

func effectsForCreate(plan CarePlan) Effects {
	eff := Effects{
		InvalidatePrefixes: planInvalidation(plan.ID, plan.OwnerUserID, plan.AssigneeIDs()),
	}
	related := RelatedEntity{Kind: EntityCarePlan, ID: plan.ID}
	eff.Intents = append(eff.Intents, NotificationIntent{
		Recipient: plan.OwnerUserID,
		Message:   fmt.Sprintf("A new care plan %q was created for you", plan.Title),
		Type:      NotificationCarePlanAdded,
		Related:   related,
	})
	for _, task := range plan.Tasks {
		eff.Intents = append(eff.Intents, NotificationIntent{
			Recipient: task.AssignedTo,
			Message:   fmt.Sprintf("You were assigned the task %q in care plan %q", task.TaskName, plan.Title),
			Type:      NotificationTaskAssigned,
			Related:   RelatedEntity{Kind: EntityTask, ID: task.ID},
		})
	}
	eff.Events = append(eff.Events, Event{
		Name:      EventCarePlanCreated,
		Broadcast: true,
		Payload:   map[string]any{"careplan_id": plan.ID},
	})
	return eff
}

func effectsForUpdate(before, after CarePlan) Effects {
	eff := Effects{
		InvalidatePrefixes: planInvalidation(after.ID, after.OwnerUserID, before.AssigneeIDs(), after.AssigneeIDs()),
	}
	eff.Intents = append(eff.Intents, NotificationIntent{
		Recipient: after.OwnerUserID,
		Message:   fmt.Sprintf("Care plan %q was updated", after.Title),
		Type:      NotificationCarePlanUpdated,
		Related:   RelatedEntity{Kind: EntityCarePlan, ID: after.ID},
	})
	// A task is a notification candidate when it is newly introduced or its
	// assignee changed, diffed by task id.
	previous := make(map[string]Task, len(before.Tasks))
	for _, t := range before.Tasks {
		previous[t.ID] = t
	}
	for _, task := range after.Tasks {
		old, existed := previous[task.ID]
		if existed && old.AssignedTo == task.AssignedTo {
			continue
		}
		eff.Intents = append(eff.Intents, NotificationIntent{
			Recipient: task.AssignedTo,
			Message:   fmt.Sprintf("You were assigned the task %q in care plan %q", task.TaskName, after.Title),
			Type:      NotificationTaskAssigned,
			Related:   RelatedEntity{Kind: EntityTask, ID: task.ID},
		})
	}
	eff.Events = append(eff.Events, Event{
		Name:      EventCarePlanUpdated,
		Broadcast: true,
		Payload:   map[string]any{"careplan_id": after.ID},
	})
	return eff
}

func effectsForDelete(plan CarePlan) Effects {
	return Effects{
		InvalidatePrefixes: planInvalidation(plan.ID, plan.OwnerUserID, plan.AssigneeIDs()),
		Events: []Event{{
			Name:      EventCarePlanDeleted,
			Broadcast: true,
			Payload:   map[string]any{"careplan_id": plan.ID},
		}},
	}
}

func effectsForTaskStatus(plan CarePlan, task Task) Effects {
	return Effects{
		InvalidatePrefixes: planInvalidation(plan.ID, plan.OwnerUserID, plan.AssigneeIDs()),
		Events: []Event{{
			Name:      EventTaskUpdated,
			Recipient: plan.OwnerUserID,
			Payload: map[string]any{
				"careplan_id": plan.ID,
				"task_id":     task.ID,
				"status":      string(task.Status),
			},
		}},
	}
}
