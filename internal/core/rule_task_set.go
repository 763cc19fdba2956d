package core

import (
	"context"
	"fmt"

	"carecore/pkg/domain"
)

// NewTaskSetRule returns the in-transaction rule enforcing that a care plan
// never commits with an empty task set and that every task carries an assignee
// and a recognized status.
func NewTaskSetRule() domain.Rule {
	return taskSetRule{}
}

type taskSetRule struct{}

func (taskSetRule) Name() string { return "careplan_task_set" }

func (taskSetRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, plan := range view.ListCarePlans() {
		if len(plan.Tasks) == 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "careplan_task_set",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("care plan %q (%s) has no tasks", plan.Title, plan.ID),
				Entity:   domain.EntityCarePlan,
				EntityID: plan.ID,
			})
			continue
		}
		for _, task := range plan.Tasks {
			if task.AssignedTo == "" {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "careplan_task_set",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("task %q (%s) has no assignee", task.TaskName, task.ID),
					Entity:   domain.EntityTask,
					EntityID: task.ID,
				})
			}
			if !task.Status.Valid() {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "careplan_task_set",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("task %q (%s) has unknown status %q", task.TaskName, task.ID, task.Status),
					Entity:   domain.EntityTask,
					EntityID: task.ID,
				})
			}
		}
	}
	return res, nil
}
