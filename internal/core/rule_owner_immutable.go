package core

import (
	"context"
	"fmt"

	"carecore/pkg/domain"
)

// NewOwnerImmutableRule returns the in-transaction rule blocking any update
// that rebinds a care plan to a different owner.
func NewOwnerImmutableRule() domain.Rule {
	return ownerImmutableRule{}
}

type ownerImmutableRule struct{}

func (ownerImmutableRule) Name() string { return "careplan_owner_immutable" }

func (ownerImmutableRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityCarePlan || change.Action != domain.ActionUpdate {
			continue
		}
		before, ok := change.Before.(domain.CarePlan)
		if !ok {
			continue
		}
		after, ok := change.After.(domain.CarePlan)
		if !ok {
			continue
		}
		if before.OwnerUserID != after.OwnerUserID {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "careplan_owner_immutable",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("care plan %s owner cannot change from %s to %s", after.ID, before.OwnerUserID, after.OwnerUserID),
				Entity:   domain.EntityCarePlan,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
