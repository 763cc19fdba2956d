package core

import "carecore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Role               = domain.Role
	Actor              = domain.Actor
	TaskStatus         = domain.TaskStatus
	NotificationType   = domain.NotificationType
	Severity           = domain.Severity
	Base               = domain.Base
	CarePlan           = domain.CarePlan
	Task               = domain.Task
	Notification       = domain.Notification
	RelatedEntity      = domain.RelatedEntity
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityCarePlan     = domain.EntityCarePlan
	EntityTask         = domain.EntityTask
	EntityNotification = domain.EntityNotification
)

const (
	RoleUser         = domain.RoleUser
	RoleCaregiver    = domain.RoleCaregiver
	RoleFamilyMember = domain.RoleFamilyMember
	RoleAdmin        = domain.RoleAdmin
)

const (
	TaskStatusPending    = domain.TaskStatusPending
	TaskStatusInProgress = domain.TaskStatusInProgress
	TaskStatusCompleted  = domain.TaskStatusCompleted
)

const (
	NotificationCarePlanAdded   = domain.NotificationCarePlanAdded
	NotificationCarePlanUpdated = domain.NotificationCarePlanUpdated
	NotificationTaskAssigned    = domain.NotificationTaskAssigned
	NotificationTaskReminder    = domain.NotificationTaskReminder
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
