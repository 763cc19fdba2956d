package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateCarePlan(CarePlan) (CarePlan, error)
	UpdateCarePlan(id string, mutator func(*CarePlan) error) (CarePlan, error)
	DeleteCarePlan(id string) error
	CreateNotification(Notification) (Notification, error)
	UpdateNotification(id string, mutator func(*Notification) error) (Notification, error)
	DeleteNotification(id string) error
	FindCarePlan(id string) (CarePlan, bool)
	FindNotification(id string) (Notification, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// read paths.
type TransactionView interface {
	ListCarePlans() []CarePlan
	FindCarePlan(id string) (CarePlan, bool)
	ListNotifications() []Notification
	ListNotificationsForUser(userID string) []Notification
	FindNotification(id string) (Notification, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetCarePlan(id string) (CarePlan, bool)
	ListCarePlans() []CarePlan
	GetNotification(id string) (Notification, bool)
	ListNotificationsForUser(userID string) []Notification
}
