// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"carecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// CarePlan aliases domain.CarePlan for in-memory persistence operations.
	CarePlan = domain.CarePlan
	// Task aliases domain.Task.
	Task = domain.Task
	// Notification aliases domain.Notification.
	Notification = domain.Notification
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	plans         map[string]CarePlan
	notifications map[string]Notification
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	CarePlans     map[string]CarePlan     `json:"careplans"`
	Notifications map[string]Notification `json:"notifications"`
}

func newMemoryState() memoryState {
	return memoryState{
		plans:         make(map[string]CarePlan),
		notifications: make(map[string]Notification),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		CarePlans:     make(map[string]CarePlan, len(state.plans)),
		Notifications: make(map[string]Notification, len(state.notifications)),
	}
	for k, v := range state.plans {
		s.CarePlans[k] = clonePlan(v)
	}
	for k, v := range state.notifications {
		s.Notifications[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.CarePlans {
		state.plans[k] = clonePlan(v)
	}
	for k, v := range s.Notifications {
		state.notifications[k] = v
	}
	return state
}

// migrateSnapshot normalizes snapshots written by earlier layouts: nil maps
// become empty, tasks without a status default to Pending, and plans that lost
// their version counter start at one.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.CarePlans == nil {
		snapshot.CarePlans = map[string]CarePlan{}
	}
	if snapshot.Notifications == nil {
		snapshot.Notifications = map[string]Notification{}
	}
	for id, plan := range snapshot.CarePlans {
		for i, task := range plan.Tasks {
			if task.Status == "" {
				plan.Tasks[i].Status = domain.TaskStatusPending
			}
		}
		if plan.Version < 1 {
			plan.Version = 1
		}
		snapshot.CarePlans[id] = plan
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.plans {
		cloned.plans[k] = clonePlan(v)
	}
	for k, v := range s.notifications {
		cloned.notifications[k] = v
	}
	return cloned
}

func clonePlan(p CarePlan) CarePlan {
	cp := p
	cp.Tasks = append([]Task(nil), p.Tasks...)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
}

// timestamp reads the store clock at operation time, so writes within one
// transaction carry their own creation order.
func (tx *transaction) timestamp() time.Time {
	return tx.store.nowFn()
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListCarePlans returns all care plans in the snapshot ordered by creation
// time, oldest first.
func (v transactionView) ListCarePlans() []CarePlan {
	out := make([]CarePlan, 0, len(v.state.plans))
	for _, p := range v.state.plans {
		out = append(out, clonePlan(p))
	}
	sortPlans(out)
	return out
}

// FindCarePlan retrieves a care plan by ID from the snapshot.
func (v transactionView) FindCarePlan(id string) (CarePlan, bool) {
	p, ok := v.state.plans[id]
	if !ok {
		return CarePlan{}, false
	}
	return clonePlan(p), true
}

// ListNotifications returns all notifications in the snapshot, newest first.
func (v transactionView) ListNotifications() []Notification {
	out := make([]Notification, 0, len(v.state.notifications))
	for _, n := range v.state.notifications {
		out = append(out, n)
	}
	sortNotifications(out)
	return out
}

// ListNotificationsForUser returns the recipient's notifications, newest first.
func (v transactionView) ListNotificationsForUser(userID string) []Notification {
	var out []Notification
	for _, n := range v.state.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sortNotifications(out)
	return out
}

// FindNotification retrieves a notification by ID from the snapshot.
func (v transactionView) FindNotification(id string) (Notification, bool) {
	n, ok := v.state.notifications[id]
	if !ok {
		return Notification{}, false
	}
	return n, true
}

func sortPlans(plans []CarePlan) {
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].ID < plans[j].ID
		}
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})
}

func sortNotifications(ns []Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].ID < ns[j].ID
		}
		return ns[i].CreatedAt.After(ns[j].CreatedAt)
	})
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindCarePlan exposes plan lookup within the transaction scope.
func (tx *transaction) FindCarePlan(id string) (CarePlan, bool) {
	p, ok := tx.state.plans[id]
	if !ok {
		return CarePlan{}, false
	}
	return clonePlan(p), true
}

// FindNotification exposes notification lookup within the transaction scope.
func (tx *transaction) FindNotification(id string) (Notification, bool) {
	n, ok := tx.state.notifications[id]
	if !ok {
		return Notification{}, false
	}
	return n, true
}

// CreateCarePlan inserts a new plan, assigning ids and timestamps. Task ids
// are generated for tasks that arrive without one.
func (tx *transaction) CreateCarePlan(plan CarePlan) (CarePlan, error) {
	if plan.ID == "" {
		plan.ID = tx.store.newID()
	}
	for i := range plan.Tasks {
		if plan.Tasks[i].ID == "" {
			plan.Tasks[i].ID = tx.store.newID()
		}
	}
	now := tx.timestamp()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	plan.Version = 1
	stored := clonePlan(plan)
	tx.state.plans[plan.ID] = stored
	tx.recordChange(Change{Entity: domain.EntityCarePlan, Action: domain.ActionCreate, After: clonePlan(stored)})
	return clonePlan(stored), nil
}

// UpdateCarePlan mutates an existing plan, bumping its version and timestamp.
func (tx *transaction) UpdateCarePlan(id string, mutator func(*CarePlan) error) (CarePlan, error) {
	existing, ok := tx.state.plans[id]
	if !ok {
		return CarePlan{}, domain.NotFoundError{Entity: domain.EntityCarePlan, ID: id}
	}
	before := clonePlan(existing)
	updated := clonePlan(existing)
	if err := mutator(&updated); err != nil {
		return CarePlan{}, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	for i := range updated.Tasks {
		if updated.Tasks[i].ID == "" {
			updated.Tasks[i].ID = tx.store.newID()
		}
	}
	updated.UpdatedAt = tx.timestamp()
	updated.Version = existing.Version + 1
	tx.state.plans[id] = clonePlan(updated)
	tx.recordChange(Change{Entity: domain.EntityCarePlan, Action: domain.ActionUpdate, Before: before, After: clonePlan(updated)})
	return clonePlan(updated), nil
}

// DeleteCarePlan removes a plan. Deletion is final; notifications referencing
// the plan are left in place.
func (tx *transaction) DeleteCarePlan(id string) error {
	existing, ok := tx.state.plans[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityCarePlan, ID: id}
	}
	delete(tx.state.plans, id)
	tx.recordChange(Change{Entity: domain.EntityCarePlan, Action: domain.ActionDelete, Before: clonePlan(existing)})
	return nil
}

// CreateNotification inserts a new notification record.
func (tx *transaction) CreateNotification(n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = tx.store.newID()
	}
	now := tx.timestamp()
	n.CreatedAt = now
	n.UpdatedAt = now
	tx.state.notifications[n.ID] = n
	tx.recordChange(Change{Entity: domain.EntityNotification, Action: domain.ActionCreate, After: n})
	return n, nil
}

// UpdateNotification mutates an existing notification.
func (tx *transaction) UpdateNotification(id string, mutator func(*Notification) error) (Notification, error) {
	existing, ok := tx.state.notifications[id]
	if !ok {
		return Notification{}, domain.NotFoundError{Entity: domain.EntityNotification, ID: id}
	}
	before := existing
	updated := existing
	if err := mutator(&updated); err != nil {
		return Notification{}, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = tx.timestamp()
	tx.state.notifications[id] = updated
	tx.recordChange(Change{Entity: domain.EntityNotification, Action: domain.ActionUpdate, Before: before, After: updated})
	return updated, nil
}

// DeleteNotification removes a notification record.
func (tx *transaction) DeleteNotification(id string) error {
	existing, ok := tx.state.notifications[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityNotification, ID: id}
	}
	delete(tx.state.notifications, id)
	tx.recordChange(Change{Entity: domain.EntityNotification, Action: domain.ActionDelete, Before: existing})
	return nil
}

// GetCarePlan returns a plan by id from committed state.
func (s *Store) GetCarePlan(id string) (CarePlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.plans[id]
	if !ok {
		return CarePlan{}, false
	}
	return clonePlan(p), true
}

// ListCarePlans returns all committed plans ordered by creation time.
func (s *Store) ListCarePlans() []CarePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CarePlan, 0, len(s.state.plans))
	for _, p := range s.state.plans {
		out = append(out, clonePlan(p))
	}
	sortPlans(out)
	return out
}

// GetNotification returns a notification by id from committed state.
func (s *Store) GetNotification(id string) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.notifications[id]
	if !ok {
		return Notification{}, false
	}
	return n, true
}

// ListNotificationsForUser returns the recipient's committed notifications,
// newest first.
func (s *Store) ListNotificationsForUser(userID string) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.state.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sortNotifications(out)
	return out
}
