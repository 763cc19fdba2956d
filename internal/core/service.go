package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"carecore/internal/cache"
	"carecore/pkg/domain"
)

// DefaultEffectTimeout bounds cache invalidation and push dispatch so a slow
// secondary subsystem never holds a response beyond a small, fixed ceiling.
const DefaultEffectTimeout = 2 * time.Second

// Service exposes the care-plan synchronization core: authorized reads
// through the read cache, transactional mutations against the store, and the
// side-effect fan-out they imply.
type Service struct {
	store         domain.PersistentStore
	cache         cache.Cache
	dispatcher    EffectsDispatcher
	logger        *slog.Logger
	metrics       MetricsRecorder
	cacheTTL      time.Duration
	effectTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCache wires the read-through cache used by list and detail reads.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithDispatcher wires the effects dispatcher executed after each commit.
func WithDispatcher(d EffectsDispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithLogger overrides the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics wires an operation metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCacheTTL overrides the read-cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithEffectTimeout overrides the side-effect execution ceiling.
func WithEffectTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.effectTimeout = d
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:         store,
		dispatcher:    NoopDispatcher{},
		logger:        slog.New(slog.DiscardHandler),
		cacheTTL:      cache.DefaultTTL,
		effectTimeout: DefaultEffectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// CarePlanPatch carries the independently optional fields of an update.
// Omitted fields retain their prior values. ExpectedVersion, when set, rejects
// the write unless it matches the committed version; when nil the write is
// last-write-wins at document granularity.
type CarePlanPatch struct {
	OwnerUserID     *string `json:"owner_user_id"`
	Title           *string `json:"title"`
	Tasks           *[]Task `json:"tasks"`
	ExpectedVersion *int64  `json:"expected_version"`
}

// CreateCarePlan validates and persists a new plan, then fans out the derived
// notifications, invalidations, and realtime events.
func (s *Service) CreateCarePlan(ctx context.Context, actor Actor, plan CarePlan) (CarePlan, error) {
	const op = "careplan.create"
	start := time.Now()
	created, err := s.createCarePlan(ctx, actor, plan)
	s.observe(op, start, err)
	return created, err
}

func (s *Service) createCarePlan(ctx context.Context, actor Actor, plan CarePlan) (CarePlan, error) {
	if err := requireActor(actor); err != nil {
		return CarePlan{}, err
	}
	if !CanWritePlan(actor.Role) {
		return CarePlan{}, domain.ForbiddenError{Reason: "role may not create care plans"}
	}
	if err := validatePlanInput(plan.OwnerUserID, plan.Title, plan.Tasks); err != nil {
		return CarePlan{}, err
	}
	normalizeTasks(plan.Tasks)

	var created CarePlan
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateCarePlan(plan)
		return err
	})
	if err != nil {
		return CarePlan{}, err
	}
	s.logViolations("careplan.create", res)
	s.runEffects(ctx, effectsForCreate(created))
	return created, nil
}

// UpdateCarePlan merges the patch into the stored plan and persists it. Tasks
// whose assignee changed, or which are newly introduced, produce task_assigned
// notifications.
func (s *Service) UpdateCarePlan(ctx context.Context, actor Actor, id string, patch CarePlanPatch) (CarePlan, error) {
	const op = "careplan.update"
	start := time.Now()
	updated, err := s.updateCarePlan(ctx, actor, id, patch)
	s.observe(op, start, err)
	return updated, err
}

func (s *Service) updateCarePlan(ctx context.Context, actor Actor, id string, patch CarePlanPatch) (CarePlan, error) {
	if err := requireActor(actor); err != nil {
		return CarePlan{}, err
	}
	if !CanWritePlan(actor.Role) {
		return CarePlan{}, domain.ForbiddenError{Reason: "role may not update care plans"}
	}
	if patch.Tasks != nil {
		if len(*patch.Tasks) == 0 {
			return CarePlan{}, domain.ValidationError{Field: "tasks", Reason: "must not be empty"}
		}
		if err := validateTasks(*patch.Tasks); err != nil {
			return CarePlan{}, err
		}
		normalizeTasks(*patch.Tasks)
	}

	var before, updated CarePlan
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateCarePlan(id, func(p *CarePlan) error {
			if patch.ExpectedVersion != nil && *patch.ExpectedVersion != p.Version {
				return domain.ConflictError{Entity: EntityCarePlan, ID: id, Expected: *patch.ExpectedVersion, Actual: p.Version}
			}
			before = *p
			before.Tasks = append([]Task(nil), p.Tasks...)
			if patch.OwnerUserID != nil {
				p.OwnerUserID = *patch.OwnerUserID
			}
			if patch.Title != nil {
				p.Title = *patch.Title
			}
			if patch.Tasks != nil {
				p.Tasks = append([]Task(nil), (*patch.Tasks)...)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return CarePlan{}, err
	}
	s.logViolations("careplan.update", res)
	s.runEffects(ctx, effectsForUpdate(before, updated))
	return updated, nil
}

// DeleteCarePlan hard-deletes a plan. Notifications referencing it remain;
// consumers treat the dangling reference as "no longer available".
func (s *Service) DeleteCarePlan(ctx context.Context, actor Actor, id string) error {
	const op = "careplan.delete"
	start := time.Now()
	err := s.deleteCarePlan(ctx, actor, id)
	s.observe(op, start, err)
	return err
}

func (s *Service) deleteCarePlan(ctx context.Context, actor Actor, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !CanWritePlan(actor.Role) {
		return domain.ForbiddenError{Reason: "role may not delete care plans"}
	}

	var deleted CarePlan
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing, ok := tx.FindCarePlan(id)
		if !ok {
			return domain.NotFoundError{Entity: EntityCarePlan, ID: id}
		}
		deleted = existing
		return tx.DeleteCarePlan(id)
	})
	if err != nil {
		return err
	}
	s.runEffects(ctx, effectsForDelete(deleted))
	return nil
}

// UpdateTaskStatus sets the status of one task inside a plan. The whole plan
// document is persisted; tasks are not independently addressable.
func (s *Service) UpdateTaskStatus(ctx context.Context, actor Actor, planID, taskID string, status TaskStatus, expectedVersion *int64) (Task, error) {
	const op = "task.status"
	start := time.Now()
	task, err := s.updateTaskStatus(ctx, actor, planID, taskID, status, expectedVersion)
	s.observe(op, start, err)
	return task, err
}

func (s *Service) updateTaskStatus(ctx context.Context, actor Actor, planID, taskID string, status TaskStatus, expectedVersion *int64) (Task, error) {
	if err := requireActor(actor); err != nil {
		return Task{}, err
	}
	if !status.Valid() {
		return Task{}, domain.ValidationError{Field: "status", Reason: "must be Pending, InProgress, or Completed"}
	}

	var updatedPlan CarePlan
	var updatedTask Task
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updatedPlan, err = tx.UpdateCarePlan(planID, func(p *CarePlan) error {
			idx := -1
			for i, t := range p.Tasks {
				if t.ID == taskID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return domain.NotFoundError{Entity: EntityTask, ID: taskID}
			}
			if !CanWriteTaskStatus(actor, p.Tasks[idx]) {
				return domain.ForbiddenError{Reason: "only the assignee or an admin may update task status"}
			}
			if expectedVersion != nil && *expectedVersion != p.Version {
				return domain.ConflictError{Entity: EntityCarePlan, ID: planID, Expected: *expectedVersion, Actual: p.Version}
			}
			p.Tasks[idx].Status = status
			updatedTask = p.Tasks[idx]
			return nil
		})
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.logViolations("task.status", res)
	s.runEffects(ctx, effectsForTaskStatus(updatedPlan, updatedTask))
	return updatedTask, nil
}

// ListCarePlans serves the actor's role-filtered plan list through the read
// cache.
func (s *Service) ListCarePlans(ctx context.Context, actor Actor) ([]CarePlan, error) {
	const op = "careplan.list"
	start := time.Now()
	plans, err := s.listCarePlans(ctx, actor)
	s.observe(op, start, err)
	return plans, err
}

func (s *Service) listCarePlans(ctx context.Context, actor Actor) ([]CarePlan, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	key := cache.ListKey(actor)
	var cached []CarePlan
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}
	visible := FilterPlans(actor, s.store.ListCarePlans())
	s.cacheSet(ctx, key, visible)
	return visible, nil
}

// GetCarePlanByID serves a single plan through the read cache, applying the
// same visibility rule as the list path. An existing but invisible plan
// yields Forbidden, never NotFound.
func (s *Service) GetCarePlanByID(ctx context.Context, actor Actor, id string) (CarePlan, error) {
	const op = "careplan.get"
	start := time.Now()
	plan, err := s.getCarePlanByID(ctx, actor, id)
	s.observe(op, start, err)
	return plan, err
}

func (s *Service) getCarePlanByID(ctx context.Context, actor Actor, id string) (CarePlan, error) {
	if err := requireActor(actor); err != nil {
		return CarePlan{}, err
	}
	key := cache.ItemKey(id, actor)
	var cached CarePlan
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}
	plan, ok := s.store.GetCarePlan(id)
	if !ok {
		return CarePlan{}, domain.NotFoundError{Entity: EntityCarePlan, ID: id}
	}
	if !CanSeePlan(actor, plan) {
		return CarePlan{}, domain.ForbiddenError{Reason: "care plan not visible to requester"}
	}
	s.cacheSet(ctx, key, plan)
	return plan, nil
}

// ListNotifications returns the caller's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, actor Actor) ([]Notification, error) {
	const op = "notification.list"
	start := time.Now()
	if err := requireActor(actor); err != nil {
		s.observe(op, start, err)
		return nil, err
	}
	out := s.store.ListNotificationsForUser(actor.UserID)
	s.observe(op, start, nil)
	return out, nil
}

// MarkNotificationRead flips the read flag. Marking an already-read
// notification again is a no-op, not an error.
func (s *Service) MarkNotificationRead(ctx context.Context, actor Actor, id string) (Notification, error) {
	const op = "notification.read"
	start := time.Now()
	n, err := s.markNotificationRead(ctx, actor, id)
	s.observe(op, start, err)
	return n, err
}

func (s *Service) markNotificationRead(ctx context.Context, actor Actor, id string) (Notification, error) {
	if err := requireActor(actor); err != nil {
		return Notification{}, err
	}
	existing, ok := s.store.GetNotification(id)
	if !ok {
		return Notification{}, domain.NotFoundError{Entity: EntityNotification, ID: id}
	}
	if !CanTouchNotification(actor, existing) {
		return Notification{}, domain.ForbiddenError{Reason: "notification belongs to another user"}
	}
	if existing.Read {
		return existing, nil
	}
	var updated Notification
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateNotification(id, func(n *Notification) error {
			n.Read = true
			return nil
		})
		return err
	})
	if err != nil {
		return Notification{}, err
	}
	return updated, nil
}

// DeleteNotification removes a notification for its recipient or an admin.
func (s *Service) DeleteNotification(ctx context.Context, actor Actor, id string) error {
	const op = "notification.delete"
	start := time.Now()
	err := s.deleteNotification(ctx, actor, id)
	s.observe(op, start, err)
	return err
}

func (s *Service) deleteNotification(ctx context.Context, actor Actor, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	existing, ok := s.store.GetNotification(id)
	if !ok {
		return domain.NotFoundError{Entity: EntityNotification, ID: id}
	}
	if !CanTouchNotification(actor, existing) {
		return domain.ForbiddenError{Reason: "notification belongs to another user"}
	}
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteNotification(id)
	})
	return err
}

func validatePlanInput(owner, title string, tasks []Task) error {
	if owner == "" {
		return domain.ValidationError{Field: "owner_user_id", Reason: "required"}
	}
	if title == "" {
		return domain.ValidationError{Field: "title", Reason: "required"}
	}
	if len(tasks) == 0 {
		return domain.ValidationError{Field: "tasks", Reason: "must not be empty"}
	}
	return validateTasks(tasks)
}

func validateTasks(tasks []Task) error {
	for _, t := range tasks {
		if t.TaskName == "" {
			return domain.ValidationError{Field: "tasks.task_name", Reason: "required"}
		}
		if t.AssignedTo == "" {
			return domain.ValidationError{Field: "tasks.assigned_to", Reason: "required"}
		}
		if t.Status != "" && !t.Status.Valid() {
			return domain.ValidationError{Field: "tasks.status", Reason: "must be Pending, InProgress, or Completed"}
		}
	}
	return nil
}

func normalizeTasks(tasks []Task) {
	for i := range tasks {
		if tasks[i].Status == "" {
			tasks[i].Status = TaskStatusPending
		}
	}
}

// cacheGet probes the read cache. Cache failures degrade to a miss; the store
// remains authoritative.
func (s *Service) cacheGet(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// runEffects executes a mutation's side effects: cache invalidation first,
// then notification persistence and realtime push via the dispatcher. The
// request context is detached so cancellation after commit cannot strand the
// fan-out, and the whole step is bounded by the effect timeout. Failures are
// logged, never propagated: the committed write is authoritative.
func (s *Service) runEffects(ctx context.Context, eff Effects) {
	if eff.Empty() {
		return
	}
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.effectTimeout)
	defer cancel()

	if s.cache != nil {
		for _, key := range eff.InvalidateKeys {
			if err := s.cache.Invalidate(ectx, key); err != nil {
				s.logger.Warn("cache invalidation failed", "key", key, "error", err)
			}
		}
		for _, prefix := range eff.InvalidatePrefixes {
			if err := s.cache.InvalidatePrefix(ectx, prefix); err != nil {
				s.logger.Warn("cache invalidation failed", "prefix", prefix, "error", err)
			}
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ectx, eff); err != nil {
			s.logger.Warn("effect dispatch failed", "error", err)
		}
	}
}

func (s *Service) logViolations(op string, res Result) {
	for _, v := range res.Violations {
		if v.Severity == SeverityBlock {
			continue
		}
		s.logger.Warn("rule violation", "op", op, "rule", v.Rule, "severity", string(v.Severity), "message", v.Message)
	}
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDuration(op, time.Since(start))
	s.metrics.RecordResult(op, status)
}
