// internal/services/task_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskhub/internal/authz"
	"taskhub/internal/models"
	"taskhub/internal/repositories"
)

// CreateTaskInput holds validated fields of a new task. Empty Status and
// Priority take the defaults; empty AssigneeID assigns the task to the caller.
type CreateTaskInput struct {
	Title       string
	Description string
	Status      models.TaskStatus
	Priority    models.TaskPriority
	DueDate     *time.Time
	AssigneeID  string
}

// TaskService defines the interface for task-related business logic.
// Every method takes the authenticated caller and applies the ownership policy.
type TaskService interface {
	List(ctx context.Context, caller authz.Identity, filter models.TaskFilter) ([]models.Task, int, error)
	Get(ctx context.Context, caller authz.Identity, id string) (*models.Task, error)
	Create(ctx context.Context, caller authz.Identity, in CreateTaskInput) (*models.Task, error)
	Update(ctx context.Context, caller authz.Identity, id string, upd models.TaskUpdate) (*models.Task, error)
	Delete(ctx context.Context, caller authz.Identity, id string) error
	Stats(ctx context.Context, caller authz.Identity) (*models.TaskStats, error)
	CountOverdue(ctx context.Context, now time.Time) (int, error)
}

type taskService struct {
	repo     repositories.TaskRepository
	users    repositories.UserRepository
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewTaskService creates a new instance of TaskService. notifier may be nil.
func NewTaskService(repo repositories.TaskRepository, users repositories.UserRepository, notifier Notifier, log logrus.FieldLogger) TaskService {
	return &taskService{
		repo:     repo,
		users:    users,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *taskService) List(ctx context.Context, caller authz.Identity, filter models.TaskFilter) ([]models.Task, int, error) {
	filter.VisibleTo = authz.VisibilityScope(caller)
	return s.repo.FindAll(ctx, filter)
}

// load fetches the task and the caller's access to it.
func (s *taskService) load(ctx context.Context, caller authz.Identity, id string) (*models.Task, authz.Access, error) {
	task, err := s.repo.FindByID(ctx, canonicalID(id))
	if err != nil {
		return nil, authz.Access{}, err
	}
	if task == nil {
		return nil, authz.Access{}, ErrTaskNotFound
	}
	return task, authz.TaskAccess(caller, task.CreatorID, task.AssigneeID), nil
}

func (s *taskService) Get(ctx context.Context, caller authz.Identity, id string) (*models.Task, error) {
	task, access, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !access.View {
		return nil, ErrForbidden
	}
	return task, nil
}

func (s *taskService) Create(ctx context.Context, caller authz.Identity, in CreateTaskInput) (*models.Task, error) {
	if caller.UserID == "" {
		return nil, ErrForbidden
	}
	assigneeID := canonicalID(in.AssigneeID)
	if assigneeID == "" {
		assigneeID = caller.UserID
	}
	if err := s.ensureUserExists(ctx, assigneeID); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = models.StatusPending
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := s.now()
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		Priority:    priority,
		DueDate:     in.DueDate,
		AssigneeID:  assigneeID,
		CreatorID:   caller.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Store(ctx, task); err != nil {
		return nil, err
	}

	created, err := s.repo.FindByID(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("task %s vanished after insert", task.ID)
	}

	s.log.WithFields(logrus.Fields{"task_id": created.ID, "user_id": caller.UserID}).Info("[task][create] created")
	if assigneeID != caller.UserID {
		s.notifyAssigned(created)
	}
	return created, nil
}

func (s *taskService) Update(ctx context.Context, caller authz.Identity, id string, upd models.TaskUpdate) (*models.Task, error) {
	task, access, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !access.Write {
		return nil, ErrForbidden
	}

	if upd.AssigneeID != nil {
		assignee := canonicalID(*upd.AssigneeID)
		upd.AssigneeID = &assignee
	}
	reassigned := upd.AssigneeID != nil && *upd.AssigneeID != task.AssigneeID
	if reassigned {
		if err := s.ensureUserExists(ctx, *upd.AssigneeID); err != nil {
			return nil, err
		}
	}

	upd.Apply(task)
	task.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, task); err != nil {
		return nil, err
	}

	updated, err := s.repo.FindByID(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// deleted concurrently
		return nil, ErrTaskNotFound
	}

	s.log.WithFields(logrus.Fields{"task_id": task.ID, "user_id": caller.UserID}).Info("[task][update] updated")
	if reassigned && updated.AssigneeID != caller.UserID {
		s.notifyAssigned(updated)
	}
	return updated, nil
}

func (s *taskService) Delete(ctx context.Context, caller authz.Identity, id string) error {
	task, access, err := s.load(ctx, caller, id)
	if err != nil {
		return err
	}
	if !access.Delete {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, task.ID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"task_id": task.ID, "user_id": caller.UserID}).Info("[task][delete] deleted")
	return nil
}

func (s *taskService) Stats(ctx context.Context, caller authz.Identity) (*models.TaskStats, error) {
	return s.repo.Stats(ctx, authz.VisibilityScope(caller))
}

func (s *taskService) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	return s.repo.CountOverdue(ctx, now)
}

func (s *taskService) ensureUserExists(ctx context.Context, id string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrAssigneeNotFound
	}
	return nil
}

func (s *taskService) notifyAssigned(task *models.Task) {
	if s.notifier == nil {
		return
	}
	s.notifier.TaskAssigned(*task)
}
