package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskhub/internal/models"
)

type TaskRepository interface {
	Store(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id string) (*models.Task, error)
	FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id string) error

	// Stats counts the tasks visible to the given user (all tasks when nil) in one query.
	Stats(ctx context.Context, visibleTo *string) (*models.TaskStats, error)
	CountOverdue(ctx context.Context, now time.Time) (int, error)
}

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskSelect = `
SELECT t.id, t.title, t.description, t.status, t.priority, t.due_date,
       t.assignee_id, t.creator_id, t.created_at, t.updated_at,
       a.username, a.email, c.username, c.email
FROM tasks t
JOIN users a ON a.id = t.assignee_id
JOIN users c ON c.id = t.creator_id`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		t                 models.Task
		due               sql.NullTime
		assignee, creator models.UserRef
	)
	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &due,
		&t.AssigneeID, &t.CreatorID, &t.CreatedAt, &t.UpdatedAt,
		&assignee.Username, &assignee.Email, &creator.Username, &creator.Email,
	); err != nil {
		return nil, err
	}
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	assignee.ID = t.AssigneeID
	creator.ID = t.CreatorID
	t.AssignedTo = &assignee
	t.CreatedBy = &creator
	return &t, nil
}

// buildTaskWhere turns the filter into a WHERE clause with $n placeholders.
func buildTaskWhere(filter models.TaskFilter) (string, []any) {
	conditions := []string{}
	args := []any{}
	argID := 1

	if filter.VisibleTo != nil {
		conditions = append(conditions, fmt.Sprintf("(t.assignee_id = $%d OR t.creator_id = $%d)", argID, argID))
		args = append(args, *filter.VisibleTo)
		argID++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("t.status = $%d", argID))
		args = append(args, string(*filter.Status))
		argID++
	}
	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("t.priority = $%d", argID))
		args = append(args, string(*filter.Priority))
		argID++
	}
	if filter.AssigneeID != nil {
		conditions = append(conditions, fmt.Sprintf("t.assignee_id = $%d", argID))
		args = append(args, *filter.AssigneeID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *taskRepository) Store(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (
			id, title, description, status, priority, due_date,
			assignee_id, creator_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, string(task.Status), string(task.Priority), task.DueDate,
		task.AssigneeID, task.CreatorID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", translateError(err))
	}
	return nil
}

// FindByID returns nil, nil when the task does not exist.
func (r *taskRepository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, taskSelect+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error) {
	where, args := buildTaskWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query := fmt.Sprintf(`%s%s ORDER BY t.created_at DESC LIMIT $%d OFFSET $%d`,
		taskSelect, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0, filter.Limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, total, rows.Err()
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks SET
			title=$1, description=$2, status=$3, priority=$4,
			due_date=$5, assignee_id=$6, updated_at=$7
		WHERE id=$8`
	_, err := r.db.ExecContext(ctx, query,
		task.Title, task.Description, string(task.Status), string(task.Priority),
		task.DueDate, task.AssigneeID, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (r *taskRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

func (r *taskRepository) Stats(ctx context.Context, visibleTo *string) (*models.TaskStats, error) {
	query := `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE t.status = 'pending'),
       COUNT(*) FILTER (WHERE t.status = 'in-progress'),
       COUNT(*) FILTER (WHERE t.status = 'completed'),
       COUNT(*) FILTER (WHERE t.priority = 'low'),
       COUNT(*) FILTER (WHERE t.priority = 'medium'),
       COUNT(*) FILTER (WHERE t.priority = 'high')
FROM tasks t`
	where, args := buildTaskWhere(models.TaskFilter{VisibleTo: visibleTo})

	var s models.TaskStats
	err := r.db.QueryRowContext(ctx, query+where, args...).Scan(
		&s.Total,
		&s.ByStatus.Pending, &s.ByStatus.InProgress, &s.ByStatus.Completed,
		&s.ByPriority.Low, &s.ByPriority.Medium, &s.ByPriority.High,
	)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return &s, nil
}

func (r *taskRepository) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE due_date IS NOT NULL AND due_date < $1 AND status <> 'completed'`,
		now,
	).Scan(&n)
	return n, err
}
