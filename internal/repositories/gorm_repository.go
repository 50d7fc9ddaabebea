package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskhub/internal/models"
)

// Records used by the gorm (SQLite) implementations. Column names match the
// Postgres schema in internal/database so both stores read the same way.

type userRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Username     string `gorm:"size:30;uniqueIndex;not null"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"size:10;index;not null"`
	IsActive     bool   `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) toModel() models.User {
	return models.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type taskRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Title       string `gorm:"size:100;not null"`
	Description string `gorm:"size:500;not null"`
	Status      string `gorm:"size:20;index;not null"`
	Priority    string `gorm:"size:10;index;not null"`
	DueDate     *time.Time
	AssigneeID  string     `gorm:"size:36;index;not null"`
	CreatorID   string     `gorm:"size:36;index;not null"`
	Assignee    userRecord `gorm:"foreignKey:AssigneeID"`
	Creator     userRecord `gorm:"foreignKey:CreatorID"`
	CreatedAt   time.Time  `gorm:"index"`
	UpdatedAt   time.Time
}

func (taskRecord) TableName() string { return "tasks" }

func (r taskRecord) toModel() models.Task {
	t := models.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      models.TaskStatus(r.Status),
		Priority:    models.TaskPriority(r.Priority),
		DueDate:     r.DueDate,
		AssigneeID:  r.AssigneeID,
		CreatorID:   r.CreatorID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Assignee.ID != "" {
		t.AssignedTo = &models.UserRef{ID: r.Assignee.ID, Username: r.Assignee.Username, Email: r.Assignee.Email}
	}
	if r.Creator.ID != "" {
		t.CreatedBy = &models.UserRef{ID: r.Creator.ID, Username: r.Creator.Username, Email: r.Creator.Email}
	}
	return t
}

// AutoMigrate creates or updates the SQLite schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&userRecord{}, &taskRecord{}); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}

type gormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	rec := userRecord{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Role:         user.Role,
		IsActive:     user.IsActive,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert user: %w", translateError(err))
	}
	return nil
}

func (r *gormUserRepository) first(ctx context.Context, query string, args ...any) (*models.User, error) {
	var rec userRecord
	err := r.db.WithContext(ctx).Where(query, args...).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	u := rec.toModel()
	return &u, nil
}

func (r *gormUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.first(ctx, "email = ?", strings.ToLower(email))
}

func (r *gormUserRepository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&userRecord{}).
		Where("email = ? OR username = ?", strings.ToLower(email), username).
		Count(&n).Error
	return n > 0, err
}

func (r *gormUserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&userRecord{})
		if filter.Role != nil {
			db = db.Where("role = ?", *filter.Role)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var recs []userRecord
	if err := r.db.WithContext(ctx).Scopes(scope).
		Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).
		Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	users := make([]models.User, 0, len(recs))
	for _, rec := range recs {
		users = append(users, rec.toModel())
	}
	return users, int(total), nil
}

func (r *gormUserRepository) UpdateRole(ctx context.Context, id, role string) (*models.User, error) {
	res := r.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).
		Updates(map[string]any{"role": role, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *gormUserRepository) ToggleActive(ctx context.Context, id string) (*models.User, error) {
	res := r.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).
		Updates(map[string]any{"is_active": gorm.Expr("NOT is_active"), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

type gormTaskRepository struct {
	db *gorm.DB
}

func NewGormTaskRepository(db *gorm.DB) TaskRepository {
	return &gormTaskRepository{db: db}
}

func taskScope(filter models.TaskFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Model(&taskRecord{})
		if filter.VisibleTo != nil {
			db = db.Where("(assignee_id = ? OR creator_id = ?)", *filter.VisibleTo, *filter.VisibleTo)
		}
		if filter.Status != nil {
			db = db.Where("status = ?", string(*filter.Status))
		}
		if filter.Priority != nil {
			db = db.Where("priority = ?", string(*filter.Priority))
		}
		if filter.AssigneeID != nil {
			db = db.Where("assignee_id = ?", *filter.AssigneeID)
		}
		return db
	}
}

func (r *gormTaskRepository) Store(ctx context.Context, task *models.Task) error {
	rec := taskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		DueDate:     task.DueDate,
		AssigneeID:  task.AssigneeID,
		CreatorID:   task.CreatorID,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert task: %w", translateError(err))
	}
	return nil
}

func (r *gormTaskRepository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	var rec taskRecord
	err := r.db.WithContext(ctx).Preload("Assignee").Preload("Creator").
		Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := rec.toModel()
	return &t, nil
}

func (r *gormTaskRepository) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error) {
	var total int64
	if err := r.db.WithContext(ctx).Scopes(taskScope(filter)).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	var recs []taskRecord
	if err := r.db.WithContext(ctx).Scopes(taskScope(filter)).
		Preload("Assignee").Preload("Creator").
		Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).
		Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}

	tasks := make([]models.Task, 0, len(recs))
	for _, rec := range recs {
		tasks = append(tasks, rec.toModel())
	}
	return tasks, int(total), nil
}

func (r *gormTaskRepository) Update(ctx context.Context, task *models.Task) error {
	err := r.db.WithContext(ctx).Model(&taskRecord{}).Where("id = ?", task.ID).
		Updates(map[string]any{
			"title":       task.Title,
			"description": task.Description,
			"status":      string(task.Status),
			"priority":    string(task.Priority),
			"due_date":    task.DueDate,
			"assignee_id": task.AssigneeID,
			"updated_at":  task.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (r *gormTaskRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&taskRecord{}).Error
}

func (r *gormTaskRepository) Stats(ctx context.Context, visibleTo *string) (*models.TaskStats, error) {
	var row struct {
		Total      int
		Pending    int
		InProgress int
		Completed  int
		Low        int
		Medium     int
		High       int
	}
	err := r.db.WithContext(ctx).Scopes(taskScope(models.TaskFilter{VisibleTo: visibleTo})).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'in-progress' THEN 1 ELSE 0 END), 0) AS in_progress,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN priority = 'low' THEN 1 ELSE 0 END), 0) AS low,
			COALESCE(SUM(CASE WHEN priority = 'medium' THEN 1 ELSE 0 END), 0) AS medium,
			COALESCE(SUM(CASE WHEN priority = 'high' THEN 1 ELSE 0 END), 0) AS high`).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return &models.TaskStats{
		Total:      row.Total,
		ByStatus:   models.StatusCounts{Pending: row.Pending, InProgress: row.InProgress, Completed: row.Completed},
		ByPriority: models.PriorityCounts{Low: row.Low, Medium: row.Medium, High: row.High},
	}, nil
}

func (r *gormTaskRepository) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&taskRecord{}).
		Where("due_date IS NOT NULL AND due_date < ? AND status <> ?", now, string(models.StatusCompleted)).
		Count(&n).Error
	return int(n), err
}
