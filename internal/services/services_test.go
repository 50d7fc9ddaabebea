package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskhub/internal/authz"
	"taskhub/internal/database"
	"taskhub/internal/logging"
	"taskhub/internal/models"
	"taskhub/internal/repositories"
)

type recordingNotifier struct {
	mu       sync.Mutex
	assigned []models.Task
	digests  []int
}

func (n *recordingNotifier) TaskAssigned(task models.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, task)
}

func (n *recordingNotifier) OverdueDigest(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, count)
}

type fixture struct {
	userRepo repositories.UserRepository
	users    UserService
	tasks    TaskService
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repositories.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logging.Discard()
	userRepo := repositories.NewGormUserRepository(db)
	taskRepo := repositories.NewGormTaskRepository(db)
	notifier := &recordingNotifier{}
	return &fixture{
		userRepo: userRepo,
		users:    NewUserService(userRepo, nil, NewAuthService(bcrypt.MinCost), log),
		tasks:    NewTaskService(taskRepo, userRepo, notifier, log),
		notifier: notifier,
	}
}

func (f *fixture) register(t *testing.T, username string) authz.Identity {
	t.Helper()
	u, err := f.users.Register(context.Background(), RegisterInput{
		Username: username, Email: username + "@example.com", Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Register %s: %v", username, err)
	}
	return authz.Identity{UserID: u.ID, Role: u.Role}
}

func (f *fixture) admin(t *testing.T, username string) authz.Identity {
	t.Helper()
	u, err := f.users.CreateAdmin(context.Background(), RegisterInput{
		Username: username, Email: username + "@example.com", Password: "secret1",
	})
	if err != nil {
		t.Fatalf("CreateAdmin %s: %v", username, err)
	}
	return authz.Identity{UserID: u.ID, Role: u.Role}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.users.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Role != authz.RoleUser || !u.IsActive || u.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.PasswordHash == "secret1" || u.PasswordHash == "" {
		t.Fatalf("password must be hashed")
	}

	_, err = f.users.Register(ctx, RegisterInput{Username: "alice", Email: "x@example.com", Password: "secret1"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate username: expected ErrUserExists, got %v", err)
	}
	_, err = f.users.Register(ctx, RegisterInput{Username: "alice2", Email: "ALICE@example.com", Password: "secret1"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate email: expected ErrUserExists, got %v", err)
	}

	if _, err := f.users.Authenticate(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password: got %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "nobody@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", err)
	}
	got, err := f.users.Authenticate(ctx, "ALICE@example.com", "secret1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Authenticate: %+v %v", got, err)
	}
}

func TestAuthenticateInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.admin(t, "root")
	alice := f.register(t, "alice")

	if _, err := f.users.ToggleStatus(ctx, root, alice.UserID); err != nil {
		t.Fatalf("ToggleStatus: %v", err)
	}
	if _, err := f.users.Authenticate(ctx, "alice@example.com", "secret1"); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestUserManagementRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.admin(t, "root")
	alice := f.register(t, "alice")

	if _, err := f.users.ToggleStatus(ctx, root, root.UserID); !errors.Is(err, ErrSelfDeactivation) {
		t.Fatalf("self toggle: got %v", err)
	}
	if _, err := f.users.ChangeRole(ctx, root, root.UserID, authz.RoleUser); !errors.Is(err, ErrSelfRoleChange) {
		t.Fatalf("self role change: got %v", err)
	}
	if _, err := f.users.ToggleStatus(ctx, alice, alice.UserID); !errors.Is(err, ErrSelfModification) {
		t.Fatalf("self toggle by user: got %v", err)
	}
	if _, err := f.users.ToggleStatus(ctx, alice, root.UserID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin toggle: got %v", err)
	}
	if _, err := f.users.ToggleStatus(ctx, root, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing user: got %v", err)
	}
	if _, err := f.users.ChangeRole(ctx, root, alice.UserID, "superuser"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("invalid role: got %v", err)
	}

	u, err := f.users.ChangeRole(ctx, root, alice.UserID, authz.RoleAdmin)
	if err != nil || u.Role != authz.RoleAdmin {
		t.Fatalf("ChangeRole: %+v %v", u, err)
	}
}

func TestCreateTaskDefaultsAndAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	task, err := f.tasks.Create(ctx, alice, CreateTaskInput{Title: "Write docs", Description: "API reference"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Status != models.StatusPending || task.Priority != models.PriorityMedium {
		t.Fatalf("defaults not applied: %+v", task)
	}
	if task.AssignedTo == nil || task.AssignedTo.ID != alice.UserID || task.CreatedBy.Username != "alice" {
		t.Fatalf("refs: %+v %+v", task.AssignedTo, task.CreatedBy)
	}
	if len(f.notifier.assigned) != 0 {
		t.Fatalf("self-assigned task must not notify")
	}

	_, err = f.tasks.Create(ctx, alice, CreateTaskInput{
		Title: "x", Description: "y", AssigneeID: "00000000-0000-0000-0000-000000000000",
	})
	if !errors.Is(err, ErrAssigneeNotFound) {
		t.Fatalf("expected ErrAssigneeNotFound, got %v", err)
	}

	got, err := f.tasks.Get(ctx, alice, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != task.Title || got.AssignedTo.Email != "alice@example.com" {
		t.Fatalf("Get returned %+v", got)
	}
}

func TestTaskOwnershipRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	eve := f.register(t, "eve")
	root := f.admin(t, "root")

	task, err := f.tasks.Create(ctx, alice, CreateTaskInput{Title: "Review", Description: "PR 42", AssigneeID: bob.UserID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(f.notifier.assigned) != 1 {
		t.Fatalf("expected one assignment notification, got %d", len(f.notifier.assigned))
	}

	if _, err := f.tasks.Get(ctx, eve, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger get: got %v", err)
	}
	if _, err := f.tasks.Get(ctx, root, task.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}

	status := models.StatusInProgress
	if _, err := f.tasks.Update(ctx, eve, task.ID, models.TaskUpdate{Status: &status}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger update: got %v", err)
	}
	updated, err := f.tasks.Update(ctx, bob, task.ID, models.TaskUpdate{Status: &status})
	if err != nil || updated.Status != models.StatusInProgress {
		t.Fatalf("assignee update: %+v %v", updated, err)
	}

	if err := f.tasks.Delete(ctx, bob, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("assignee delete: got %v", err)
	}
	if err := f.tasks.Delete(ctx, alice, task.ID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
	if _, err := f.tasks.Get(ctx, alice, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("deleted task: got %v", err)
	}
}

func TestUpdateReassignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")

	task, err := f.tasks.Create(ctx, alice, CreateTaskInput{Title: "Deploy", Description: "Friday release"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	missing := "00000000-0000-0000-0000-000000000000"
	if _, err := f.tasks.Update(ctx, alice, task.ID, models.TaskUpdate{AssigneeID: &missing}); !errors.Is(err, ErrAssigneeNotFound) {
		t.Fatalf("expected ErrAssigneeNotFound, got %v", err)
	}

	updated, err := f.tasks.Update(ctx, alice, task.ID, models.TaskUpdate{AssigneeID: &bob.UserID})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.AssignedTo.Username != "bob" || updated.CreatedBy.Username != "alice" {
		t.Fatalf("refs after reassignment: %+v %+v", updated.AssignedTo, updated.CreatedBy)
	}
	if len(f.notifier.assigned) != 1 || f.notifier.assigned[0].ID != task.ID {
		t.Fatalf("expected reassignment notification, got %+v", f.notifier.assigned)
	}

	// same update again leaves the same state
	again, err := f.tasks.Update(ctx, alice, task.ID, models.TaskUpdate{AssigneeID: &bob.UserID})
	if err != nil || again.AssigneeID != updated.AssigneeID || again.Title != updated.Title {
		t.Fatalf("repeat update: %+v %v", again, err)
	}
	if len(f.notifier.assigned) != 1 {
		t.Fatalf("unchanged assignee must not notify again")
	}
}

func TestListAndStatsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	root := f.admin(t, "root")

	mk := func(caller authz.Identity, assignee string, status models.TaskStatus, prio models.TaskPriority) {
		t.Helper()
		_, err := f.tasks.Create(ctx, caller, CreateTaskInput{
			Title: "t", Description: "d", Status: status, Priority: prio, AssigneeID: assignee,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	mk(alice, "", models.StatusPending, models.PriorityLow)
	mk(alice, bob.UserID, models.StatusCompleted, models.PriorityHigh)
	mk(bob, "", models.StatusInProgress, models.PriorityHigh)
	mk(root, "", models.StatusPending, models.PriorityMedium)

	tasks, total, err := f.tasks.List(ctx, alice, models.TaskFilter{Limit: 10})
	if err != nil || total != 2 || len(tasks) != 2 {
		t.Fatalf("alice list: total=%d len=%d err=%v", total, len(tasks), err)
	}
	for _, task := range tasks {
		if task.AssigneeID != alice.UserID && task.CreatorID != alice.UserID {
			t.Fatalf("alice sees foreign task %+v", task)
		}
	}

	_, total, err = f.tasks.List(ctx, root, models.TaskFilter{Limit: 10})
	if err != nil || total != 4 {
		t.Fatalf("admin list: total=%d err=%v", total, err)
	}

	stats, err := f.tasks.Stats(ctx, bob)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.ByStatus.Completed != 1 || stats.ByStatus.InProgress != 1 || stats.ByPriority.High != 2 {
		t.Fatalf("bob stats: %+v", stats)
	}
	all, _ := f.tasks.Stats(ctx, root)
	if sum := all.ByStatus.Pending + all.ByStatus.InProgress + all.ByStatus.Completed; sum != all.Total {
		t.Fatalf("status counts %d do not add up to %d", sum, all.Total)
	}
}

func TestOverdueDigestJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	past := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := f.tasks.Create(ctx, alice, CreateTaskInput{Title: "late", Description: "d", DueDate: &past}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.tasks.Create(ctx, alice, CreateTaskInput{
		Title: "done", Description: "d", DueDate: &past, Status: models.StatusCompleted,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	OverdueDigestJob(f.tasks, f.notifier, logging.Discard())()
	if len(f.notifier.digests) != 1 || f.notifier.digests[0] != 1 {
		t.Fatalf("digest: %v", f.notifier.digests)
	}
}

func TestSelfModificationIgnoresIDFormatting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.admin(t, "root")
	alice := f.register(t, "alice")

	variants := []string{
		strings.ToUpper(root.UserID),
		"{" + root.UserID + "}",
		strings.ReplaceAll(root.UserID, "-", ""),
	}
	for _, id := range variants {
		if _, err := f.users.ToggleStatus(ctx, root, id); !errors.Is(err, ErrSelfDeactivation) {
			t.Fatalf("toggle %s: got %v", id, err)
		}
		if _, err := f.users.ChangeRole(ctx, root, id, authz.RoleUser); !errors.Is(err, ErrSelfRoleChange) {
			t.Fatalf("role %s: got %v", id, err)
		}
	}

	// other accounts are still reachable through any accepted form
	u, err := f.users.ToggleStatus(ctx, root, strings.ToUpper(alice.UserID))
	if err != nil || u.ID != alice.UserID || u.IsActive {
		t.Fatalf("toggle alice: %+v %v", u, err)
	}
}

type slowEmail struct {
	mu   sync.Mutex
	sent []string
}

func (e *slowEmail) SendWelcomeEmail(email, _ string) error {
	time.Sleep(20 * time.Millisecond)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, email)
	return nil
}

func TestRegisterWaitsForWelcomeEmail(t *testing.T) {
	f := newFixture(t)
	mail := &slowEmail{}
	users := NewUserService(f.userRepo, mail, NewAuthService(bcrypt.MinCost), logging.Discard())

	if _, err := users.Register(context.Background(), RegisterInput{
		Username: "frank", Email: "frank@example.com", Password: "secret1",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	users.Wait()

	mail.mu.Lock()
	defer mail.mu.Unlock()
	if len(mail.sent) != 1 || mail.sent[0] != "frank@example.com" {
		t.Fatalf("welcome email not delivered before Wait returned: %v", mail.sent)
	}
}
