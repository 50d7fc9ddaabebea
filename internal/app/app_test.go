package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"taskhub/internal/config"
	"taskhub/internal/logging"
	"taskhub/internal/services"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  []struct {
		Field    string `json:"field"`
		Message  string `json:"message"`
		Location string `json:"location"`
	} `json:"errors"`
}

type testServer struct {
	t   *testing.T
	app *App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.Env = config.EnvTest
	cfg.Database.Driver = config.DriverSQLite
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg.Database.DSN = fmt.Sprintf("file:app_%s?mode=memory&cache=shared", name)
	cfg.Auth.JWTSecret = "taskhub_test_jwt_secret_key_1234567890"
	cfg.Auth.BcryptCost = 4
	cfg.RateLimit.Enabled = false

	a, err := New(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return &testServer{t: t, app: a}
}

func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.app.Router().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

type authData struct {
	Token string `json:"token"`
	User  struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
		IsActive bool   `json:"isActive"`
	} `json:"user"`
}

type userRefJSON struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type taskJSON struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	Priority    string      `json:"priority"`
	DueDate     *time.Time  `json:"dueDate"`
	AssignedTo  userRefJSON `json:"assignedTo"`
	CreatedBy   userRefJSON `json:"createdBy"`
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
	return out
}

func expectStatus(t *testing.T, got, want int, env envelope) {
	t.Helper()
	if got != want {
		t.Fatalf("expected status %d, got %d (message %q, errors %+v)", want, got, env.Message, env.Errors)
	}
}

func (s *testServer) register(username string) authData {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret1",
	})
	expectStatus(s.t, code, http.StatusCreated, env)
	return decode[authData](s.t, env.Data)
}

func (s *testServer) admin(username string) authData {
	s.t.Helper()
	_, err := s.app.Users.CreateAdmin(context.Background(), services.RegisterInput{
		Username: username, Email: username + "@example.com", Password: "secret1",
	})
	if err != nil {
		s.t.Fatalf("CreateAdmin: %v", err)
	}
	code, env := s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": username + "@example.com", "password": "secret1",
	})
	expectStatus(s.t, code, http.StatusOK, env)
	return decode[authData](s.t, env.Data)
}

func (s *testServer) createTask(token string, body map[string]any) taskJSON {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/tasks", token, body)
	expectStatus(s.t, code, http.StatusCreated, env)
	return decode[struct {
		Task taskJSON `json:"task"`
	}](s.t, env.Data).Task
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	alice := s.register("alice")
	if alice.Token == "" || alice.User.Role != "user" || !alice.User.IsActive {
		t.Fatalf("unexpected registration %+v", alice)
	}

	code, env := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice2", "email": "ALICE@example.com", "password": "secret1",
	})
	expectStatus(t, code, http.StatusBadRequest, env)
	if env.Message != "User with this email or username already exists" {
		t.Fatalf("unexpected message %q", env.Message)
	}

	code, env = s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "a!", "email": "nope", "password": "123",
	})
	expectStatus(t, code, http.StatusBadRequest, env)
	if env.Message != "Validation failed" || len(env.Errors) < 3 {
		t.Fatalf("expected field errors, got %+v", env)
	}

	code, env = s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	expectStatus(t, code, http.StatusUnauthorized, env)
	if env.Message != "Invalid credentials" {
		t.Fatalf("unexpected message %q", env.Message)
	}

	code, env = s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": " Alice@Example.com ", "password": "secret1",
	})
	expectStatus(t, code, http.StatusOK, env)
	login := decode[authData](t, env.Data)

	code, env = s.do(http.MethodGet, "/auth/me", login.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	me := decode[authData](t, env.Data)
	if me.User.ID != alice.User.ID || me.User.Email != "alice@example.com" {
		t.Fatalf("unexpected me %+v", me.User)
	}
	if strings.Contains(string(env.Data), "password") {
		t.Fatalf("password leaked: %s", env.Data)
	}

	code, env = s.do(http.MethodPost, "/auth/refresh", login.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	if decode[authData](t, env.Data).Token == "" {
		t.Fatalf("expected refreshed token")
	}

	code, env = s.do(http.MethodGet, "/auth/me", "", nil)
	expectStatus(t, code, http.StatusUnauthorized, env)
}

func TestTaskPaginationAndStats(t *testing.T) {
	s := newTestServer(t)
	bob := s.register("bob")

	priorities := []string{"low", "medium", "high"}
	statuses := []string{"pending", "in-progress", "completed"}
	for i := 0; i < 25; i++ {
		s.createTask(bob.Token, map[string]any{
			"title":       fmt.Sprintf("task %02d", i),
			"description": "something to do",
			"priority":    priorities[i%3],
			"status":      statuses[i%3],
		})
	}

	code, env := s.do(http.MethodGet, "/tasks?page=3&limit=10", bob.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	page := decode[struct {
		Tasks      []taskJSON `json:"tasks"`
		Pagination struct {
			Current int `json:"current"`
			Pages   int `json:"pages"`
			Total   int `json:"total"`
			Limit   int `json:"limit"`
		} `json:"pagination"`
	}](t, env.Data)
	if len(page.Tasks) != 5 || page.Pagination.Pages != 3 || page.Pagination.Total != 25 || page.Pagination.Current != 3 {
		t.Fatalf("unexpected page %+v (%d tasks)", page.Pagination, len(page.Tasks))
	}

	code, env = s.do(http.MethodGet, "/tasks?priority=high", bob.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	filtered := decode[struct {
		Tasks []taskJSON `json:"tasks"`
	}](t, env.Data)
	if len(filtered.Tasks) != 8 {
		t.Fatalf("expected 8 high priority tasks, got %d", len(filtered.Tasks))
	}
	for _, task := range filtered.Tasks {
		if task.Priority != "high" {
			t.Fatalf("filter leaked %+v", task)
		}
	}

	code, env = s.do(http.MethodGet, "/tasks?limit=500", bob.Token, nil)
	expectStatus(t, code, http.StatusBadRequest, env)

	code, env = s.do(http.MethodGet, "/tasks/stats/overview", bob.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	stats := decode[struct {
		Total    int `json:"total"`
		ByStatus struct {
			Pending    int `json:"pending"`
			InProgress int `json:"inProgress"`
			Completed  int `json:"completed"`
		} `json:"byStatus"`
		ByPriority struct {
			Low    int `json:"low"`
			Medium int `json:"medium"`
			High   int `json:"high"`
		} `json:"byPriority"`
	}](t, env.Data)
	if stats.Total != 25 ||
		stats.ByStatus.Pending+stats.ByStatus.InProgress+stats.ByStatus.Completed != 25 ||
		stats.ByPriority.Low+stats.ByPriority.Medium+stats.ByPriority.High != 25 {
		t.Fatalf("stats do not add up: %+v", stats)
	}
	if stats.ByPriority.Low != 9 || stats.ByStatus.Completed != 8 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// another user sees nothing of bob's
	carol := s.register("carol")
	code, env = s.do(http.MethodGet, "/tasks/stats/overview", carol.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	if !strings.Contains(string(env.Data), `"total":0`) {
		t.Fatalf("expected empty stats, got %s", env.Data)
	}
}

func TestTaskPermissionsAndValidation(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	worker := s.register("worker")
	outsider := s.register("outsider")
	root := s.admin("root")

	task := s.createTask(owner.Token, map[string]any{
		"title":       "  Write report  ",
		"description": "quarterly numbers",
		"assignedTo":  worker.User.ID,
		"dueDate":     time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	})
	if task.Title != "Write report" || task.Status != "pending" || task.Priority != "medium" {
		t.Fatalf("unexpected defaults %+v", task)
	}
	if task.AssignedTo.ID != worker.User.ID || task.AssignedTo.Username != "worker" || task.CreatedBy.ID != owner.User.ID {
		t.Fatalf("references not expanded: %+v", task)
	}
	path := "/tasks/" + task.ID

	code, env := s.do(http.MethodGet, path, outsider.Token, nil)
	expectStatus(t, code, http.StatusForbidden, env)
	code, env = s.do(http.MethodPut, path, outsider.Token, map[string]any{"title": "mine"})
	expectStatus(t, code, http.StatusForbidden, env)

	code, env = s.do(http.MethodPut, path, worker.Token, map[string]any{"status": "in-progress"})
	expectStatus(t, code, http.StatusOK, env)
	if env.Message != "Task updated successfully" {
		t.Fatalf("unexpected message %q", env.Message)
	}
	code, env = s.do(http.MethodDelete, path, worker.Token, nil)
	expectStatus(t, code, http.StatusForbidden, env)

	code, env = s.do(http.MethodPut, path, owner.Token, map[string]any{
		"dueDate": time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339),
	})
	expectStatus(t, code, http.StatusBadRequest, env)
	if len(env.Errors) != 1 || env.Errors[0].Field != "dueDate" {
		t.Fatalf("expected dueDate error, got %+v", env.Errors)
	}

	code, env = s.do(http.MethodPut, path, owner.Token, map[string]any{"status": "done"})
	expectStatus(t, code, http.StatusBadRequest, env)

	code, env = s.do(http.MethodPost, "/tasks", owner.Token, map[string]any{
		"title": "x", "description": "y", "assignedTo": "6a1f7c2e-6f1e-4e2a-9d59-3f0b1c2d3e4f",
	})
	expectStatus(t, code, http.StatusBadRequest, env)
	if env.Message != "Assigned user not found" {
		t.Fatalf("unexpected message %q", env.Message)
	}

	code, env = s.do(http.MethodGet, "/tasks/not-an-id", owner.Token, nil)
	expectStatus(t, code, http.StatusBadRequest, env)
	if len(env.Errors) != 1 || env.Errors[0].Location != "params" {
		t.Fatalf("expected params error, got %+v", env.Errors)
	}

	code, env = s.do(http.MethodGet, "/tasks/6a1f7c2e-6f1e-4e2a-9d59-3f0b1c2d3e4f", owner.Token, nil)
	expectStatus(t, code, http.StatusNotFound, env)

	code, env = s.do(http.MethodGet, path, root.Token, nil)
	expectStatus(t, code, http.StatusOK, env)

	code, env = s.do(http.MethodDelete, path, owner.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	if env.Message != "Task deleted successfully" {
		t.Fatalf("unexpected message %q", env.Message)
	}
	code, env = s.do(http.MethodGet, path, owner.Token, nil)
	expectStatus(t, code, http.StatusNotFound, env)
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t)
	root := s.admin("root")
	dave := s.register("dave")
	s.register("erin")

	code, env := s.do(http.MethodGet, "/users", dave.Token, nil)
	expectStatus(t, code, http.StatusForbidden, env)
	if env.Message != "User role user is not authorized to access this route" {
		t.Fatalf("unexpected message %q", env.Message)
	}

	code, env = s.do(http.MethodGet, "/users?role=user&limit=1", root.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	list := decode[struct {
		Users      []authData `json:"users"`
		Pagination struct {
			Total int `json:"total"`
			Pages int `json:"pages"`
		} `json:"pagination"`
	}](t, env.Data)
	if list.Pagination.Total != 2 || list.Pagination.Pages != 2 || len(list.Users) != 1 {
		t.Fatalf("unexpected user list %+v", list.Pagination)
	}

	for _, id := range []string{root.User.ID, strings.ToUpper(root.User.ID)} {
		self := "/users/" + id
		code, env = s.do(http.MethodPatch, self+"/toggle-status", root.Token, nil)
		expectStatus(t, code, http.StatusBadRequest, env)
		if env.Message != "You cannot deactivate your own account" {
			t.Fatalf("unexpected message %q", env.Message)
		}
		code, env = s.do(http.MethodPatch, self+"/role", root.Token, map[string]string{"role": "user"})
		expectStatus(t, code, http.StatusBadRequest, env)
		if env.Message != "You cannot change your own role" {
			t.Fatalf("unexpected message %q", env.Message)
		}
	}
	code, env = s.do(http.MethodGet, "/auth/me", root.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	if me := decode[authData](t, env.Data); me.User.Role != "admin" || !me.User.IsActive {
		t.Fatalf("admin account changed: %+v", me.User)
	}

	code, env = s.do(http.MethodPatch, "/users/"+dave.User.ID+"/role", root.Token, map[string]string{"role": "owner"})
	expectStatus(t, code, http.StatusBadRequest, env)

	code, env = s.do(http.MethodPatch, "/users/"+dave.User.ID+"/toggle-status", root.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	if env.Message != "User deactivated successfully" {
		t.Fatalf("unexpected message %q", env.Message)
	}

	// the old token stops working once the account is deactivated
	code, env = s.do(http.MethodGet, "/auth/me", dave.Token, nil)
	expectStatus(t, code, http.StatusUnauthorized, env)
	code, env = s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "dave@example.com", "password": "secret1",
	})
	expectStatus(t, code, http.StatusUnauthorized, env)

	code, env = s.do(http.MethodPatch, "/users/"+dave.User.ID+"/toggle-status", root.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
	code, env = s.do(http.MethodPatch, "/users/"+dave.User.ID+"/role", root.Token, map[string]string{"role": "admin"})
	expectStatus(t, code, http.StatusOK, env)

	// role is read from the store, so the existing token now carries admin rights
	code, env = s.do(http.MethodGet, "/users", dave.Token, nil)
	expectStatus(t, code, http.StatusOK, env)
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodGet, "/health", "", nil)
	expectStatus(t, code, http.StatusOK, env)
	if !strings.Contains(string(env.Data), `"status":"ok"`) {
		t.Fatalf("unexpected health %s", env.Data)
	}

	code, env = s.do(http.MethodGet, "/nope", "", nil)
	expectStatus(t, code, http.StatusNotFound, env)
	if env.Message != "Route not found" || env.Success {
		t.Fatalf("unexpected envelope %+v", env)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.app.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "taskhub_endpoint_calls_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
}

func TestTaskRoundTripAndRepeatedUpdate(t *testing.T) {
	s := newTestServer(t)
	owner := s.register("owner")
	worker := s.register("worker")

	due := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	created := s.createTask(owner.Token, map[string]any{
		"title":       "Plan sprint",
		"description": "pick stories",
		"priority":    "high",
		"status":      "in-progress",
		"dueDate":     due.Format(time.RFC3339),
		"assignedTo":  strings.ToUpper(worker.User.ID),
	})

	get := func() taskJSON {
		t.Helper()
		code, env := s.do(http.MethodGet, "/tasks/"+created.ID, owner.Token, nil)
		expectStatus(t, code, http.StatusOK, env)
		return decode[struct {
			Task taskJSON `json:"task"`
		}](t, env.Data).Task
	}

	fetched := get()
	if fetched.Title != created.Title || fetched.Description != "pick stories" ||
		fetched.Status != "in-progress" || fetched.Priority != "high" {
		t.Fatalf("fields differ: created %+v, fetched %+v", created, fetched)
	}
	if fetched.DueDate == nil || !fetched.DueDate.Equal(due) || created.DueDate == nil || !created.DueDate.Equal(due) {
		t.Fatalf("due date differs: want %s, created %v, fetched %v", due, created.DueDate, fetched.DueDate)
	}
	wantAssignee := userRefJSON{ID: worker.User.ID, Username: "worker", Email: "worker@example.com"}
	wantCreator := userRefJSON{ID: owner.User.ID, Username: "owner", Email: "owner@example.com"}
	if fetched.AssignedTo != wantAssignee || created.AssignedTo != wantAssignee {
		t.Fatalf("assignee not expanded: created %+v, fetched %+v", created.AssignedTo, fetched.AssignedTo)
	}
	if fetched.CreatedBy != wantCreator || created.CreatedBy != wantCreator {
		t.Fatalf("creator not expanded: created %+v, fetched %+v", created.CreatedBy, fetched.CreatedBy)
	}

	update := map[string]any{
		"title":      "Plan sprint 12",
		"status":     "completed",
		"priority":   "low",
		"dueDate":    "",
		"assignedTo": owner.User.ID,
	}
	var states []taskJSON
	for i := 0; i < 2; i++ {
		code, env := s.do(http.MethodPut, "/tasks/"+created.ID, owner.Token, update)
		expectStatus(t, code, http.StatusOK, env)
		states = append(states, get())
	}
	if states[0].Title != "Plan sprint 12" || states[0].Status != "completed" || states[0].Priority != "low" ||
		states[0].DueDate != nil || states[0].AssignedTo != wantCreator {
		t.Fatalf("update not applied: %+v", states[0])
	}
	if states[0].Title != states[1].Title || states[0].Description != states[1].Description ||
		states[0].Status != states[1].Status || states[0].Priority != states[1].Priority ||
		states[0].DueDate != nil || states[1].DueDate != nil ||
		states[0].AssignedTo != states[1].AssignedTo || states[0].CreatedBy != states[1].CreatedBy {
		t.Fatalf("repeated update changed the task: %+v then %+v", states[0], states[1])
	}
}
