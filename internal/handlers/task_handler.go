package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/models"
	"taskhub/internal/services"
)

type TaskHandler struct {
	service services.TaskService
	resp    *Responder
	log     logrus.FieldLogger
}

func NewTaskHandler(service services.TaskService, resp *Responder, log logrus.FieldLogger) *TaskHandler {
	return &TaskHandler{service: service, resp: resp, log: log}
}

type taskListQuery struct {
	Page       *int   `form:"page" binding:"omitnil,min=1"`
	Limit      *int   `form:"limit" binding:"omitnil,min=1,max=100"`
	Status     string `form:"status" binding:"omitempty,taskstatus"`
	Priority   string `form:"priority" binding:"omitempty,taskpriority"`
	AssignedTo string `form:"assignedTo" binding:"omitempty,uuid"`
}

type createTaskRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"required,min=1,max=500"`
	Status      string `json:"status" binding:"omitempty,taskstatus"`
	Priority    string `json:"priority" binding:"omitempty,taskpriority"`
	DueDate     string `json:"dueDate" binding:"omitempty,isodate,future"`
	AssignedTo  string `json:"assignedTo" binding:"omitempty,uuid"`
}

func (r *createTaskRequest) normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.DueDate = strings.TrimSpace(r.DueDate)
	r.AssignedTo = canonicalID(strings.TrimSpace(r.AssignedTo))
}

// updateTaskRequest carries only the supplied fields. An empty dueDate clears it.
type updateTaskRequest struct {
	Title       *string `json:"title" binding:"omitnil,min=1,max=100"`
	Description *string `json:"description" binding:"omitnil,min=1,max=500"`
	Status      *string `json:"status" binding:"omitnil,taskstatus"`
	Priority    *string `json:"priority" binding:"omitnil,taskpriority"`
	DueDate     *string `json:"dueDate" binding:"omitempty,isodate,future"`
	AssignedTo  *string `json:"assignedTo" binding:"omitnil,uuid"`
}

func (r *updateTaskRequest) normalize() {
	for _, p := range []*string{r.Title, r.Description, r.DueDate, r.AssignedTo} {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	if r.AssignedTo != nil {
		*r.AssignedTo = canonicalID(*r.AssignedTo)
	}
}

func (r *updateTaskRequest) toUpdate() models.TaskUpdate {
	var upd models.TaskUpdate
	upd.Title = r.Title
	upd.Description = r.Description
	if r.Status != nil {
		s := models.TaskStatus(*r.Status)
		upd.Status = &s
	}
	if r.Priority != nil {
		p := models.TaskPriority(*r.Priority)
		upd.Priority = &p
	}
	if r.DueDate != nil {
		if *r.DueDate == "" {
			upd.ClearDueDate = true
		} else if t, err := parseDate(*r.DueDate); err == nil {
			upd.DueDate = &t
		}
	}
	upd.AssigneeID = r.AssignedTo
	return upd
}

// GET /tasks
func (h *TaskHandler) List(c *gin.Context) {
	var q taskListQuery
	if !bindQuery(c, &q) {
		return
	}
	page, limit := pageParams(q.Page, q.Limit)

	filter := models.TaskFilter{Limit: limit, Offset: models.PageOffset(page, limit)}
	if q.Status != "" {
		s := models.TaskStatus(q.Status)
		filter.Status = &s
	}
	if q.Priority != "" {
		p := models.TaskPriority(q.Priority)
		filter.Priority = &p
	}
	if q.AssignedTo != "" {
		assignee := canonicalID(q.AssignedTo)
		filter.AssigneeID = &assignee
	}

	tasks, total, err := h.service.List(c.Request.Context(), getIdentity(c), filter)
	if err != nil {
		h.resp.Error(c, "[task][list]", err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"tasks":      tasks,
		"pagination": models.NewPagination(page, limit, total),
	}, "")
}

// GET /tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	task, err := h.service.Get(c.Request.Context(), getIdentity(c), id)
	if err != nil {
		h.resp.Error(c, "[task][get]", err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"task": task}, "")
}

// POST /tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if !bindJSON(c, &req) {
		return
	}

	in := services.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskStatus(req.Status),
		Priority:    models.TaskPriority(req.Priority),
		AssigneeID:  req.AssignedTo,
	}
	if req.DueDate != "" {
		due, err := parseDate(req.DueDate)
		if err != nil {
			respondValidation(c, []FieldError{{Field: "dueDate", Message: "Due date must be a valid ISO 8601 date", Location: "body"}})
			return
		}
		in.DueDate = &due
	}

	caller := getIdentity(c)
	task, err := h.service.Create(c.Request.Context(), caller, in)
	if err != nil {
		h.resp.Error(c, "[task][create]", err)
		return
	}
	h.log.WithFields(logrus.Fields{"task_id": task.ID, "user_id": caller.UserID}).Debug("[task][create][ok]")
	respondData(c, http.StatusCreated, gin.H{"task": task}, "Task created successfully")
}

// PUT /tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if !bindJSON(c, &req) {
		return
	}

	task, err := h.service.Update(c.Request.Context(), getIdentity(c), id, req.toUpdate())
	if err != nil {
		h.resp.Error(c, "[task][update]", err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"task": task}, "Task updated successfully")
}

// DELETE /tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), getIdentity(c), id); err != nil {
		h.resp.Error(c, "[task][delete]", err)
		return
	}
	respondData(c, http.StatusOK, nil, "Task deleted successfully")
}

// GET /tasks/stats/overview
func (h *TaskHandler) Stats(c *gin.Context) {
	start := time.Now()
	stats, err := h.service.Stats(c.Request.Context(), getIdentity(c))
	if err != nil {
		h.resp.Error(c, "[task][stats]", err)
		return
	}
	h.log.WithField("took", time.Since(start)).Debug("[task][stats][ok]")
	respondData(c, http.StatusOK, stats, "")
}
