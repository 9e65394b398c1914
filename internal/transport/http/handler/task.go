package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nullcrew/taskforge/task"
)

// TaskHandler exposes a task.Scheduler over HTTP for operators: schedule,
// cancel, inspect and list. It binds requests into Scheduler calls and
// never duplicates the state-machine logic that lives in task itself.
type TaskHandler struct {
	scheduler *task.Scheduler
	store     task.Store
	clock     task.Clock
	logger    *slog.Logger
}

// NewTaskHandler wires a TaskHandler. store is the same Store the
// scheduler was built with — GetByID needs direct read access that
// Scheduler itself doesn't expose.
func NewTaskHandler(scheduler *task.Scheduler, store task.Store, clock task.Clock, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		scheduler: scheduler,
		store:     store,
		clock:     clock,
		logger:    logger.With("component", "task_handler"),
	}
}

type scheduleTaskRequest struct {
	Name                string     `json:"name"                binding:"required,max=256"`
	Params              any        `json:"params"`
	ScheduledAt         time.Time  `json:"scheduledAt"         binding:"required"`
	SchedulingTimeoutAt *time.Time `json:"schedulingTimeoutAt"`
	TimeoutMS           *int       `json:"timeoutMS"           binding:"omitempty,min=0"`
	RepeatAfterMS       *int       `json:"repeatAfterMS"       binding:"omitempty,min=0"`
	RetryOnTimeoutCount int        `json:"retryOnTimeoutCount" binding:"omitempty,min=0,max=20"`
	NotifyOnFailure     bool       `json:"notifyOnFailure"`
}

type taskResponse struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Params              any             `json:"params,omitempty"`
	ScheduledAt         time.Time       `json:"scheduledAt"`
	SchedulingTimeoutAt *time.Time      `json:"schedulingTimeoutAt,omitempty"`
	TimeoutMS           *int            `json:"timeoutMS,omitempty"`
	TimeoutAt           *time.Time      `json:"timeoutAt,omitempty"`
	StartedRunningAt    *time.Time      `json:"startedRunningAt,omitempty"`
	FinishedRunningAt   *time.Time      `json:"finishedRunningAt,omitempty"`
	CancelledAt         *time.Time      `json:"cancelledAt,omitempty"`
	WorkerName          string          `json:"workerName,omitempty"`
	Status              task.Status     `json:"status"`
	Result              any             `json:"result,omitempty"`
	Error               *task.TaskError `json:"error,omitempty"`
	RepeatAfterMS       *int            `json:"repeatAfterMS,omitempty"`
	NextScheduledAt     *time.Time      `json:"nextScheduledAt,omitempty"`
	RetryOnTimeoutCount int             `json:"retryOnTimeoutCount"`
	PreviousTaskID      string          `json:"previousTaskId,omitempty"`
	OriginalTaskID      string          `json:"originalTaskId,omitempty"`
	NotifyOnFailure     bool            `json:"notifyOnFailure,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

func toTaskResponse(t *task.Task) taskResponse {
	return taskResponse{
		ID:                  t.ID,
		Name:                t.Name,
		Params:              t.Params,
		ScheduledAt:         t.ScheduledAt,
		SchedulingTimeoutAt: t.SchedulingTimeoutAt,
		TimeoutMS:           t.TimeoutMS,
		TimeoutAt:           t.TimeoutAt,
		StartedRunningAt:    t.StartedRunningAt,
		FinishedRunningAt:   t.FinishedRunningAt,
		CancelledAt:         t.CancelledAt,
		WorkerName:          t.WorkerName,
		Status:              t.Status,
		Result:              t.Result,
		Error:               t.Error,
		RepeatAfterMS:       t.RepeatAfterMS,
		NextScheduledAt:     t.NextScheduledAt,
		RetryOnTimeoutCount: t.RetryOnTimeoutCount,
		PreviousTaskID:      t.PreviousTaskID,
		OriginalTaskID:      t.OriginalTaskID,
		NotifyOnFailure:     t.NotifyOnFailure,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

// Schedule handles POST /tasks.
func (h *TaskHandler) Schedule(ctx *gin.Context) {
	var req scheduleTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts []task.ScheduleOption
	if req.TimeoutMS != nil {
		opts = append(opts, task.WithTimeout(time.Duration(*req.TimeoutMS)*time.Millisecond))
	}
	if req.RepeatAfterMS != nil {
		opts = append(opts, task.WithRepeatAfter(time.Duration(*req.RepeatAfterMS)*time.Millisecond))
	}
	if req.RetryOnTimeoutCount > 0 {
		opts = append(opts, task.WithRetryOnTimeoutCount(req.RetryOnTimeoutCount))
	}
	if req.SchedulingTimeoutAt != nil {
		opts = append(opts, task.WithSchedulingTimeout(*req.SchedulingTimeoutAt))
	}
	if req.NotifyOnFailure {
		opts = append(opts, task.WithNotifyOnFailure())
	}

	t, err := h.scheduler.Schedule(ctx.Request.Context(), req.Name, req.ScheduledAt, req.Params, opts...)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrEmptyName):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("schedule task", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, toTaskResponse(t))
}

// Cancel handles POST /tasks/:id/cancel.
func (h *TaskHandler) Cancel(ctx *gin.Context) {
	id := ctx.Param("id")

	t, err := h.scheduler.CancelTask(ctx.Request.Context(), task.Filter{ID: id}, h.clock)
	if err != nil {
		if errors.Is(err, task.ErrEmptyFilter) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errEmptyFilter})
			return
		}
		h.logger.Error("cancel task", "task_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	if t == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
		return
	}

	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

// GetByID handles GET /tasks/:id.
func (h *TaskHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	t, err := h.store.FindByID(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.Error("get task", "task_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

// List handles GET /tasks.
func (h *TaskHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.scheduler.ListTasks(ctx.Request.Context(), task.ListTasksInput{
		Filter: task.Filter{Name: ctx.Query("name")},
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]taskResponse, len(result.Tasks))
	for i, t := range result.Tasks {
		items[i] = toTaskResponse(t)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"tasks":       items,
		"next_cursor": result.NextCursor,
	})
}
