package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smart-event-relay/internal/cycle"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/repository"
	"smart-event-relay/internal/scheduler"
)

// Store is the read and review surface of the datastore
type Store interface {
	Ping(ctx context.Context) error
	ListEvents(ctx context.Context, status string, page repository.Page) ([]model.Event, int64, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ApproveEvent(ctx context.Context, id string) (bool, error)
	ListEventReminders(ctx context.Context, eventID string) ([]model.Reminder, error)
	ListReminders(ctx context.Context, status string, page repository.Page) ([]model.Reminder, int64, error)
	GetReminder(ctx context.Context, id string) (*model.Reminder, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store     Store
	runner    *cycle.Runner
	scheduler *scheduler.Scheduler
}

// NewHandlers creates new HTTP handlers
func NewHandlers(store Store, runner *cycle.Runner, s *scheduler.Scheduler) *Handlers {
	return &Handlers{store: store, runner: runner, scheduler: s}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/cycles", h.GetCycles)
		api.POST("/cycles/:name/run", h.RunCycle)

		api.GET("/events", h.GetEvents)
		api.GET("/events/:id", h.GetEvent)
		api.POST("/events/:id/approve", h.ApproveEvent)

		api.GET("/reminders", h.GetReminders)
		api.GET("/reminders/:id", h.GetReminder)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
