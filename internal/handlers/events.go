package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"smart-event-relay/internal/model"
	"smart-event-relay/internal/repository"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

var eventStatuses = map[model.EventStatus]bool{
	model.EventPending:     true,
	model.EventUpcoming:    true,
	model.EventNeedsReview: true,
	model.EventSynced:      true,
	model.EventFailed:      true,
}

var reminderStatuses = map[model.ReminderStatus]bool{
	model.ReminderPending: true,
	model.ReminderSent:    true,
	model.ReminderFailed:  true,
}

// GetEvents returns events, optionally filtered by status
func (h *Handlers) GetEvents(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !eventStatuses[model.EventStatus(status)] {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_status", Message: "Unknown event status " + status, Code: http.StatusBadRequest})
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}

	events, total, err := h.store.ListEvents(c.Request.Context(), status, page)
	if err != nil {
		logrus.Errorf("Failed to list events: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch events", Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: events, Total: total, Page: page.Page, Limit: page.Limit})
}

// GetEvent returns a single event with its reminders
func (h *Handlers) GetEvent(c *gin.Context) {
	ev, err := h.store.GetEvent(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Event not found", Code: http.StatusNotFound})
		return
	}
	if err != nil {
		logrus.Errorf("Failed to fetch event: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch event", Code: http.StatusInternalServerError})
		return
	}

	reminders, err := h.store.ListEventReminders(c.Request.Context(), ev.ID)
	if err != nil {
		logrus.Errorf("Failed to fetch reminders: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch reminders", Code: http.StatusInternalServerError})
		return
	}
	if reminders == nil {
		reminders = []model.Reminder{}
	}
	c.JSON(http.StatusOK, EventResponse{Event: *ev, Reminders: reminders})
}

// ApproveEvent releases a needs_review event to calendar sync
func (h *Handlers) ApproveEvent(c *gin.Context) {
	id := c.Param("id")
	approved, err := h.store.ApproveEvent(c.Request.Context(), id)
	if err != nil {
		logrus.Errorf("Failed to approve event: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to approve event", Code: http.StatusInternalServerError})
		return
	}

	if !approved {
		_, err := h.store.GetEvent(c.Request.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Event not found", Code: http.StatusNotFound})
			return
		}
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid_state", Message: "Event is not awaiting review", Code: http.StatusConflict})
		return
	}

	logrus.WithField("event_id", id).Info("Event approved for sync")
	ev, err := h.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// GetReminders returns reminders, optionally filtered by status
func (h *Handlers) GetReminders(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !reminderStatuses[model.ReminderStatus(status)] {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_status", Message: "Unknown reminder status " + status, Code: http.StatusBadRequest})
		return
	}
	page, ok := pageQuery(c)
	if !ok {
		return
	}

	reminders, total, err := h.store.ListReminders(c.Request.Context(), status, page)
	if err != nil {
		logrus.Errorf("Failed to list reminders: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch reminders", Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: reminders, Total: total, Page: page.Page, Limit: page.Limit})
}

// GetReminder returns a single reminder
func (h *Handlers) GetReminder(c *gin.Context) {
	r, err := h.store.GetReminder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Reminder not found", Code: http.StatusNotFound})
		return
	}
	if err != nil {
		logrus.Errorf("Failed to fetch reminder: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to fetch reminder", Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, r)
}

// pageQuery reads page and limit, writing a 400 response when they are invalid
func pageQuery(c *gin.Context) (repository.Page, bool) {
	page := repository.Page{Page: 1, Limit: defaultLimit}
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_page", Message: "page must be a positive integer", Code: http.StatusBadRequest})
			return page, false
		}
		page.Page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_limit", Message: "limit must be a positive integer", Code: http.StatusBadRequest})
			return page, false
		}
		if n > maxLimit {
			n = maxLimit
		}
		page.Limit = n
	}
	return page, true
}
