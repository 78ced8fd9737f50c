package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smart-event-relay/internal/batch"
)

// GetCycles lists the registered cycles with their last summaries
func (h *Handlers) GetCycles(c *gin.Context) {
	var infos []CycleInfo
	for _, name := range h.runner.Names() {
		info := CycleInfo{Name: name}
		if last, ok := h.runner.Last(name); ok {
			info.LastRun = &last
		}
		infos = append(infos, info)
	}
	c.JSON(http.StatusOK, infos)
}

// RunCycle runs one cycle, or all of them, and returns the summaries
func (h *Handlers) RunCycle(c *gin.Context) {
	name := c.Param("name")
	if !h.runner.Has(name) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Unknown cycle " + name,
			Code:    http.StatusNotFound,
		})
		return
	}

	summaries, err := h.runner.Run(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "cycle_failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if summaries == nil {
		summaries = []batch.Summary{}
	}
	c.JSON(http.StatusOK, CycleRunResponse{Summaries: summaries})
}
