package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/opcost-api/internal/services"
)

type JobHandler struct {
	jobService *services.JobService
}

func NewJobHandler(jobService *services.JobService) *JobHandler {
	return &JobHandler{jobService: jobService}
}

// @Summary Delivery Worker Status
// @Description Pool size, running and finished jobs of the worker that sends statements and renders documents
// @Tags Jobs
// @Produce json
// @Success 200 {object} services.JobStatus
// @Failure 403 {object} map[string]string
// @Security BearerAuth
// @Router /jobs/status [get]
func (h *JobHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"worker": h.jobService.GetStatus()})
}
