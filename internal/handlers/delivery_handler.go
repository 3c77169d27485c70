package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/opcost-api/internal/services"
)

type DeliveryHandler struct {
	statementService *services.StatementService
	deliveryService  *services.DeliveryService
}

func NewDeliveryHandler(statementService *services.StatementService, deliveryService *services.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{statementService: statementService, deliveryService: deliveryService}
}

func forceParam(c *gin.Context) bool {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	return force
}

// @Summary Send Statement To Tenant
// @Description Email one tenant their statement; a repeated send needs force=true
// @Tags Deliveries
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Param result_id path int true "Result ID"
// @Param force query bool false "Send again even if already delivered"
// @Success 200 {object} models.DeliveryLog
// @Failure 409 {object} map[string]string
// @Failure 502 {object} map[string]interface{}
// @Security BearerAuth
// @Router /statements/{statement_id}/results/{result_id}/send [post]
func (h *DeliveryHandler) SendOne(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	resultID, ok := pathID(c, "result_id")
	if !ok {
		return
	}

	entry, err := h.deliveryService.SendToTenant(c.Request.Context(), actorFrom(c), statement.ID, resultID, forceParam(c))
	if err != nil {
		if entry == nil {
			respondError(c, err)
			return
		}
		// the attempt was made and logged
		status := http.StatusBadGateway
		if errors.Is(err, services.ErrNoRecipient) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error(), "delivery": entry})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery": entry})
}

// @Summary Send Statement To All Tenants
// @Description Queue one delivery per tenant; tenants already served are skipped unless force=true
// @Tags Deliveries
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Param force query bool false "Send again to tenants already served"
// @Success 202 {object} map[string]interface{}
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /statements/{statement_id}/send [post]
func (h *DeliveryHandler) SendAll(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	queued, err := h.deliveryService.SendAll(c.Request.Context(), actorFrom(c), statement.ID, forceParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Delivery queued", "queued": queued})
}

// @Summary List Deliveries
// @Description Get every delivery attempt of a statement with counts per status
// @Tags Deliveries
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Success 200 {object} services.DeliverySummary
// @Security BearerAuth
// @Router /statements/{statement_id}/deliveries [get]
func (h *DeliveryHandler) Index(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	summary, err := h.deliveryService.ListDeliveries(c.Request.Context(), statement.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
