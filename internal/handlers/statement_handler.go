package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/opcost-api/internal/middleware"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/services"
)

type StatementHandler struct {
	statementService *services.StatementService
}

func NewStatementHandler(statementService *services.StatementService) *StatementHandler {
	return &StatementHandler{statementService: statementService}
}

// CreateStatementRequest opens a statement by year or by explicit dates (YYYY-MM-DD)
type CreateStatementRequest struct {
	PropertyID  uint   `json:"property_id"`
	Year        *int   `json:"year"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

func (r CreateStatementRequest) toInput() (services.CreateStatementInput, error) {
	input := services.CreateStatementInput{PropertyID: r.PropertyID, Year: r.Year}
	fields := map[string]string{}
	if r.PeriodStart != "" {
		t, err := time.Parse(time.DateOnly, r.PeriodStart)
		if err != nil {
			fields["period_start"] = "must be a date in YYYY-MM-DD format"
		} else {
			input.PeriodStart = &t
		}
	}
	if r.PeriodEnd != "" {
		t, err := time.Parse(time.DateOnly, r.PeriodEnd)
		if err != nil {
			fields["period_end"] = "must be a date in YYYY-MM-DD format"
		} else {
			input.PeriodEnd = &t
		}
	}
	if len(fields) > 0 {
		return input, &services.ValidationError{Fields: fields}
	}
	return input, nil
}

// @Summary List Statements
// @Description Get a paginated list of operating cost statements
// @Tags Statements
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param property_id query int false "Filter by property"
// @Param status query string false "Filter by status (draft, ready, sent)"
// @Param year query int false "Filter by year"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /statements [get]
func (h *StatementHandler) Index(c *gin.Context) {
	query := listQuery(c)
	query.Filters["property_id"] = c.Query("property_id")
	query.Filters["status"] = c.Query("status")
	query.Filters["year"] = c.Query("year")
	if !middleware.SeesAllProperties(c) {
		query.Filters["owner_id"] = strconv.FormatUint(uint64(middleware.GetUserID(c)), 10)
	}

	statements, total, err := h.statementService.ListStatements(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]models.StatementResponse, 0, len(statements))
	for i := range statements {
		responses = append(responses, statements[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"statements": responses,
		"pagination": gin.H{"page": query.Page, "per_page": query.PerPage, "total": total},
	})
}

// @Summary Create Statement
// @Description Open a billing period for a property, by calendar year or explicit dates
// @Tags Statements
// @Accept json
// @Produce json
// @Param request body CreateStatementRequest true "Statement Data"
// @Success 201 {object} models.StatementResponse
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /statements [post]
func (h *StatementHandler) Create(c *gin.Context) {
	var req CreateStatementRequest
	if err := BindNestedOrFlat(c, "statement", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	input, err := req.toInput()
	if err != nil {
		respondError(c, err)
		return
	}
	if !middleware.SeesAllProperties(c) {
		input.OwnerID = middleware.GetUserID(c)
	}

	statement, err := h.statementService.CreateStatement(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"statement": statement.ToResponse()})
}

// @Summary Get Statement
// @Description Get a statement with its cost items
// @Tags Statements
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Success 200 {object} models.StatementResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /statements/{statement_id} [get]
func (h *StatementHandler) Show(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"statement": statement.ToResponse(),
		"warnings":  services.StoredWarnings(statement),
	})
}

// @Summary Delete Statement
// @Description Delete a draft statement
// @Tags Statements
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /statements/{statement_id} [delete]
func (h *StatementHandler) Delete(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	if err := h.statementService.DeleteStatement(c.Request.Context(), actorFrom(c), statement.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Statement deleted"})
}

func bindCostItem(c *gin.Context) (services.CostItemInput, bool) {
	var input services.CostItemInput
	if err := BindNestedOrFlat(c, "cost_item", &input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return input, false
	}
	input.AllocationKey = strings.ToLower(strings.TrimSpace(input.AllocationKey))
	return input, true
}

// @Summary Add Cost Item
// @Description Record an expense on a statement; editing a ready statement moves it back to draft
// @Tags Statements
// @Accept json
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Param request body services.CostItemInput true "Cost Item"
// @Success 201 {object} models.CostLineItem
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /statements/{statement_id}/cost_items [post]
func (h *StatementHandler) AddCostItem(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	input, ok := bindCostItem(c)
	if !ok {
		return
	}
	item, err := h.statementService.AddCostItem(c.Request.Context(), actorFrom(c), statement.ID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cost_item": item})
}

// @Summary Update Cost Item
// @Description Change an expense of a statement
// @Tags Statements
// @Accept json
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Param item_id path int true "Cost Item ID"
// @Param request body services.CostItemInput true "Cost Item"
// @Success 200 {object} models.CostLineItem
// @Security BearerAuth
// @Router /statements/{statement_id}/cost_items/{item_id} [put]
func (h *StatementHandler) UpdateCostItem(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item_id")
	if !ok {
		return
	}
	input, ok := bindCostItem(c)
	if !ok {
		return
	}
	item, err := h.statementService.UpdateCostItem(c.Request.Context(), actorFrom(c), statement.ID, itemID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cost_item": item})
}

// @Summary Delete Cost Item
// @Description Remove an expense from a statement
// @Tags Statements
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Param item_id path int true "Cost Item ID"
// @Success 200 {object} map[string]string
// @Security BearerAuth
// @Router /statements/{statement_id}/cost_items/{item_id} [delete]
func (h *StatementHandler) DeleteCostItem(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item_id")
	if !ok {
		return
	}
	if err := h.statementService.DeleteCostItem(c.Request.Context(), actorFrom(c), statement.ID, itemID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cost item deleted"})
}

func outcomeResponse(outcome *services.ComputeOutcome) gin.H {
	return gin.H{
		"statement": outcome.Statement.ToResponse(),
		"results":   outcome.Results,
		"warnings":  outcome.Warnings,
		"frozen":    outcome.Frozen,
	}
}

// @Summary Compute Results
// @Description Allocate the statement's costs to its tenancies and store the results
// @Tags Statements
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /statements/{statement_id}/compute [post]
func (h *StatementHandler) Compute(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	outcome, err := h.statementService.ComputeResults(c.Request.Context(), actorFrom(c), statement.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

// @Summary Get Results
// @Description Get the per-tenant results, recomputing them when costs changed since the last run
// @Tags Statements
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /statements/{statement_id}/results [get]
func (h *StatementHandler) Results(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	outcome, err := h.statementService.Results(c.Request.Context(), actorFrom(c), statement.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

// @Summary Mark Statement Ready
// @Description Release a computed draft statement for delivery
// @Tags Statements
// @Produce json
// @Param statement_id path int true "Statement ID"
// @Success 200 {object} models.StatementResponse
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /statements/{statement_id}/ready [post]
func (h *StatementHandler) Ready(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	statement, err := h.statementService.MarkReady(c.Request.Context(), actorFrom(c), statement.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statement": statement.ToResponse()})
}
