package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/opcost-api/internal/middleware"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/services"
	"github.com/sjperalta/opcost-api/pkg/logger"
)

// respondError writes the HTTP status matching a service error
func respondError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": validationErr.Fields})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadySent):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "hint": "pass force=true to send again"})
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNoRecipient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// pathID parses a numeric path parameter and answers 400 when it is not one
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func actorFrom(c *gin.Context) services.Actor {
	return services.Actor{
		UserID:    middleware.GetUserID(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func listQuery(c *gin.Context) *repository.ListQuery {
	query := repository.NewListQuery()
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PerPage < 1 || query.PerPage > 100 {
		query.PerPage = 20
	}
	return query
}

// accessibleStatement loads the statement named by the path and hides
// statements of other landlords behind a 404
func accessibleStatement(c *gin.Context, svc *services.StatementService) (*models.OperatingCostStatement, bool) {
	id, ok := pathID(c, "statement_id")
	if !ok {
		return nil, false
	}
	statement, err := svc.GetStatement(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !middleware.SeesAllProperties(c) && statement.Property.OwnerID != middleware.GetUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "statement: " + services.ErrNotFound.Error()})
		return nil, false
	}
	return statement, true
}
