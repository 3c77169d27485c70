package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/opcost-api/internal/services"
)

type DocumentHandler struct {
	statementService *services.StatementService
	documentService  *services.DocumentService
}

func NewDocumentHandler(statementService *services.StatementService, documentService *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{statementService: statementService, documentService: documentService}
}

func contentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

func sendFile(c *gin.Context, file *services.DocumentFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", file.Filename))
	c.Data(http.StatusOK, contentType(file.Filename), file.Data)
}

// @Summary Tenant Statement PDF
// @Description Download the statement document of one tenant
// @Tags Documents
// @Produce application/pdf
// @Param statement_id path int true "Statement ID"
// @Param result_id path int true "Result ID"
// @Success 200 {file} file "statement.pdf"
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /statements/{statement_id}/results/{result_id}/pdf [get]
func (h *DocumentHandler) PDF(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	resultID, ok := pathID(c, "result_id")
	if !ok {
		return
	}
	file, err := h.documentService.GeneratePDF(c.Request.Context(), statement.ID, resultID)
	if err != nil {
		respondError(c, err)
		return
	}
	sendFile(c, file)
}

// @Summary Export Statement
// @Description Download all results of a statement as spreadsheet
// @Tags Documents
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce text/csv
// @Param statement_id path int true "Statement ID"
// @Param format query string false "xlsx or csv" default(xlsx)
// @Success 200 {file} file "export"
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /statements/{statement_id}/export [get]
func (h *DocumentHandler) Export(c *gin.Context) {
	statement, ok := accessibleStatement(c, h.statementService)
	if !ok {
		return
	}
	file, err := h.documentService.Export(c.Request.Context(), statement.ID, c.DefaultQuery("format", services.FormatXLSX))
	if err != nil {
		respondError(c, err)
		return
	}
	sendFile(c, file)
}
