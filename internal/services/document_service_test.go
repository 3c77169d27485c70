package services

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/config"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0,00"},
		{"50", "50,00"},
		{"299.178", "299,18"},
		{"1234.5", "1.234,50"},
		{"-1234567.891", "-1.234.567,89"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDecimal(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestDocumentService_GeneratePDF(t *testing.T) {
	env := newTestEnv(t)
	statement := env.newStatement(t)
	ctx := context.Background()

	outcome, err := env.statement.ComputeResults(ctx, Actor{}, statement.ID)
	require.NoError(t, err)
	resultID := outcome.Results[0].ID

	doc, err := env.documents.GeneratePDF(ctx, statement.ID, resultID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF")))
	assert.Equal(t, "betriebskosten_20230101_20231231_"+strconv.FormatUint(uint64(resultID), 10)+".pdf", doc.Filename)

	result, err := env.repos.Statement.FindResult(ctx, statement.ID, resultID)
	require.NoError(t, err)
	require.NotNil(t, result.DocumentPath)
	assert.Equal(t, doc.Path, *result.DocumentPath)
	assert.False(t, result.NeedsDocument())

	// served from storage the second time
	again, err := env.documents.GeneratePDF(ctx, statement.ID, resultID)
	require.NoError(t, err)
	assert.Equal(t, doc.Data, again.Data)

	_, err = env.documents.GeneratePDF(ctx, statement.ID, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentService_StaleAfterInvalidation(t *testing.T) {
	env := newTestEnv(t)
	statement := env.newStatement(t)
	ctx := context.Background()

	outcome, err := env.statement.ComputeResults(ctx, Actor{}, statement.ID)
	require.NoError(t, err)
	_, err = env.statement.MarkReady(ctx, Actor{}, statement.ID)
	require.NoError(t, err)

	resultID := outcome.Results[0].ID
	_, err = env.documents.GeneratePDF(ctx, statement.ID, resultID)
	require.NoError(t, err)

	_, err = env.statement.AddCostItem(ctx, Actor{}, statement.ID, CostItemInput{CostType: "Hauswart", AllocationKey: "units", Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)

	result, err := env.repos.Statement.FindResult(ctx, statement.ID, resultID)
	require.NoError(t, err)
	assert.True(t, result.DocumentStale)
	assert.True(t, result.NeedsDocument())
}

func TestDocumentService_DraftEditRequiresRecompute(t *testing.T) {
	env := newTestEnv(t)
	statement := env.newStatement(t)
	ctx := context.Background()

	_, err := env.documents.Export(ctx, statement.ID, "csv")
	assert.ErrorIs(t, err, ErrInvalidState)

	outcome, err := env.statement.ComputeResults(ctx, Actor{}, statement.ID)
	require.NoError(t, err)
	resultID := outcome.Results[0].ID
	before, err := env.documents.GeneratePDF(ctx, statement.ID, resultID)
	require.NoError(t, err)

	_, err = env.statement.AddCostItem(ctx, Actor{}, statement.ID, CostItemInput{CostType: "Hauswart", AllocationKey: "units", Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)

	result, err := env.repos.Statement.FindResult(ctx, statement.ID, resultID)
	require.NoError(t, err)
	assert.True(t, result.DocumentStale)

	_, err = env.documents.GeneratePDF(ctx, statement.ID, resultID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = env.documents.Export(ctx, statement.ID, "csv")
	assert.ErrorIs(t, err, ErrInvalidState)

	outcome, err = env.statement.ComputeResults(ctx, Actor{}, statement.ID)
	require.NoError(t, err)
	assertDecimal(t, "850", outcome.Results[0].CostShare)

	after, err := env.documents.GeneratePDF(ctx, statement.ID, outcome.Results[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.Data, after.Data)

	csvFile, err := env.documents.Export(ctx, statement.ID, "csv")
	require.NoError(t, err)
	assert.Contains(t, string(csvFile.Data), "850.00,650.00,200.00")
}

func TestDocumentService_PrerenderReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// drafts are left alone
	env.newStatement(t)
	rendered, err := env.documents.PrerenderReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rendered)

	other := 2024
	statement, err := env.statement.CreateStatement(ctx, Actor{}, CreateStatementInput{PropertyID: env.property.ID, Year: &other})
	require.NoError(t, err)
	_, err = env.statement.AddCostItem(ctx, Actor{}, statement.ID, CostItemInput{CostType: "Grundsteuer", AllocationKey: "area", Amount: decimal.NewFromInt(200)})
	require.NoError(t, err)
	_, err = env.statement.ComputeResults(ctx, Actor{}, statement.ID)
	require.NoError(t, err)
	_, err = env.statement.MarkReady(ctx, Actor{}, statement.ID)
	require.NoError(t, err)

	rendered, err = env.documents.PrerenderReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rendered)

	results, err := env.repos.Statement.FindResults(ctx, statement.ID)
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.NeedsDocument())
	}

	rendered, err = env.documents.PrerenderReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rendered)
}

func TestDocumentService_Export(t *testing.T) {
	env := newTestEnv(t)
	statement := env.newStatement(t)
	ctx := context.Background()

	_, err := env.statement.ComputeResults(ctx, Actor{}, statement.ID)
	require.NoError(t, err)

	csvFile, err := env.documents.Export(ctx, statement.ID, "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(csvFile.Filename, ".csv"))
	lines := strings.Split(strings.TrimSpace(string(csvFile.Data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "unit,tenant,contract_id"))
	assert.Contains(t, lines[1], "Anna Schmidt")
	assert.Contains(t, lines[1], "600.00,650.00,-50.00")
	assert.Contains(t, lines[2], "400.00,0.00,400.00")

	xlsx, err := env.documents.Export(ctx, statement.ID, "XLSX")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(xlsx.Filename, ".xlsx"))
	assert.True(t, bytes.HasPrefix(xlsx.Data, []byte("PK")))

	_, err = env.documents.Export(ctx, statement.ID, "pdf")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.documents.Export(ctx, 999, "csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentService_PrintedLinesAddUp(t *testing.T) {
	env := newTestEnv(t)
	year := 2023
	third := decimal.RequireFromString("33.333333")
	result := &models.StatementResult{
		CostShare: decimal.RequireFromString("100.00"),
		Lines: []models.StatementResultLine{
			{CostType: "Hauswart", AllocationKey: "units", SourceAmount: decimal.NewFromInt(300), Share: third},
			{CostType: "Gartenpflege", AllocationKey: "units", SourceAmount: decimal.NewFromInt(300), Share: third},
			{CostType: "Allgemeinstrom", AllocationKey: "units", SourceAmount: decimal.NewFromInt(300), Share: third},
		},
	}

	doc := env.documents.buildDocument(&models.OperatingCostStatement{Year: &year}, result)
	require.Len(t, doc.Lines, 3)
	assert.Equal(t, "33,34 €", doc.Lines[0].Share)
	assert.Equal(t, "33,33 €", doc.Lines[1].Share)
	assert.Equal(t, "33,33 €", doc.Lines[2].Share)
	assert.Equal(t, "100,00 €", doc.CostShare)
}

func TestHTMLRenderer_RenderHTML(t *testing.T) {
	renderer := NewHTMLRenderer()
	assert.Equal(t, config.RendererHTML, renderer.Name())

	html, err := renderer.RenderHTML(&StatementDocument{
		PropertyName: "Lindenstraße 4",
		TenantName:   "Anna Schmidt",
		PeriodLabel:  "2023",
		Lines:        []DocumentLine{{CostType: "Gebäudeversicherung", KeyLabel: "Wohnfläche (m²)", Total: "1.000,00 €", Share: "600,00 €"}},
		BalanceLabel: "Guthaben",
		Balance:      "50,00 €",
	})
	require.NoError(t, err)
	body := string(html)
	assert.Contains(t, body, "Betriebskostenabrechnung 2023")
	assert.Contains(t, body, "Gebäudeversicherung")
	assert.Contains(t, body, "Guthaben")
}

func TestNewPDFRenderer(t *testing.T) {
	assert.Equal(t, config.RendererGoFPDF, NewPDFRenderer(&config.Config{PDFRenderer: config.RendererGoFPDF}).Name())
	assert.Equal(t, config.RendererHTML, NewPDFRenderer(&config.Config{PDFRenderer: config.RendererHTML}).Name())
}
