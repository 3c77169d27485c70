package services

import (
	"bytes"
	"context"
	"embed"
	"encoding/csv"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/SebastiaanKlippert/go-wkhtmltopdf"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/allocation"
	"github.com/sjperalta/opcost-api/internal/config"
	"github.com/sjperalta/opcost-api/internal/metrics"
	"github.com/sjperalta/opcost-api/internal/models"
	"github.com/sjperalta/opcost-api/internal/repository"
	"github.com/sjperalta/opcost-api/internal/storage"
	"github.com/sjperalta/opcost-api/pkg/logger"
	"github.com/xuri/excelize/v2"
)

//go:embed templates/pdf/*.html
var pdfTemplates embed.FS

// Export formats
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// DocumentLine is one cost row of a tenant statement
type DocumentLine struct {
	CostType string
	KeyLabel string
	Total    string
	Share    string
}

// StatementDocument holds the formatted values printed on a tenant statement
type StatementDocument struct {
	PropertyName    string
	PropertyAddress string
	TenantName      string
	UnitName        string
	PeriodLabel     string
	PeriodStart     string
	PeriodEnd       string
	TotalDays       int
	TenancyStart    string
	TenancyEnd      string
	Days            int
	Area            string
	Persons         int
	Lines           []DocumentLine
	CostShare       string
	Prepayments     string
	BalanceLabel    string
	Balance         string
	IsRefund        bool
	GeneratedAt     string
}

// PDFRenderer turns a statement document into PDF bytes
type PDFRenderer interface {
	Name() string
	Render(doc *StatementDocument) ([]byte, error)
}

// DocumentFile is a generated or exported file
type DocumentFile struct {
	Data     []byte
	Filename string
	Path     string
}

type DocumentService struct {
	repo     repository.StatementRepository
	storage  *storage.LocalStorage
	renderer PDFRenderer
	registry *allocation.Registry
	currency string
	now      func() time.Time
}

func NewDocumentService(repo repository.StatementRepository, storage *storage.LocalStorage, renderer PDFRenderer, registry *allocation.Registry, currency string) *DocumentService {
	if renderer == nil {
		renderer = NewGoFPDFRenderer()
	}
	if registry == nil {
		registry = allocation.DefaultRegistry()
	}
	if currency == "" {
		currency = "EUR"
	}
	return &DocumentService{
		repo:     repo,
		storage:  storage,
		renderer: renderer,
		registry: registry,
		currency: currency,
		now:      time.Now,
	}
}

// NewPDFRenderer picks the renderer configured by PDF_RENDERER
func NewPDFRenderer(cfg *config.Config) PDFRenderer {
	if cfg != nil && cfg.PDFRenderer == config.RendererHTML {
		return NewHTMLRenderer()
	}
	return NewGoFPDFRenderer()
}

// GeneratePDF returns the tenant's statement PDF, rendering and storing it
// when no current document exists.
func (s *DocumentService) GeneratePDF(ctx context.Context, statementID, resultID uint) (*DocumentFile, error) {
	statement, err := s.repo.FindByID(ctx, statementID)
	if err != nil {
		return nil, notFound(err, "statement")
	}
	if err := requireCurrentResults(statement); err != nil {
		return nil, err
	}
	result, err := s.repo.FindResult(ctx, statementID, resultID)
	if err != nil {
		return nil, notFound(err, "result")
	}

	filename := documentFilename(statement, result)

	if !result.NeedsDocument() && s.storage.Exists(*result.DocumentPath) {
		data, err := s.storage.Read(*result.DocumentPath)
		if err == nil {
			return &DocumentFile{Data: data, Filename: filename, Path: *result.DocumentPath}, nil
		}
		logger.Warn("Stored document unreadable, rendering again",
			slog.Uint64("result_id", uint64(resultID)),
			slog.String("error", err.Error()))
	}

	start := time.Now()
	data, err := s.renderer.Render(s.buildDocument(statement, result))
	metrics.ObserveDocument(s.renderer.Name(), err, time.Since(start))
	if err != nil {
		logger.Error("Failed to render statement document",
			slog.Uint64("statement_id", uint64(statementID)),
			slog.Uint64("result_id", uint64(resultID)),
			slog.String("renderer", s.renderer.Name()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to render statement document: %w", err)
	}

	path, err := s.storage.Save(data, statementDir(statementID), filename)
	if err != nil {
		return nil, fmt.Errorf("failed to store statement document: %w", err)
	}
	if err := s.repo.SetResultDocument(ctx, resultID, path); err != nil {
		return nil, err
	}

	logger.Debug("Statement document generated",
		slog.Uint64("result_id", uint64(resultID)),
		slog.String("path", path))

	return &DocumentFile{Data: data, Filename: filename, Path: path}, nil
}

// PrerenderReady renders the missing or stale documents of every ready
// statement so sending does not wait on the renderer. Returns how many were rendered.
func (s *DocumentService) PrerenderReady(ctx context.Context) (int, error) {
	query := repository.NewListQuery()
	query.PerPage = 50
	query.Filters["status"] = models.StatementStatusReady

	rendered := 0
	for {
		statements, total, err := s.repo.List(ctx, query)
		if err != nil {
			return rendered, err
		}
		for _, statement := range statements {
			results, err := s.repo.FindResults(ctx, statement.ID)
			if err != nil {
				return rendered, err
			}
			for _, result := range results {
				if !result.NeedsDocument() {
					continue
				}
				if ctx.Err() != nil {
					return rendered, ctx.Err()
				}
				if _, err := s.GeneratePDF(ctx, statement.ID, result.ID); err != nil {
					logger.Warn("Prerendering statement document failed",
						slog.Uint64("statement_id", uint64(statement.ID)),
						slog.Uint64("result_id", uint64(result.ID)),
						slog.String("error", err.Error()))
					continue
				}
				rendered++
			}
		}
		if int64(query.Page*query.PerPage) >= total || len(statements) == 0 {
			break
		}
		query.Page++
	}
	return rendered, nil
}

// requireCurrentResults refuses documents built from results that predate
// the latest cost edit. Sent statements keep their frozen results.
func requireCurrentResults(statement *models.OperatingCostStatement) error {
	if statement.IsFrozen() || statement.ResultsComputedAt != nil {
		return nil
	}
	return fmt.Errorf("%w: results are missing or outdated, compute the statement first", ErrInvalidState)
}

func documentFilename(statement *models.OperatingCostStatement, result *models.StatementResult) string {
	p := statement.Period()
	return fmt.Sprintf("betriebskosten_%s_%s_%d.pdf",
		p.Start.Format("20060102"), p.End.Format("20060102"), result.ID)
}

func (s *DocumentService) keyLabel(key string) string {
	if strategy, ok := s.registry.Lookup(allocation.AllocationKey(key)); ok {
		return strategy.Description()
	}
	return key
}

func (s *DocumentService) buildDocument(statement *models.OperatingCostStatement, result *models.StatementResult) *StatementDocument {
	period := statement.Period()
	doc := &StatementDocument{
		PropertyName: statement.Property.Name,
		TenantName:   result.Tenant.FullName,
		UnitName:     result.Unit.Name,
		PeriodLabel:  periodLabel(statement),
		PeriodStart:  period.Start.Format("02.01.2006"),
		PeriodEnd:    period.End.Format("02.01.2006"),
		TotalDays:    period.Days(),
		TenancyStart: result.PeriodStart.Format("02.01.2006"),
		TenancyEnd:   result.PeriodEnd.Format("02.01.2006"),
		Days:         result.DaysInPeriod,
		Area:         formatDecimal(result.AreaSqm),
		Persons:      result.Persons,
		CostShare:    s.formatMoney(result.CostShare),
		Prepayments:  s.formatMoney(result.Prepayments),
		BalanceLabel: result.BalanceLabel(),
		Balance:      s.formatMoney(result.Balance.Abs()),
		IsRefund:     result.IsRefund(),
		GeneratedAt:  s.now().Format("02.01.2006"),
	}
	if statement.Property.Address != nil {
		doc.PropertyAddress = *statement.Property.Address
	}
	shares := make([]decimal.Decimal, len(result.Lines))
	for i, l := range result.Lines {
		shares[i] = l.Share
	}
	// printed rows add up to the printed total
	shares = allocation.RoundShares(shares, result.CostShare)
	for i, l := range result.Lines {
		doc.Lines = append(doc.Lines, DocumentLine{
			CostType: l.CostType,
			KeyLabel: s.keyLabel(l.AllocationKey),
			Total:    s.formatMoney(l.SourceAmount),
			Share:    s.formatMoney(shares[i]),
		})
	}
	return doc
}

func (s *DocumentService) formatMoney(d decimal.Decimal) string {
	symbol := s.currency
	if symbol == "EUR" {
		symbol = "€"
	}
	return formatDecimal(d) + " " + symbol
}

// formatDecimal prints d with two decimals in German notation (1.234,56)
func formatDecimal(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "," + frac
}

// GoFPDFRenderer draws the statement directly with gofpdf
type GoFPDFRenderer struct{}

func NewGoFPDFRenderer() *GoFPDFRenderer {
	return &GoFPDFRenderer{}
}

func (r *GoFPDFRenderer) Name() string { return config.RendererGoFPDF }

func (r *GoFPDFRenderer) Render(doc *StatementDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Betriebskostenabrechnung "+doc.PeriodLabel, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, tr("Betriebskostenabrechnung "+doc.PeriodLabel))
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	property := doc.PropertyName
	if doc.PropertyAddress != "" {
		property += ", " + doc.PropertyAddress
	}
	pdf.Cell(0, 6, tr(property))
	pdf.Ln(10)

	meta := [][2]string{
		{"Mieter:", doc.TenantName},
		{"Einheit:", doc.UnitName},
		{"Abrechnungszeitraum:", fmt.Sprintf("%s bis %s (%d Tage)", doc.PeriodStart, doc.PeriodEnd, doc.TotalDays)},
		{"Nutzungszeitraum:", fmt.Sprintf("%s bis %s (%d Tage)", doc.TenancyStart, doc.TenancyEnd, doc.Days)},
		{"Wohnfläche:", doc.Area + " m²"},
		{"Personen:", strconv.Itoa(doc.Persons)},
	}
	for _, row := range meta {
		pdf.Cell(50, 6, tr(row[0]))
		pdf.Cell(0, 6, tr(row[1]))
		pdf.Ln(6)
	}
	pdf.Ln(6)

	// Cost table
	widths := []float64{60, 45, 40, 40}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(224, 224, 224)
	for i, h := range []string{"Kostenart", "Verteilerschlüssel", "Gesamtkosten", "Ihr Anteil"} {
		align := "L"
		if i >= 2 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 7, tr(h), "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, line := range doc.Lines {
		pdf.CellFormat(widths[0], 6, tr(line.CostType), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, tr(line.KeyLabel), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, tr(line.Total), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, tr(line.Share), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	summary := [][2]string{
		{"Ihr Kostenanteil", doc.CostShare},
		{"Geleistete Vorauszahlungen", doc.Prepayments},
	}
	for _, row := range summary {
		pdf.CellFormat(105, 6, "", "", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, tr(row[0]), "", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, tr(row[1]), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(105, 8, "", "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, tr(doc.BalanceLabel), "T", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, tr(doc.Balance), "T", 1, "R", false, 0, "")

	pdf.Ln(12)
	pdf.SetFont("Arial", "I", 8)
	pdf.Cell(0, 5, tr("Erstellt am "+doc.GeneratedAt))

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HTMLRenderer renders the embedded HTML template through wkhtmltopdf
type HTMLRenderer struct {
	tmpl *template.Template
}

func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{
		tmpl: template.Must(template.ParseFS(pdfTemplates, "templates/pdf/statement.html")),
	}
}

func (r *HTMLRenderer) Name() string { return config.RendererHTML }

// RenderHTML executes the statement template
func (r *HTMLRenderer) RenderHTML(doc *StatementDocument) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *HTMLRenderer) Render(doc *StatementDocument) ([]byte, error) {
	html, err := r.RenderHTML(doc)
	if err != nil {
		return nil, err
	}

	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create pdf generator: %w", err)
	}
	pdfg.Dpi.Set(300)
	pdfg.Orientation.Set(wkhtmltopdf.OrientationPortrait)

	page := wkhtmltopdf.NewPageReader(bytes.NewReader(html))
	page.EnableLocalFileAccess.Set(true)
	pdfg.AddPage(page)

	if err := pdfg.Create(); err != nil {
		return nil, fmt.Errorf("failed to create pdf: %w", err)
	}
	return pdfg.Buffer().Bytes(), nil
}

// Export renders the statement results as xlsx or csv
func (s *DocumentService) Export(ctx context.Context, statementID uint, format string) (*DocumentFile, error) {
	var (
		file *DocumentFile
		err  error
	)
	switch strings.ToLower(format) {
	case FormatXLSX, "":
		format = FormatXLSX
		file, err = s.ExportXLSX(ctx, statementID)
	case FormatCSV:
		format = FormatCSV
		file, err = s.ExportCSV(ctx, statementID)
	default:
		return nil, &ValidationError{Fields: map[string]string{"format": "must be one of xlsx, csv"}}
	}
	metrics.IncExport(format, err)
	return file, err
}

func (s *DocumentService) loadExport(ctx context.Context, statementID uint) (*models.OperatingCostStatement, []models.StatementResult, error) {
	statement, err := s.repo.FindByID(ctx, statementID)
	if err != nil {
		return nil, nil, notFound(err, "statement")
	}
	if err := requireCurrentResults(statement); err != nil {
		return nil, nil, err
	}
	results, err := s.repo.FindResults(ctx, statementID)
	if err != nil {
		return nil, nil, err
	}
	return statement, results, nil
}

func exportFilename(statement *models.OperatingCostStatement, ext string) string {
	p := statement.Period()
	return fmt.Sprintf("betriebskosten_%d_%s_%s.%s", statement.PropertyID,
		p.Start.Format("20060102"), p.End.Format("20060102"), ext)
}

var resultColumns = []string{
	"Einheit", "Mieter", "Vertrag", "Von", "Bis", "Tage", "Fläche (m²)", "Personen",
	"Kostenanteil", "Vorauszahlungen", "Saldo", "Ergebnis",
}

func resultRow(r models.StatementResult) []any {
	return []any{
		r.Unit.Name,
		r.Tenant.FullName,
		r.ContractID,
		r.PeriodStart.Format(time.DateOnly),
		r.PeriodEnd.Format(time.DateOnly),
		r.DaysInPeriod,
		r.AreaSqm.InexactFloat64(),
		r.Persons,
		r.CostShare.InexactFloat64(),
		r.Prepayments.InexactFloat64(),
		r.Balance.InexactFloat64(),
		r.BalanceLabel(),
	}
}

// ExportXLSX builds a workbook with a summary sheet and the per-tenant results
func (s *DocumentService) ExportXLSX(ctx context.Context, statementID uint) (*DocumentFile, error) {
	statement, results, err := s.loadExport(ctx, statementID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	summary := "Übersicht"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	boldStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})

	period := statement.Period()
	_ = f.SetCellValue(summary, "A1", "Betriebskostenabrechnung "+periodLabel(statement))
	_ = f.SetCellStyle(summary, "A1", "A1", headerStyle)
	_ = f.SetCellValue(summary, "A3", "Objekt")
	_ = f.SetCellValue(summary, "B3", statement.Property.Name)
	_ = f.SetCellValue(summary, "A4", "Zeitraum")
	_ = f.SetCellValue(summary, "B4", period.Start.Format(time.DateOnly)+" bis "+period.End.Format(time.DateOnly))
	_ = f.SetCellValue(summary, "A5", "Status")
	_ = f.SetCellValue(summary, "B5", statement.Status)
	_ = f.SetCellValue(summary, "A6", "Gesamtkosten")
	_ = f.SetCellValue(summary, "B6", statement.TotalCosts.InexactFloat64())
	_ = f.SetCellStyle(summary, "B6", "B6", moneyStyle)

	_ = f.SetCellValue(summary, "A8", "Kostenart")
	_ = f.SetCellValue(summary, "B8", "Verteilerschlüssel")
	_ = f.SetCellValue(summary, "C8", "Betrag")
	_ = f.SetCellStyle(summary, "A8", "C8", boldStyle)
	row := 9
	for _, item := range statement.CostItems {
		_ = f.SetSheetRow(summary, fmt.Sprintf("A%d", row), &[]any{
			item.CostType, s.keyLabel(item.AllocationKey), item.Amount.InexactFloat64(),
		})
		_ = f.SetCellStyle(summary, fmt.Sprintf("C%d", row), fmt.Sprintf("C%d", row), moneyStyle)
		row++
	}
	_ = f.SetColWidth(summary, "A", "B", 28)
	_ = f.SetColWidth(summary, "C", "C", 14)

	sheet := "Ergebnisse"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}
	header := make([]any, len(resultColumns))
	for i, c := range resultColumns {
		header[i] = c
	}
	_ = f.SetSheetRow(sheet, "A1", &header)
	_ = f.SetCellStyle(sheet, "A1", "L1", boldStyle)
	for i, r := range results {
		values := resultRow(r)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
		_ = f.SetCellStyle(sheet, fmt.Sprintf("I%d", i+2), fmt.Sprintf("K%d", i+2), moneyStyle)
	}
	_ = f.SetColWidth(sheet, "A", "B", 24)
	_ = f.SetColWidth(sheet, "C", "L", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return &DocumentFile{Data: buf.Bytes(), Filename: exportFilename(statement, FormatXLSX)}, nil
}

// ExportCSV writes one row per result
func (s *DocumentService) ExportCSV(ctx context.Context, statementID uint) (*DocumentFile, error) {
	statement, results, err := s.loadExport(ctx, statementID)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	if err := w.Write([]string{
		"unit", "tenant", "contract_id", "period_start", "period_end", "days", "area_sqm", "persons",
		"cost_share", "prepayments", "balance",
	}); err != nil {
		return nil, err
	}
	for _, r := range results {
		record := []string{
			r.Unit.Name,
			r.Tenant.FullName,
			strconv.FormatUint(uint64(r.ContractID), 10),
			r.PeriodStart.Format(time.DateOnly),
			r.PeriodEnd.Format(time.DateOnly),
			strconv.Itoa(r.DaysInPeriod),
			r.AreaSqm.StringFixed(2),
			strconv.Itoa(r.Persons),
			r.CostShare.StringFixed(2),
			r.Prepayments.StringFixed(2),
			r.Balance.StringFixed(2),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return &DocumentFile{Data: buf.Bytes(), Filename: exportFilename(statement, FormatCSV)}, nil
}
