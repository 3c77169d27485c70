package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/opcost-api/internal/allocation"
	"gorm.io/gorm"
)

// OperatingCostStatement is the billing period of one property together
// with its recorded costs and computed results
type OperatingCostStatement struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	GUID              string          `gorm:"column:guid;uniqueIndex;size:36" json:"guid"`
	PropertyID        uint            `gorm:"not null;uniqueIndex:idx_statement_property_year" json:"property_id"`
	Year              *int            `gorm:"uniqueIndex:idx_statement_property_year" json:"year"`
	PeriodStart       time.Time       `gorm:"type:date;not null" json:"period_start"`
	PeriodEnd         time.Time       `gorm:"type:date;not null" json:"period_end"`
	Status            string          `gorm:"default:draft;index" json:"status"`
	TotalCosts        decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"total_costs"`
	Warnings          *string         `gorm:"type:text" json:"-"` // JSON list of the last computation's warnings
	ResultsComputedAt *time.Time      `json:"results_computed_at"`
	ReadyAt           *time.Time      `json:"ready_at"`
	SentAt            *time.Time      `json:"sent_at"`
	CreatedBy         *uint           `gorm:"index" json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Associations
	Property  Property          `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
	CostItems []CostLineItem    `gorm:"foreignKey:StatementID;constraint:OnDelete:CASCADE" json:"cost_items,omitempty"`
	Results   []StatementResult `gorm:"foreignKey:StatementID;constraint:OnDelete:CASCADE" json:"results,omitempty"`
}

// TableName specifies the table name for OperatingCostStatement
func (OperatingCostStatement) TableName() string {
	return "operating_cost_statements"
}

// Statement status constants
const (
	StatementStatusDraft = "draft"
	StatementStatusReady = "ready"
	StatementStatusSent  = "sent"
)

// BeforeCreate hook for setting defaults
func (s *OperatingCostStatement) BeforeCreate(tx *gorm.DB) error {
	if s.GUID == "" {
		s.GUID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = StatementStatusDraft
	}
	return nil
}

// Period returns the billing period of the statement
func (s *OperatingCostStatement) Period() allocation.Period {
	if s.Year != nil {
		return allocation.YearPeriod(*s.Year)
	}
	return allocation.Period{Start: s.PeriodStart, End: s.PeriodEnd}
}

// MayMarkReady returns true if the statement can be released for delivery
func (s *OperatingCostStatement) MayMarkReady() bool {
	return s.Status == StatementStatusDraft
}

// MayInvalidate returns true if a cost edit moves the statement back to draft
func (s *OperatingCostStatement) MayInvalidate() bool {
	return s.Status == StatementStatusReady
}

// MaySend returns true if documents may be delivered
func (s *OperatingCostStatement) MaySend() bool {
	return s.Status == StatementStatusReady || s.Status == StatementStatusSent
}

// MayDelete returns true if the statement can be removed
func (s *OperatingCostStatement) MayDelete() bool {
	return s.Status == StatementStatusDraft
}

// IsFrozen returns true once documents went out to tenants
func (s *OperatingCostStatement) IsFrozen() bool {
	return s.Status == StatementStatusSent
}

// StatementResponse is the JSON response format for statements
type StatementResponse struct {
	ID                uint            `json:"id"`
	GUID              string          `json:"guid"`
	PropertyID        uint            `json:"property_id"`
	PropertyName      string          `json:"property_name"`
	Year              *int            `json:"year"`
	PeriodStart       string          `json:"period_start"`
	PeriodEnd         string          `json:"period_end"`
	Days              int             `json:"days"`
	Status            string          `json:"status"`
	TotalCosts        decimal.Decimal `json:"total_costs"`
	CostItems         []CostLineItem  `json:"cost_items"`
	ResultsComputedAt *time.Time      `json:"results_computed_at"`
	ReadyAt           *time.Time      `json:"ready_at"`
	SentAt            *time.Time      `json:"sent_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ToResponse converts OperatingCostStatement to StatementResponse
func (s *OperatingCostStatement) ToResponse() StatementResponse {
	p := s.Period()
	items := s.CostItems
	if items == nil {
		items = []CostLineItem{}
	}
	return StatementResponse{
		ID:                s.ID,
		GUID:              s.GUID,
		PropertyID:        s.PropertyID,
		PropertyName:      s.Property.Name,
		Year:              s.Year,
		PeriodStart:       p.Start.Format(time.DateOnly),
		PeriodEnd:         p.End.Format(time.DateOnly),
		Days:              p.Days(),
		Status:            s.Status,
		TotalCosts:        s.TotalCosts,
		CostItems:         items,
		ResultsComputedAt: s.ResultsComputedAt,
		ReadyAt:           s.ReadyAt,
		SentAt:            s.SentAt,
		CreatedAt:         s.CreatedAt,
	}
}

// CostLineItem is one expense recorded for a statement
type CostLineItem struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	StatementID   uint            `gorm:"not null;index" json:"statement_id"`
	CostType      string          `gorm:"size:100;not null" json:"cost_type"`
	AllocationKey string          `gorm:"size:20;not null" json:"allocation_key"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Note          *string         `gorm:"type:text" json:"note"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name for CostLineItem
func (CostLineItem) TableName() string {
	return "cost_line_items"
}

// ToAllocation converts the stored row to an engine line item
func (c *CostLineItem) ToAllocation() allocation.CostLineItem {
	return allocation.CostLineItem{
		ID:       c.ID,
		CostType: c.CostType,
		Key:      allocation.AllocationKey(c.AllocationKey),
		Amount:   c.Amount,
	}
}

// StatementResult is the stored allocation outcome for one tenancy segment
type StatementResult struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	StatementID   uint            `gorm:"not null;index" json:"statement_id"`
	TenantID      uint            `gorm:"not null;index" json:"tenant_id"`
	UnitID        uint            `gorm:"not null;index" json:"unit_id"`
	ContractID    uint            `gorm:"not null;index" json:"contract_id"`
	PeriodStart   time.Time       `gorm:"type:date;not null" json:"period_start"`
	PeriodEnd     time.Time       `gorm:"type:date;not null" json:"period_end"`
	DaysInPeriod  int             `gorm:"not null" json:"days_in_period"`
	AreaSqm       decimal.Decimal `gorm:"type:decimal(10,2)" json:"area_sqm"`
	Persons       int             `json:"persons"`
	CostShare     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cost_share"`
	Prepayments   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"prepayments"`
	Balance       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance"`
	DocumentPath  *string         `json:"document_path"`
	DocumentStale bool            `gorm:"default:false" json:"document_stale"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	// Associations
	Tenant Tenant                `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	Unit   Unit                  `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
	Lines  []StatementResultLine `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE" json:"lines,omitempty"`
}

// TableName specifies the table name for StatementResult
func (StatementResult) TableName() string {
	return "statement_results"
}

// IsRefund returns true when the tenant is owed money
func (r *StatementResult) IsRefund() bool {
	return r.Balance.IsNegative()
}

// BalanceLabel returns the wording printed on the statement
func (r *StatementResult) BalanceLabel() string {
	if r.IsRefund() {
		return "Guthaben"
	}
	return "Nachzahlung"
}

// NeedsDocument returns true if the PDF must be (re)generated before sending
func (r *StatementResult) NeedsDocument() bool {
	return r.DocumentPath == nil || *r.DocumentPath == "" || r.DocumentStale
}

// StatementResultLine is the share of one cost line item in a result
type StatementResultLine struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	ResultID      uint            `gorm:"not null;index" json:"result_id"`
	CostItemID    uint            `gorm:"index" json:"cost_item_id"`
	CostType      string          `gorm:"size:100;not null" json:"cost_type"`
	AllocationKey string          `gorm:"size:20;not null" json:"allocation_key"`
	SourceAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"source_amount"`
	Share         decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"share"`
}

// TableName specifies the table name for StatementResultLine
func (StatementResultLine) TableName() string {
	return "statement_result_lines"
}

// NewStatementResult converts an engine result into a storable row
func NewStatementResult(statementID uint, r allocation.Result) StatementResult {
	lines := make([]StatementResultLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, StatementResultLine{
			CostItemID:    l.CostItemID,
			CostType:      l.CostType,
			AllocationKey: string(l.Key),
			SourceAmount:  l.SourceAmount,
			Share:         l.Share.Round(6),
		})
	}
	return StatementResult{
		StatementID:  statementID,
		TenantID:     r.TenantID,
		UnitID:       r.UnitID,
		ContractID:   r.ContractID,
		PeriodStart:  r.PeriodStart,
		PeriodEnd:    r.PeriodEnd,
		DaysInPeriod: r.DaysInPeriod,
		AreaSqm:      r.AreaSqm,
		Persons:      r.Persons,
		CostShare:    r.CostShare,
		Prepayments:  r.Prepayments,
		Balance:      r.Balance,
		Lines:        lines,
	}
}

// DeliveryLog records one attempt to send a statement document
type DeliveryLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StatementID uint      `gorm:"not null;index" json:"statement_id"`
	ResultID    uint      `gorm:"not null;index" json:"result_id"`
	TenantID    uint      `gorm:"not null;index" json:"tenant_id"`
	Recipient   string    `json:"recipient"`
	Status      string    `gorm:"size:20;not null;index" json:"status"`
	Error       *string   `gorm:"type:text" json:"error"`
	Forced      bool      `gorm:"default:false" json:"forced"`
	AttemptedAt time.Time `gorm:"not null;index" json:"attempted_at"`
}

// TableName specifies the table name for DeliveryLog
func (DeliveryLog) TableName() string {
	return "statement_delivery_logs"
}

// Delivery status constants
const (
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailure = "failure"
)
