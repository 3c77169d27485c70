package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Property is a building whose operating costs are settled together
type Property struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Address   *string   `json:"address"`
	OwnerID   uint      `gorm:"not null;index" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Owner User   `gorm:"foreignKey:OwnerID" json:"-"`
	Units []Unit `gorm:"foreignKey:PropertyID" json:"units,omitempty"`
}

// TableName specifies the table name for Property
func (Property) TableName() string {
	return "properties"
}

// Unit is a rentable apartment or commercial space of a property
type Unit struct {
	ID         uint                `gorm:"primaryKey" json:"id"`
	PropertyID uint                `gorm:"not null;index" json:"property_id"`
	Name       string              `gorm:"not null" json:"name"`
	AreaSqm    decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"area_sqm"`
	Persons    *int                `json:"persons"` // default household size
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`

	// Associations
	Property Property `gorm:"foreignKey:PropertyID" json:"-"`
}

// TableName specifies the table name for Unit
func (Unit) TableName() string {
	return "units"
}

// Tenant is a person or company renting a unit
type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FullName  string    `gorm:"not null" json:"full_name"`
	Email     string    `gorm:"index" json:"email"`
	Phone     string    `json:"phone"`
	Locale    string    `gorm:"default:de" json:"locale"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Tenant
func (Tenant) TableName() string {
	return "tenants"
}

// RentalContract binds a tenant to a unit for a date range. A nil EndDate
// means the contract is open-ended.
type RentalContract struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	TenantID       uint            `gorm:"not null;index" json:"tenant_id"`
	UnitID         uint            `gorm:"not null;index" json:"unit_id"`
	StartDate      time.Time       `gorm:"type:date;not null;index" json:"start_date"`
	EndDate        *time.Time      `gorm:"type:date;index" json:"end_date"`
	Persons        *int            `json:"persons"`
	MonthlyAdvance decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"monthly_advance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Associations
	Tenant Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	Unit   Unit   `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
}

// TableName specifies the table name for RentalContract
func (RentalContract) TableName() string {
	return "rental_contracts"
}

// AdvancePayment is an operating-cost prepayment received from a tenant
type AdvancePayment struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ContractID uint            `gorm:"not null;index" json:"contract_id"`
	TenantID   uint            `gorm:"not null;index" json:"tenant_id"`
	PaidOn     time.Time       `gorm:"type:date;not null;index" json:"paid_on"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Note       *string         `gorm:"type:text" json:"note"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TableName specifies the table name for AdvancePayment
func (AdvancePayment) TableName() string {
	return "advance_payments"
}
