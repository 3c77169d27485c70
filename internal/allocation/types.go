package allocation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AllocationKey identifies the rule used to split a cost across tenants
type AllocationKey string

const (
	KeyArea        AllocationKey = "area"
	KeyUnits       AllocationKey = "units"
	KeyPersons     AllocationKey = "persons"
	KeyConsumption AllocationKey = "consumption"
)

// String returns the string representation of the key
func (k AllocationKey) String() string {
	return string(k)
}

// IsValid returns true if the key is one of the supported strategies
func (k AllocationKey) IsValid() bool {
	switch k {
	case KeyArea, KeyUnits, KeyPersons, KeyConsumption:
		return true
	default:
		return false
	}
}

// AllKeys returns every supported allocation key
func AllKeys() []AllocationKey {
	return []AllocationKey{KeyArea, KeyUnits, KeyPersons, KeyConsumption}
}

var (
	ErrInvalidAllocationKey = errors.New("invalid allocation key")
	ErrNegativeAmount       = errors.New("amount must not be negative")
	ErrEmptyCostType        = errors.New("cost type is required")
	ErrInvalidPeriod        = errors.New("period end is before period start")
)

// CostLineItem is one recorded expense of a billing period
type CostLineItem struct {
	ID       uint
	CostType string
	Key      AllocationKey
	Amount   decimal.Decimal
}

// NewCostLineItem builds a validated line item
func NewCostLineItem(id uint, costType string, key AllocationKey, amount decimal.Decimal) (CostLineItem, error) {
	costType = strings.TrimSpace(costType)
	if costType == "" {
		return CostLineItem{}, ErrEmptyCostType
	}
	if !key.IsValid() {
		return CostLineItem{}, fmt.Errorf("%w: %q", ErrInvalidAllocationKey, key)
	}
	if amount.IsNegative() {
		return CostLineItem{}, ErrNegativeAmount
	}
	return CostLineItem{ID: id, CostType: costType, Key: key, Amount: amount}, nil
}

// Unit is a rentable unit of the property. Area and Persons are optional;
// missing values count as zero.
type Unit struct {
	ID      uint
	Name    string
	Area    decimal.NullDecimal
	Persons *int
}

// Tenancy is a rental contract as read from the record store. Prepayments
// must already be restricted to the overlap with the billing period.
type Tenancy struct {
	ContractID  uint
	TenantID    uint
	TenantName  string
	UnitID      uint
	Start       time.Time
	End         *time.Time
	Persons     *int
	Prepayments decimal.Decimal
}

// Input is a consistent snapshot of everything one computation needs
type Input struct {
	Period    Period
	Units     []Unit
	Items     []CostLineItem
	Tenancies []Tenancy
}

// Segment is the overlap of one tenancy with the billing period
type Segment struct {
	Tenancy
	UnitName string
	Period   Period
	Days     int
	Area     decimal.Decimal
	Persons  int
}

// Totals holds the property-wide denominators of one computation
//
// Persons is the head count over all segments. The persons key divides by
// PersonDays, the sum of persons × occupied days, so a unit whose tenant
// changes mid-period is counted once per day rather than once per tenant.
type Totals struct {
	Area       decimal.Decimal
	Units      int
	Persons    int
	PersonDays int
	Days       int
}

// ResultLine is the share of one cost line item for one segment
type ResultLine struct {
	CostItemID   uint
	CostType     string
	Key          AllocationKey
	SourceAmount decimal.Decimal
	Share        decimal.Decimal
}

// Result is the allocation outcome for one tenancy segment
type Result struct {
	ContractID   uint
	TenantID     uint
	TenantName   string
	UnitID       uint
	UnitName     string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	DaysInPeriod int
	AreaSqm      decimal.Decimal
	Persons      int
	Lines        []ResultLine
	CostShare    decimal.Decimal
	Prepayments  decimal.Decimal
	Balance      decimal.Decimal
}

// IsRefund returns true when the tenant is owed money
func (r Result) IsRefund() bool {
	return r.Balance.IsNegative()
}

// WarningCode classifies a non-fatal data anomaly
type WarningCode string

const (
	WarnInvalidAllocationKey  WarningCode = "invalid_allocation_key"
	WarnDegenerateDenominator WarningCode = "degenerate_denominator"
	WarnPartialDataGap        WarningCode = "partial_data_gap"
	WarnConsumptionMissing    WarningCode = "consumption_data_missing"
)

// Warning reports an anomaly that degraded to a zero contribution
type Warning struct {
	Code       WarningCode `json:"code"`
	Message    string      `json:"message"`
	CostItemID uint        `json:"cost_item_id,omitempty"`
	UnitID     uint        `json:"unit_id,omitempty"`
	ContractID uint        `json:"contract_id,omitempty"`
}

// Computation is the full output of one engine run
type Computation struct {
	Period   Period
	Totals   Totals
	Results  []Result
	Warnings []Warning
}
