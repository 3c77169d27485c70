package allocation

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroDenominator is returned when the property-wide total of a key is zero
	ErrZeroDenominator = errors.New("allocation denominator is zero")
	// ErrNoConsumptionData is returned by keys that need metered readings
	ErrNoConsumptionData = errors.New("no consumption readings available")
)

// Strategy splits one cost line item for one segment. A returned error is
// never fatal; the engine turns it into a zero share and a warning.
type Strategy interface {
	Key() AllocationKey
	Description() string
	Share(item CostLineItem, seg Segment, totals Totals) (decimal.Decimal, error)
}

// BaseStrategy carries the identity shared by all strategies
type BaseStrategy struct {
	key         AllocationKey
	description string
}

func (b BaseStrategy) Key() AllocationKey  { return b.key }
func (b BaseStrategy) Description() string { return b.description }

// prorate computes amount * weight / total * days / totalDays in one division
func prorate(amount, weight, total decimal.Decimal, days, totalDays int) (decimal.Decimal, error) {
	if total.IsZero() || totalDays == 0 {
		return decimal.Zero, ErrZeroDenominator
	}
	num := amount.Mul(weight).Mul(decimal.NewFromInt(int64(days)))
	den := total.Mul(decimal.NewFromInt(int64(totalDays)))
	return num.Div(den), nil
}

// AreaStrategy splits by living area
type AreaStrategy struct{ BaseStrategy }

func NewAreaStrategy() *AreaStrategy {
	return &AreaStrategy{BaseStrategy{key: KeyArea, description: "Wohnfläche (m²)"}}
}

func (s *AreaStrategy) Share(item CostLineItem, seg Segment, totals Totals) (decimal.Decimal, error) {
	return prorate(item.Amount, seg.Area, totals.Area, seg.Days, totals.Days)
}

// UnitsStrategy splits equally among all units of the property
type UnitsStrategy struct{ BaseStrategy }

func NewUnitsStrategy() *UnitsStrategy {
	return &UnitsStrategy{BaseStrategy{key: KeyUnits, description: "Wohneinheiten"}}
}

func (s *UnitsStrategy) Share(item CostLineItem, seg Segment, totals Totals) (decimal.Decimal, error) {
	return prorate(item.Amount, decimal.NewFromInt(1), decimal.NewFromInt(int64(totals.Units)), seg.Days, totals.Days)
}

// PersonsStrategy splits by household size
type PersonsStrategy struct{ BaseStrategy }

func NewPersonsStrategy() *PersonsStrategy {
	return &PersonsStrategy{BaseStrategy{key: KeyPersons, description: "Personen"}}
}

// Share is amount × persons × days / Σ(persons × days). For tenancies
// covering the whole period this equals amount × persons / Σ persons.
func (s *PersonsStrategy) Share(item CostLineItem, seg Segment, totals Totals) (decimal.Decimal, error) {
	return prorate(item.Amount, decimal.NewFromInt(int64(seg.Persons)), decimal.NewFromInt(int64(totals.PersonDays)), seg.Days, 1)
}

// ConsumptionStrategy is a placeholder until meter readings are recorded
type ConsumptionStrategy struct{ BaseStrategy }

func NewConsumptionStrategy() *ConsumptionStrategy {
	return &ConsumptionStrategy{BaseStrategy{key: KeyConsumption, description: "Verbrauch"}}
}

func (s *ConsumptionStrategy) Share(CostLineItem, Segment, Totals) (decimal.Decimal, error) {
	return decimal.Zero, ErrNoConsumptionData
}

// Registry maps allocation keys to strategies
type Registry struct {
	strategies map[AllocationKey]Strategy
}

// NewRegistry creates a registry holding the given strategies
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[AllocationKey]Strategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry returns a new registry with all built-in strategies
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewAreaStrategy(),
		NewUnitsStrategy(),
		NewPersonsStrategy(),
		NewConsumptionStrategy(),
	)
}

// Register adds or replaces the strategy for its key
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Key()] = s
}

// Lookup returns the strategy for a key
func (r *Registry) Lookup(key AllocationKey) (Strategy, bool) {
	s, ok := r.strategies[key]
	return s, ok
}

// Keys returns the registered keys in stable order
func (r *Registry) Keys() []AllocationKey {
	keys := make([]AllocationKey, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
