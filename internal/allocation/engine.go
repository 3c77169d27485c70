package allocation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Engine apportions cost line items across tenancy segments. It holds no
// mutable state and performs no I/O.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine using the given strategies; nil selects the defaults
func NewEngine(registry *Registry) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Engine{registry: registry}
}

// Registry exposes the strategies used by the engine
func (e *Engine) Registry() *Registry {
	return e.registry
}

type warningSet struct {
	seen map[Warning]struct{}
	list []Warning
}

func (w *warningSet) add(wr Warning) {
	if w.seen == nil {
		w.seen = make(map[Warning]struct{})
	}
	if _, ok := w.seen[wr]; ok {
		return
	}
	w.seen[wr] = struct{}{}
	w.list = append(w.list, wr)
}

// Compute runs the allocation over a snapshot. It never fails: anomalies
// degrade to zero contributions and are returned as warnings.
func (e *Engine) Compute(in Input) Computation {
	var warnings warningSet
	usesKey := make(map[AllocationKey]bool)
	for _, item := range in.Items {
		usesKey[item.Key] = true
	}

	totals := Totals{Area: decimal.Zero, Units: len(in.Units), Days: in.Period.Days()}
	units := make(map[uint]Unit, len(in.Units))
	for _, u := range in.Units {
		units[u.ID] = u
		if u.Area.Valid {
			totals.Area = totals.Area.Add(u.Area.Decimal)
		} else if usesKey[KeyArea] {
			warnings.add(Warning{
				Code:    WarnPartialDataGap,
				Message: fmt.Sprintf("unit %q has no area, counted as 0", u.Name),
				UnitID:  u.ID,
			})
		}
	}

	segments := buildSegments(in.Period, units, in.Tenancies, usesKey[KeyPersons], &warnings)
	for _, seg := range segments {
		totals.Persons += seg.Persons
		totals.PersonDays += seg.Persons * seg.Days
	}

	results := make([]Result, 0, len(segments))
	for _, seg := range segments {
		results = append(results, e.allocateSegment(seg, in.Items, totals, &warnings))
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.UnitName != b.UnitName {
			return a.UnitName < b.UnitName
		}
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		return a.TenantID < b.TenantID
	})

	return Computation{
		Period:   in.Period,
		Totals:   totals,
		Results:  results,
		Warnings: warnings.list,
	}
}

// buildSegments intersects every tenancy with the period and resolves its
// unit data. Tenancies without overlap produce no segment.
func buildSegments(period Period, units map[uint]Unit, tenancies []Tenancy, needPersons bool, warnings *warningSet) []Segment {
	segments := make([]Segment, 0, len(tenancies))
	for _, t := range tenancies {
		overlap, ok := period.Overlap(t.Start, t.End)
		if !ok {
			continue
		}
		seg := Segment{
			Tenancy: t,
			Period:  overlap,
			Days:    overlap.Days(),
			Area:    decimal.Zero,
		}
		unit, found := units[t.UnitID]
		if found {
			seg.UnitName = unit.Name
			if unit.Area.Valid {
				seg.Area = unit.Area.Decimal
			}
		} else if warnings != nil {
			warnings.add(Warning{
				Code:       WarnPartialDataGap,
				Message:    fmt.Sprintf("contract %d references unknown unit %d", t.ContractID, t.UnitID),
				UnitID:     t.UnitID,
				ContractID: t.ContractID,
			})
		}

		switch {
		case t.Persons != nil:
			seg.Persons = *t.Persons
		case found && unit.Persons != nil:
			seg.Persons = *unit.Persons
		default:
			if needPersons && warnings != nil {
				warnings.add(Warning{
					Code:       WarnPartialDataGap,
					Message:    fmt.Sprintf("contract %d has no household size, counted as 0", t.ContractID),
					UnitID:     t.UnitID,
					ContractID: t.ContractID,
				})
			}
		}
		segments = append(segments, seg)
	}
	return segments
}

func (e *Engine) allocateSegment(seg Segment, items []CostLineItem, totals Totals, warnings *warningSet) Result {
	res := Result{
		ContractID:   seg.ContractID,
		TenantID:     seg.TenantID,
		TenantName:   seg.TenantName,
		UnitID:       seg.UnitID,
		UnitName:     seg.UnitName,
		PeriodStart:  seg.Period.Start,
		PeriodEnd:    seg.Period.End,
		DaysInPeriod: seg.Days,
		AreaSqm:      seg.Area,
		Persons:      seg.Persons,
		Lines:        make([]ResultLine, 0, len(items)),
		Prepayments:  seg.Prepayments,
	}

	total := decimal.Zero
	for _, item := range items {
		share := e.share(item, seg, totals, warnings)
		total = total.Add(share)
		res.Lines = append(res.Lines, ResultLine{
			CostItemID:   item.ID,
			CostType:     item.CostType,
			Key:          item.Key,
			SourceAmount: item.Amount,
			Share:        share,
		})
	}
	res.CostShare = total.Round(2)
	res.Balance = res.CostShare.Sub(res.Prepayments)
	return res
}

func (e *Engine) share(item CostLineItem, seg Segment, totals Totals, warnings *warningSet) decimal.Decimal {
	strategy, ok := e.registry.Lookup(item.Key)
	if !ok {
		warnings.add(Warning{
			Code:       WarnInvalidAllocationKey,
			Message:    fmt.Sprintf("cost item %q uses unknown allocation key %q", item.CostType, item.Key),
			CostItemID: item.ID,
		})
		return decimal.Zero
	}

	share, err := strategy.Share(item, seg, totals)
	switch {
	case err == nil:
		return share
	case errors.Is(err, ErrNoConsumptionData):
		warnings.add(Warning{
			Code:       WarnConsumptionMissing,
			Message:    fmt.Sprintf("cost item %q needs consumption readings", item.CostType),
			CostItemID: item.ID,
		})
	default:
		warnings.add(Warning{
			Code:       WarnDegenerateDenominator,
			Message:    fmt.Sprintf("cost item %q: %v", item.CostType, err),
			CostItemID: item.ID,
		})
	}
	return decimal.Zero
}
