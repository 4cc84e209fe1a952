package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOverAllocation         = errors.New("allocated quantity exceeds warehouse availability")
	ErrNegativeAllocation     = errors.New("allocated quantity cannot be negative")
	ErrUnknownWarehouse       = errors.New("warehouse is not a candidate for this item")
	ErrInsufficientAllocation = errors.New("allocated quantity does not cover the required quantity")
)

// WarehouseStock is the availability of one item in one warehouse.
type WarehouseStock struct {
	Warehouse string          `json:"warehouse"`
	Available decimal.Decimal `json:"available"`
}

// StockAdjustmentSource is the submission record telling the backend which
// warehouse to draw from. The zero value is the positional placeholder.
type StockAdjustmentSource struct {
	ItemCode        string          `json:"item_code"`
	SourceWarehouse string          `json:"s_warehouse"`
	Qty             decimal.Decimal `json:"qty"`
	UOM             string          `json:"uom"`
}

// Allocation is the operator's negotiation of split sourcing for one item.
type Allocation struct {
	ItemCode         string                `json:"item_code"`
	UOM              string                `json:"uom"`
	Required         decimal.Decimal       `json:"required"`
	DefaultWarehouse string                `json:"default_warehouse"`
	Lines            []WarehouseAllocation `json:"lines"`
}

// NewAllocation lists the default warehouse first, pre-selected with
// min(required, available), followed by the other candidates.
func NewAllocation(itemCode, uom string, required decimal.Decimal, defaultWarehouse string, defaultOnHand decimal.Decimal, candidates []WarehouseStock) *Allocation {
	a := &Allocation{
		ItemCode:         itemCode,
		UOM:              uom,
		Required:         required,
		DefaultWarehouse: defaultWarehouse,
	}

	if defaultWarehouse != "" {
		available := nonNegative(defaultOnHand)
		a.Lines = append(a.Lines, WarehouseAllocation{
			Warehouse: defaultWarehouse,
			Available: available,
			Allocated: decimal.Min(required, available),
			Selected:  true,
		})
	}

	for _, c := range candidates {
		if c.Warehouse == defaultWarehouse {
			continue
		}
		a.Lines = append(a.Lines, WarehouseAllocation{
			Warehouse: c.Warehouse,
			Available: nonNegative(c.Available),
		})
	}

	return a
}

// Set allocates qty from a warehouse and selects it. Over-allocation is
// rejected, never adjusted.
func (a *Allocation) Set(warehouse string, qty decimal.Decimal) error {
	line := a.line(warehouse)
	if line == nil {
		return fmt.Errorf("%w: %s", ErrUnknownWarehouse, warehouse)
	}
	if qty.IsNegative() {
		return ErrNegativeAllocation
	}
	if qty.GreaterThan(line.Available) {
		return fmt.Errorf("%w: %s has %s, requested %s", ErrOverAllocation, warehouse, line.Available, qty)
	}

	line.Allocated = qty
	line.Selected = true
	return nil
}

func (a *Allocation) Select(warehouse string) error {
	line := a.line(warehouse)
	if line == nil {
		return fmt.Errorf("%w: %s", ErrUnknownWarehouse, warehouse)
	}
	line.Selected = true
	return nil
}

func (a *Allocation) Deselect(warehouse string) error {
	line := a.line(warehouse)
	if line == nil {
		return fmt.Errorf("%w: %s", ErrUnknownWarehouse, warehouse)
	}
	line.Selected = false
	line.Allocated = decimal.Zero
	return nil
}

// Allocated sums the selected lines.
func (a *Allocation) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, line := range a.Lines {
		if line.Selected {
			total = total.Add(line.Allocated)
		}
	}
	return total
}

// Available sums every candidate, selected or not.
func (a *Allocation) Available() decimal.Decimal {
	total := decimal.Zero
	for _, line := range a.Lines {
		total = total.Add(line.Available)
	}
	return total
}

// Sufficient gates the submit action for the item.
func (a *Allocation) Sufficient() bool {
	selected := false
	for _, line := range a.Lines {
		if line.Selected {
			selected = true
			break
		}
	}
	return selected && a.Allocated().GreaterThanOrEqual(a.Required)
}

func (a *Allocation) Validate() error {
	for _, line := range a.Lines {
		if line.Allocated.GreaterThan(line.Available) {
			return fmt.Errorf("%w: %s", ErrOverAllocation, line.Warehouse)
		}
	}
	if !a.Sufficient() {
		return fmt.Errorf("%w: item %s needs %s, allocated %s", ErrInsufficientAllocation, a.ItemCode, a.Required, a.Allocated())
	}
	return nil
}

// AutoFill tops up the allocation greedily in candidate order until the
// required quantity is covered or stock runs out.
func (a *Allocation) AutoFill() {
	remaining := a.Required.Sub(a.Allocated())
	for i := range a.Lines {
		if !remaining.IsPositive() {
			return
		}
		line := &a.Lines[i]
		free := line.Available.Sub(line.Allocated)
		if !line.Selected {
			free = line.Available
			line.Allocated = decimal.Zero
		}
		if !free.IsPositive() {
			continue
		}
		take := decimal.Min(free, remaining)
		line.Allocated = line.Allocated.Add(take)
		line.Selected = true
		remaining = remaining.Sub(take)
	}
}

// Records returns the selected lines with a positive allocation.
func (a *Allocation) Records() []WarehouseAllocation {
	var out []WarehouseAllocation
	for _, line := range a.Lines {
		if line.Selected && line.Allocated.IsPositive() {
			out = append(out, line)
		}
	}
	return out
}

func (a *Allocation) line(warehouse string) *WarehouseAllocation {
	for i := range a.Lines {
		if a.Lines[i].Warehouse == warehouse {
			return &a.Lines[i]
		}
	}
	return nil
}

// BuildStockSources flattens item allocations into the submission payload.
// Items without allocations contribute one empty placeholder so positions
// line up with the item rows.
func BuildStockSources(items []OrderItem) []StockAdjustmentSource {
	out := make([]StockAdjustmentSource, 0, len(items))
	for _, item := range items {
		added := false
		for _, alloc := range item.Allocations {
			if !alloc.Allocated.IsPositive() {
				continue
			}
			out = append(out, StockAdjustmentSource{
				ItemCode:        item.ItemCode,
				SourceWarehouse: alloc.Warehouse,
				Qty:             alloc.Allocated,
				UOM:             item.UOM,
			})
			added = true
		}
		if !added {
			out = append(out, StockAdjustmentSource{})
		}
	}
	return out
}

// Shortage is a cart line whose default warehouse cannot cover the quantity.
type Shortage struct {
	Index     int              `json:"index"`
	ItemCode  string           `json:"item_code"`
	Required  decimal.Decimal  `json:"required"`
	OnHand    decimal.Decimal  `json:"on_hand"`
	Available decimal.Decimal  `json:"available"`
	Stock     []WarehouseStock `json:"stock"`
}

func onHand(stock []WarehouseStock, warehouse string) decimal.Decimal {
	for _, s := range stock {
		if s.Warehouse == warehouse {
			return s.Available
		}
	}
	return decimal.Zero
}
