package order

import (
	"github.com/shopspring/decimal"
)

type TotalSource string

const (
	TotalComputed    TotalSource = "computed"
	TotalServer      TotalSource = "server"
	TotalOutstanding TotalSource = "outstanding"
)

var (
	hundred       = decimal.NewFromInt(100)
	roundingGrain = decimal.RequireFromString("0.05")
)

// TotalsInput is everything the calculator needs. Server values are optional.
type TotalsInput struct {
	Items              []OrderItem
	DiscountPercent    decimal.Decimal
	TaxRate            decimal.Decimal
	RoundingEnabled    bool
	Saved              bool
	Edited             bool
	DocStatus          int
	ServerRoundedTotal *decimal.Decimal
	Outstanding        *decimal.Decimal
}

// Totals is the breakdown of a cart. Total is what the operator sees.
type Totals struct {
	Untaxed          decimal.Decimal `json:"untaxed"`
	ItemDiscount     decimal.Decimal `json:"item_discount"`
	Net              decimal.Decimal `json:"net"`
	GlobalDiscount   decimal.Decimal `json:"global_discount"`
	NetAfterDiscount decimal.Decimal `json:"net_after_discount"`
	Tax              decimal.Decimal `json:"tax"`
	Raw              decimal.Decimal `json:"raw"`
	Total            decimal.Decimal `json:"total"`
	Source           TotalSource     `json:"source"`
}

// String formats the total with two decimals.
func (t Totals) String() string {
	return t.Total.StringFixed(2)
}

// CalculateTotals prices the cart. A confirmed order is priced by the backend
// (invoice outstanding), and an unedited saved order keeps the server rounded
// total to avoid drift between client and server rounding.
func CalculateTotals(in TotalsInput) Totals {
	t := computeTotals(in)

	switch {
	case in.DocStatus == DocStatusSubmitted && in.Outstanding != nil:
		t.Total = nonNegative(*in.Outstanding).Round(2)
		t.Source = TotalOutstanding
	case in.Saved && !in.Edited && in.ServerRoundedTotal != nil:
		t.Total = nonNegative(*in.ServerRoundedTotal).Round(2)
		t.Source = TotalServer
	}

	return t
}

// TotalsFor builds the calculator input from a tab.
func TotalsFor(o *Order) TotalsInput {
	in := TotalsInput{
		Items:              o.Items,
		DiscountPercent:    o.DiscountPercent,
		TaxRate:            o.TaxRate,
		RoundingEnabled:    o.RoundingEnabled,
		Saved:              o.Saved(),
		Edited:             o.Edited,
		DocStatus:          o.DocStatus,
		ServerRoundedTotal: o.RoundedTotal,
	}
	if out, ok := o.Outstanding(); ok {
		in.Outstanding = &out
	}
	return in
}

func computeTotals(in TotalsInput) Totals {
	var t Totals
	for _, item := range in.Items {
		line := item.Qty.Mul(item.Rate)
		t.Untaxed = t.Untaxed.Add(line)
		t.ItemDiscount = t.ItemDiscount.Add(line.Mul(item.DiscountPercent).Div(hundred))
	}

	t.Net = t.Untaxed.Sub(t.ItemDiscount)
	t.GlobalDiscount = t.Net.Mul(in.DiscountPercent).Div(hundred)
	t.NetAfterDiscount = t.Net.Sub(t.GlobalDiscount)
	t.Tax = t.NetAfterDiscount.Mul(in.TaxRate).Div(hundred)
	t.Raw = t.NetAfterDiscount.Add(t.Tax)

	if in.RoundingEnabled {
		t.Total = RoundToGrain(t.Raw)
	} else {
		t.Total = nonNegative(t.Raw).Round(2)
	}
	t.Source = TotalComputed
	return t
}

// RoundToGrain rounds half-up onto the 0.05 grid.
func RoundToGrain(v decimal.Decimal) decimal.Decimal {
	return nonNegative(v).Div(roundingGrain).Round(0).Mul(roundingGrain).Round(2)
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
