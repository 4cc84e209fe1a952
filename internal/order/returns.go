package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReturnSession is an open return against one invoice. Lines come from the
// backend when the session opens and are never reused across sessions.
type ReturnSession struct {
	InvoiceNumber string       `json:"invoice_number"`
	Lines         []ReturnLine `json:"lines"`
}

func newReturnSession(invoice string, lines []ReturnLine) *ReturnSession {
	rs := &ReturnSession{InvoiceNumber: invoice, Lines: make([]ReturnLine, len(lines))}
	for i, l := range lines {
		l.Requested = decimal.Zero
		l.Selected = false
		rs.Lines[i] = l
	}
	return rs
}

func (rs *ReturnSession) clone() *ReturnSession {
	c := *rs
	c.Lines = append([]ReturnLine(nil), rs.Lines...)
	return &c
}

func (rs *ReturnSession) line(ref string) (*ReturnLine, error) {
	for i := range rs.Lines {
		if rs.Lines[i].ItemRef == ref {
			return &rs.Lines[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownReturnLine, ref)
}

// Select marks a line for return and proposes its full returnable quantity.
// Lines with nothing left to return are refused here rather than at submit.
func (rs *ReturnSession) Select(ref string) error {
	l, err := rs.line(ref)
	if err != nil {
		return err
	}
	if !l.Returnable().IsPositive() {
		return fmt.Errorf("%w: %s has no returnable quantity", ErrNothingReturnable, l.ItemCode)
	}
	l.Selected = true
	if !l.Requested.IsPositive() {
		l.Requested = l.Returnable()
	}
	return nil
}

func (rs *ReturnSession) Deselect(ref string) error {
	l, err := rs.line(ref)
	if err != nil {
		return err
	}
	l.Selected = false
	l.Requested = decimal.Zero
	return nil
}

// SetRequested stores the operator's input as typed; Commit clamps it.
func (rs *ReturnSession) SetRequested(ref string, qty decimal.Decimal) error {
	l, err := rs.line(ref)
	if err != nil {
		return err
	}
	l.Requested = qty
	return nil
}

// Commit clamps the requested quantity into [0, returnable].
func (rs *ReturnSession) Commit(ref string) error {
	l, err := rs.line(ref)
	if err != nil {
		return err
	}
	clampReturn(l)
	return nil
}

func (rs *ReturnSession) CommitAll() {
	for i := range rs.Lines {
		clampReturn(&rs.Lines[i])
	}
}

func clampReturn(l *ReturnLine) {
	l.Requested = decimal.Min(nonNegative(l.Requested), l.Returnable())
}

// Items lists the selected lines with a positive quantity, ready to submit.
func (rs *ReturnSession) Items() []ReturnItem {
	var out []ReturnItem
	for _, l := range rs.Lines {
		if !l.Selected || !l.Requested.IsPositive() {
			continue
		}
		out = append(out, ReturnItem{
			ItemRef:  l.ItemRef,
			ItemCode: l.ItemCode,
			Qty:      l.Requested,
			UOM:      l.UOM,
			Rate:     l.Rate,
		})
	}
	return out
}

// ReturnsEverything reports whether the submission empties every line.
func (rs *ReturnSession) ReturnsEverything() bool {
	for _, l := range rs.Lines {
		if !l.Returnable().IsPositive() {
			continue
		}
		if !l.Selected || l.Requested.LessThan(l.Returnable()) {
			return false
		}
	}
	return true
}
