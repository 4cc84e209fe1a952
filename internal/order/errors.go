package order

import (
	"errors"
	"fmt"

	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/serverr"
)

var (
	ErrTabNotFound             = errors.New("tab not found")
	ErrActionInFlight          = errors.New("another action is in progress for this tab")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrNotPermitted            = errors.New("action is not permitted by the pos profile")
	ErrOrderLocked             = errors.New("order is confirmed and can no longer be edited")
	ErrEmptyOrder              = errors.New("order must contain at least one item")
	ErrInvalidItem             = errors.New("invalid order item")
	ErrItemIndex               = errors.New("item index out of range")
	ErrInvalidDiscount         = errors.New("discount percentage must be between 0 and 100")
	ErrCustomerNotFound        = errors.New("customer not found")
	ErrCustomerUnresolved      = errors.New("customer id is not resolved")
	ErrNotSaved                = errors.New("order has not been saved")
	ErrUnsavedChanges          = errors.New("order has unsaved changes")
	ErrIdentityUnresolved      = errors.New("operator or profile identity is not resolved")
	ErrConfirmationRejected    = errors.New("backend did not confirm the order")
	ErrNotConfirmed            = errors.New("order is not confirmed")
	ErrNoInvoice               = errors.New("order has no linked invoice")
	ErrNothingOutstanding      = errors.New("invoice has no outstanding amount")
	ErrInvalidPayment          = errors.New("invalid payment")
	ErrAllocationMismatch      = errors.New("allocation does not match the order item")
	ErrFullyReturned           = errors.New("order is already fully returned")
	ErrReturnNotOpened         = errors.New("no return is open for this tab")
	ErrUnknownReturnLine       = errors.New("unknown return line")
	ErrNothingReturnable       = errors.New("nothing to return")
)

// ActionError is a backend failure of a lifecycle action, classified for
// display. Result carries either per-item errors or one generic summary.
type ActionError struct {
	Action string
	Result serverr.Result
	Err    error
}

func (e *ActionError) Error() string {
	if summary := e.Result.Summary(); summary != "" {
		return fmt.Sprintf("%s failed: %s", e.Action, summary)
	}
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// ServerPayload is implemented by transport errors that carry the backend's
// raw message payload.
type ServerPayload interface {
	ServerPayload() serverr.Payload
}

func classify(action string, err error) *ActionError {
	var res serverr.Result
	var sp ServerPayload
	if errors.As(err, &sp) {
		res = serverr.Classify(sp.ServerPayload())
	} else {
		res = serverr.ClassifyText(err.Error())
	}
	if res.Kind == serverr.KindNone {
		summary, detail := serverr.Summarize(err.Error())
		res = serverr.Result{Kind: serverr.KindGeneric, Generic: &serverr.GenericError{Summary: summary, Detail: detail}}
	}
	return &ActionError{Action: action, Result: res, Err: err}
}
