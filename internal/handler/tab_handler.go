package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/order"
)

type CustomerRequest struct {
	Name string `json:"name" validate:"max=140"`
}

type DiscountRequest struct {
	Percent json.Number `json:"percent" validate:"required,numeric"`
}

type ItemRequest struct {
	ItemCode        string      `json:"item_code" validate:"required,max=140"`
	Qty             json.Number `json:"qty" validate:"required,numeric"`
	Rate            json.Number `json:"rate" validate:"omitempty,numeric"`
	DiscountPercent json.Number `json:"discount_percentage" validate:"omitempty,numeric"`
	UOM             string      `json:"uom" validate:"max=40"`
	Warehouse       string      `json:"warehouse" validate:"max=140"`
}

type UpdateItemRequest struct {
	Qty             json.Number `json:"qty" validate:"omitempty,numeric"`
	Rate            json.Number `json:"rate" validate:"omitempty,numeric"`
	DiscountPercent json.Number `json:"discount_percentage" validate:"omitempty,numeric"`
	Warehouse       *string     `json:"warehouse,omitempty" validate:"omitempty,max=140"`
}

type AllocationLineRequest struct {
	Warehouse string      `json:"warehouse" validate:"required,max=140"`
	Qty       json.Number `json:"qty" validate:"required,numeric"`
}

type AllocationRequest struct {
	Lines    []AllocationLineRequest `json:"lines" validate:"dive"`
	AutoFill bool                    `json:"auto_fill"`
}

type PaymentRequest struct {
	ModeOfPayment string      `json:"mode_of_payment" validate:"max=140"`
	Amount        json.Number `json:"amount" validate:"required,numeric"`
}

type ReturnLineRequest struct {
	Selected *bool       `json:"selected,omitempty"`
	Qty      json.Number `json:"qty" validate:"omitempty,numeric"`
	Commit   bool        `json:"commit"`
}

// TabResponse is a tab plus its priced totals.
type TabResponse struct {
	*order.Order
	Totals order.Totals `json:"totals"`
}

func newTabResponse(o *order.Order) TabResponse {
	return TabResponse{Order: o, Totals: order.CalculateTotals(order.TotalsFor(o))}
}

type TabHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewTabHandler(service order.Service) *TabHandler {
	return &TabHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *TabHandler) RegisterRoutes(router chi.Router) {
	router.Route("/tabs", func(r chi.Router) {
		r.Post("/", h.handleOpenTab)
		r.Get("/", h.handleListTabs)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetTab)
			r.Delete("/", h.handleCloseTab)

			r.Put("/customer", h.handleSetCustomer)
			r.Put("/discount", h.handleSetDiscount)
			r.Post("/items", h.handleAddItem)
			r.Patch("/items/{idx}", h.handleUpdateItem)
			r.Delete("/items/{idx}", h.handleRemoveItem)
			r.Get("/items/{idx}/allocation", h.handleGetAllocation)
			r.Put("/items/{idx}/allocation", h.handlePutAllocation)
			r.Get("/totals", h.handleTotals)
			r.Get("/shortages", h.handleShortages)

			r.Post("/save", h.handleSave)
			r.Post("/confirm", h.handleConfirm)
			r.Post("/pay", h.handlePay)
			r.Post("/confirm-and-pay", h.handleConfirmAndPay)
			r.Post("/refresh", h.handleRefresh)
			r.Get("/insights", h.handleInsights)

			r.Post("/returns/open", h.handleOpenReturn)
			r.Put("/returns/lines/{ref}", h.handleReturnLine)
			r.Post("/returns", h.handleSubmitReturn)
		})
	})
}

// decode reads and validates a request body. It writes the error response
// itself and reports whether the handler may continue.
func (h *TabHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("handler: unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}

func tabID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("tab_id", idParam).Msg("handler: failed to parse tab id")
		respondWithError(w, http.StatusBadRequest, "Invalid tab id")
		return uuid.Nil, false
	}
	return id, true
}

func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid item index")
		return 0, false
	}
	return idx, true
}

// number parses an optional numeric field. Empty input yields the zero value.
func number(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

func optionalNumber(n json.Number) (*decimal.Decimal, error) {
	if n == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (h *TabHandler) respondTab(w http.ResponseWriter, status int, o *order.Order, err error, action string) {
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("handler: service call failed")
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, status, newTabResponse(o))
}

func (h *TabHandler) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.OpenTab(r.Context())
	h.respondTab(w, http.StatusCreated, o, err, "open tab")
}

func (h *TabHandler) handleListTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.service.Tabs(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to list tabs")
		respondWithServiceError(w, err)
		return
	}

	out := make([]TabResponse, 0, len(tabs))
	for _, o := range tabs {
		out = append(out, newTabResponse(o))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *TabHandler) handleGetTab(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	o, err := h.service.Tab(r.Context(), id)
	h.respondTab(w, http.StatusOK, o, err, "get tab")
}

func (h *TabHandler) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	if err := h.service.CloseTab(r.Context(), id); err != nil {
		log.Error().Err(err).Stringer("tab_id", id).Msg("handler: failed to close tab")
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TabHandler) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	var req CustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.service.SetCustomer(r.Context(), id, req.Name)
	h.respondTab(w, http.StatusOK, o, err, "set customer")
}

func (h *TabHandler) handleSetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	var req DiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	percent, err := number(req.Percent)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid percent")
		return
	}
	o, err := h.service.SetDiscount(r.Context(), id, percent)
	h.respondTab(w, http.StatusOK, o, err, "set discount")
}

func (h *TabHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	var req ItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	qty, errQty := number(req.Qty)
	rate, errRate := number(req.Rate)
	discount, errDiscount := number(req.DiscountPercent)
	if err := errors.Join(errQty, errRate, errDiscount); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid number in item")
		return
	}

	o, err := h.service.AddItem(r.Context(), id, order.OrderItem{
		ItemCode:        req.ItemCode,
		Qty:             qty,
		Rate:            rate,
		DiscountPercent: discount,
		UOM:             req.UOM,
		Warehouse:       req.Warehouse,
	})
	h.respondTab(w, http.StatusOK, o, err, "add item")
}

func (h *TabHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	qty, errQty := optionalNumber(req.Qty)
	rate, errRate := optionalNumber(req.Rate)
	discount, errDiscount := optionalNumber(req.DiscountPercent)
	if err := errors.Join(errQty, errRate, errDiscount); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid number in item")
		return
	}

	o, err := h.service.UpdateItem(r.Context(), id, idx, order.ItemUpdate{
		Qty:             qty,
		Rate:            rate,
		DiscountPercent: discount,
		Warehouse:       req.Warehouse,
	})
	h.respondTab(w, http.StatusOK, o, err, "update item")
}

func (h *TabHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	o, err := h.service.RemoveItem(r.Context(), id, idx)
	h.respondTab(w, http.StatusOK, o, err, "remove item")
}

func (h *TabHandler) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	a, err := h.service.PrepareAllocation(r.Context(), id, idx)
	if err != nil {
		log.Error().Err(err).Stringer("tab_id", id).Msg("handler: failed to prepare allocation")
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, a)
}

func (h *TabHandler) handlePutAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	idx, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var req AllocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.service.PrepareAllocation(r.Context(), id, idx)
	if err != nil {
		log.Error().Err(err).Stringer("tab_id", id).Msg("handler: failed to prepare allocation")
		respondWithServiceError(w, err)
		return
	}

	if len(req.Lines) > 0 {
		for _, line := range a.Lines {
			_ = a.Deselect(line.Warehouse)
		}
		for _, line := range req.Lines {
			qty, err := number(line.Qty)
			if err == nil {
				err = a.Set(line.Warehouse, qty)
			}
			if err != nil {
				respondWithServiceError(w, err)
				return
			}
		}
	}
	if req.AutoFill {
		a.AutoFill()
	}

	o, err := h.service.ApplyAllocation(r.Context(), id, idx, a)
	h.respondTab(w, http.StatusOK, o, err, "apply allocation")
}

func (h *TabHandler) handleTotals(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	totals, err := h.service.Totals(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, totals)
}

func (h *TabHandler) handleShortages(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	shortages, err := h.service.FindShortages(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Stringer("tab_id", id).Msg("handler: failed to find shortages")
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, shortages)
}

func (h *TabHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	o, err := h.service.Save(r.Context(), id)
	h.respondTab(w, http.StatusOK, o, err, "save")
}

func (h *TabHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	o, err := h.service.Confirm(r.Context(), id)
	h.respondTab(w, http.StatusOK, o, err, "confirm")
}

func (h *TabHandler) payment(w http.ResponseWriter, r *http.Request) (order.PaymentAttempt, bool) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return order.PaymentAttempt{}, false
	}
	amount, err := number(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid amount")
		return order.PaymentAttempt{}, false
	}
	return order.PaymentAttempt{ModeOfPayment: req.ModeOfPayment, Amount: amount}, true
}

func (h *TabHandler) handlePay(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	p, ok := h.payment(w, r)
	if !ok {
		return
	}
	o, err := h.service.Pay(r.Context(), id, p)
	h.respondTab(w, http.StatusOK, o, err, "pay")
}

func (h *TabHandler) handleConfirmAndPay(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	p, ok := h.payment(w, r)
	if !ok {
		return
	}
	o, err := h.service.ConfirmAndPay(r.Context(), id, p)
	h.respondTab(w, http.StatusOK, o, err, "confirm and pay")
}

func (h *TabHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	o, err := h.service.RefreshOrder(r.Context(), id)
	h.respondTab(w, http.StatusOK, o, err, "refresh")
}

func (h *TabHandler) handleInsights(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	ci, err := h.service.CustomerInsights(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Stringer("tab_id", id).Msg("handler: failed to load customer insights")
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ci)
}

func (h *TabHandler) handleOpenReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	rs, err := h.service.OpenReturn(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Stringer("tab_id", id).Msg("handler: failed to open return")
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rs)
}

func (h *TabHandler) handleReturnLine(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	ref := chi.URLParam(r, "ref")
	var req ReturnLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Selected == nil && req.Qty == "" && !req.Commit {
		respondWithError(w, http.StatusBadRequest, "Nothing to change")
		return
	}

	var (
		rs  *order.ReturnSession
		err error
	)
	if req.Selected != nil {
		rs, err = h.service.SelectReturnLine(r.Context(), id, ref, *req.Selected)
	}
	if err == nil && req.Qty != "" {
		var qty decimal.Decimal
		if qty, err = number(req.Qty); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid qty")
			return
		}
		rs, err = h.service.SetReturnQuantity(r.Context(), id, ref, qty)
	}
	if err == nil && req.Commit {
		rs, err = h.service.CommitReturnQuantity(r.Context(), id, ref)
	}
	if err != nil {
		log.Warn().Err(err).Stringer("tab_id", id).Str("ref", ref).Msg("handler: failed to update return line")
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rs)
}

func (h *TabHandler) handleSubmitReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := tabID(w, r)
	if !ok {
		return
	}
	o, err := h.service.SubmitReturn(r.Context(), id)
	h.respondTab(w, http.StatusOK, o, err, "submit return")
}
