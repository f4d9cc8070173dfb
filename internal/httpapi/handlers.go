package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/ledgersync"
	"supplyTrace/internal/model"
)

type addProductRequest struct {
	Name     string `json:"name"`
	Origin   string `json:"origin"`
	Category string `json:"category"`
}

type addProductResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ProductID   uint64 `json:"productId"`
	QRCodeImage string `json:"qrCodeImage"`
}

type getProductResponse struct {
	Success     bool               `json:"success"`
	Product     model.LedgerRecord `json:"product"`
	QRCodeImage string             `json:"qrCodeImage"`
}

type addEventRequest struct {
	ProductID   ledgerRef `json:"productId"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
}

type addEventResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	EventID int64  `json:"eventId"`
}

type historyResponse struct {
	Success bool          `json:"success"`
	History []model.Event `json:"history"`
}

type productsResponse struct {
	Success  bool            `json:"success"`
	Products []model.Product `json:"products"`
}

type updateStatusRequest struct {
	ProductID   ledgerRef `json:"productId"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *handlers) addProduct(w http.ResponseWriter, r *http.Request) {
	var req addProductRequest
	if err := readJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	reg, err := h.svc.Register(r.Context(), ledgersync.RegisterInput{
		Name:     req.Name,
		Origin:   req.Origin,
		Category: req.Category,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addProductResponse{
		Success:     true,
		Message:     "Product added successfully!",
		ProductID:   reg.LedgerID,
		QRCodeImage: reg.QRImage,
	})
}

func (h *handlers) getProduct(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, getProductResponse{Success: true, Product: view.Product, QRCodeImage: view.QRImage})
}

func (h *handlers) addEvent(w http.ResponseWriter, r *http.Request) {
	var req addEventRequest
	if err := readJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	event, err := h.svc.AddEvent(r.Context(), ledgersync.EventInput{
		ProductID:   string(req.ProductID),
		EventType:   req.EventType,
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addEventResponse{Success: true, Message: "Event added successfully", EventID: event.ID})
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.History(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, History: history})
}

func (h *handlers) getAllProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productsResponse{Success: true, Products: products})
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := readJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	_, err := h.svc.UpdateStatus(r.Context(), ledgersync.StatusInput{
		ProductID:   string(req.ProductID),
		Status:      req.Status,
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Status updated successfully"})
}

// fail logs server-side errors with their cause and writes the client-safe form.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if statusFor(kind) >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, err)
}
