package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"exchange/apps/exchange/internal/model"
)

// maxTradeBodyBytes bounds a single trade submission.
const maxTradeBodyBytes = 1 << 20

// Admitter validates, authenticates and submits raw trade requests.
type Admitter interface {
	Admit(ctx context.Context, raw []byte) error
}

// BookReader exposes the order book projection.
type BookReader interface {
	Snapshot(ctx context.Context) ([]model.PublicOrder, error)
}

// OrderHandler handles the trade submission and order book endpoints
type OrderHandler struct {
	admitter Admitter
	book     BookReader
	logger   *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(admitter Admitter, book BookReader, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		admitter: admitter,
		book:     book,
		logger:   logger,
	}
}

// Trade handles POST /trade. The response body is the JSON literal true when the
// order was admitted and false otherwise.
func (h *OrderHandler) Trade(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTradeBodyBytes))
	if err != nil {
		h.logger.Warn("Failed to read trade request", zap.Error(err))
		h.writeJSONResponse(w, http.StatusBadRequest, false)
		return
	}

	if err := h.admitter.Admit(r.Context(), body); err != nil {
		switch {
		case errors.Is(err, model.ErrMalformedSubmission), errors.Is(err, model.ErrSignatureInvalid):
			h.logger.Info("Trade rejected", zap.Error(err))
		default:
			h.logger.Error("Trade failed", zap.Error(err))
		}
		h.writeJSONResponse(w, http.StatusOK, false)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, true)
}

// OrderBook handles GET /order_book
func (h *OrderHandler) OrderBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.book.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("Failed to load order book", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve order book")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, OrderBookResponse{Data: book})
}

// writeJSONResponse writes a JSON response with the specified status code
func (h *OrderHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *OrderHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	h.writeJSONResponse(w, statusCode, errorResponse)
}
