package api

import "exchange/apps/exchange/internal/model"

// OrderBookResponse is the body of GET /order_book.
type OrderBookResponse struct {
	Data []model.PublicOrder `json:"data"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
