package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"exchange/apps/exchange/internal/events"
	"exchange/apps/exchange/internal/model"
	"exchange/apps/exchange/internal/repository"
	"exchange/apps/exchange/internal/signature"
)

// Submitter hands an admitted order to matching.
type Submitter interface {
	Submit(ctx context.Context, order *model.Order) error
}

// tradePayload is the signed body of a submission. A nil field was missing or null.
type tradePayload struct {
	SenderPK     *string          `json:"sender_pk"`
	ReceiverPK   *string          `json:"receiver_pk"`
	BuyCurrency  *string          `json:"buy_currency"`
	SellCurrency *string          `json:"sell_currency"`
	BuyAmount    *decimal.Decimal `json:"buy_amount"`
	SellAmount   *decimal.Decimal `json:"sell_amount"`
	Platform     *string          `json:"platform"`
}

// Gate validates and authenticates raw trade submissions before they reach the engine.
// Rejected submissions are written to the audit log.
type Gate struct {
	registry  *signature.Registry
	submitter Submitter
	audit     repository.AuditLog
	logger    *zap.Logger
}

// NewGate creates a gate that submits authenticated orders to submitter.
func NewGate(registry *signature.Registry, submitter Submitter, audit repository.AuditLog, logger *zap.Logger) *Gate {
	return &Gate{
		registry:  registry,
		submitter: submitter,
		audit:     audit,
		logger:    logger,
	}
}

// Admit processes one {"sig", "payload"} submission. A nil error means the order was
// stored and matched. Malformed requests wrap model.ErrMalformedSubmission and bad
// signatures wrap model.ErrSignatureInvalid.
func (g *Gate) Admit(ctx context.Context, raw []byte) error {
	var request events.TradeRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return g.reject(ctx, raw, fmt.Errorf("%w: failed to decode request: %v", model.ErrMalformedSubmission, err))
	}
	if request.Sig == nil {
		return g.reject(ctx, raw, fmt.Errorf("%w: sig not received", model.ErrMalformedSubmission))
	}
	if len(request.Payload) == 0 || bytes.Equal(request.Payload, []byte("null")) {
		return g.reject(ctx, raw, fmt.Errorf("%w: payload not received", model.ErrMalformedSubmission))
	}

	var payload tradePayload
	if err := json.Unmarshal(request.Payload, &payload); err != nil {
		return g.reject(ctx, raw, fmt.Errorf("%w: failed to decode payload: %v", model.ErrMalformedSubmission, err))
	}
	if err := g.checkPayload(&payload); err != nil {
		return g.reject(ctx, raw, err)
	}

	message, err := g.registry.Verify(request.Payload, *request.Sig, *payload.SenderPK, *payload.Platform)
	if err != nil {
		if message == nil {
			return g.reject(ctx, raw, fmt.Errorf("%w: %v", model.ErrMalformedSubmission, err))
		}
		return g.reject(ctx, message, fmt.Errorf("%w: %v", model.ErrSignatureInvalid, err))
	}

	order, err := model.NewOrder(model.Submission{
		SenderPK:     *payload.SenderPK,
		ReceiverPK:   *payload.ReceiverPK,
		BuyCurrency:  *payload.BuyCurrency,
		SellCurrency: *payload.SellCurrency,
		BuyAmount:    *payload.BuyAmount,
		SellAmount:   *payload.SellAmount,
		Signature:    *request.Sig,
	})
	if err != nil {
		g.logger.Error("Failed to build admitted order", zap.Error(err))
		return err
	}

	if err := g.submitter.Submit(ctx, order); err != nil {
		g.logger.Error("Failed to submit order",
			zap.String("sender_pk", order.SenderPK),
			zap.String("pair", order.PairKey()),
			zap.Error(err))
		return fmt.Errorf("failed to submit order: %w", err)
	}

	g.logger.Info("Order admitted",
		zap.Int64("order_id", order.ID),
		zap.String("platform", *payload.Platform),
		zap.String("buy_currency", order.BuyCurrency),
		zap.String("sell_currency", order.SellCurrency),
		zap.Bool("filled", !order.IsResting()))
	return nil
}

func (g *Gate) checkPayload(p *tradePayload) error {
	required := []struct {
		name  string
		value *string
	}{
		{"sender_pk", p.SenderPK},
		{"receiver_pk", p.ReceiverPK},
		{"buy_currency", p.BuyCurrency},
		{"sell_currency", p.SellCurrency},
		{"platform", p.Platform},
	}
	for _, field := range required {
		if field.value == nil || *field.value == "" {
			return fmt.Errorf("%w: %s not received", model.ErrMalformedSubmission, field.name)
		}
	}

	if p.BuyAmount == nil || !p.BuyAmount.IsPositive() {
		return fmt.Errorf("%w: buy_amount must be a positive number", model.ErrMalformedSubmission)
	}
	if p.SellAmount == nil || !p.SellAmount.IsPositive() {
		return fmt.Errorf("%w: sell_amount must be a positive number", model.ErrMalformedSubmission)
	}
	if *p.BuyCurrency == *p.SellCurrency {
		return fmt.Errorf("%w: buy and sell currency are both %s", model.ErrMalformedSubmission, *p.BuyCurrency)
	}
	if !g.registry.IsSupported(*p.Platform) {
		return fmt.Errorf("%w: unsupported platform %q", model.ErrMalformedSubmission, *p.Platform)
	}
	return nil
}

// reject records the offending submission in the audit log and returns cause.
func (g *Gate) reject(ctx context.Context, record []byte, cause error) error {
	g.logger.Warn("Submission rejected", zap.Error(cause))

	if err := g.audit.Record(ctx, bytes.ToValidUTF8(record, []byte("�"))); err != nil {
		g.logger.Error("Failed to record rejected submission", zap.Error(err))
	}
	return cause
}
