package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/config"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe expresses these currencies without a minor unit
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// StripeGateway integrates Stripe PaymentIntents
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
	logger        *logrus.Logger
}

// NewStripeGateway creates a Stripe gateway
func NewStripeGateway(cfg config.StripeConfig, logger *logrus.Logger) *StripeGateway {
	return &StripeGateway{
		client:        stripe.NewClient(cfg.SecretKey),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// Name implements PaymentGateway
func (g *StripeGateway) Name() models.GatewayName {
	return models.GatewayStripe
}

// Initiate creates a PaymentIntent; the client confirms it with the returned secret
func (g *StripeGateway) Initiate(ctx context.Context, params GatewayInitiateParams) (*GatewayInitiation, error) {
	minor, err := toMinorUnits(params.Amount, params.Currency)
	if err != nil {
		return nil, err
	}

	piParams := &stripe.PaymentIntentCreateParams{
		Amount:       stripe.Int64(minor),
		Currency:     stripe.String(strings.ToLower(params.Currency)),
		Description:  stripe.String(params.Description),
		ReceiptEmail: stripe.String(params.Payer.Email),
		Metadata: map[string]string{
			"transaction_id": params.TransactionID.String(),
		},
	}
	piParams.SetIdempotencyKey("initiate-" + params.TransactionID.String())

	pi, err := g.client.V1PaymentIntents.Create(ctx, piParams)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(pi)
	g.logger.WithFields(logrus.Fields{
		"payment_intent": pi.ID,
		"transaction_id": params.TransactionID,
		"amount":         minor,
	}).Info("Stripe payment intent created")

	return &GatewayInitiation{
		Ref:         pi.ID,
		ClientToken: pi.ClientSecret,
		Raw:         models.JSONPayload(raw),
	}, nil
}

// Verify retrieves the PaymentIntent and maps its status
func (g *StripeGateway) Verify(ctx context.Context, params GatewayVerifyParams) (*GatewayVerification, error) {
	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, params.Ref, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(pi)
	result := &GatewayVerification{
		Status: mapIntentStatus(pi.Status),
		Raw:    models.JSONPayload(raw),
	}
	if result.Status == GatewayStatusCompleted {
		amount := fromMinorUnits(pi.AmountReceived, string(pi.Currency))
		result.Amount = &amount
	}
	if result.Status == GatewayStatusFailed {
		result.Reason = "payment intent canceled"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			result.Reason = pi.LastPaymentError.Msg
		}
	}
	return result, nil
}

// Refund refunds part or all of a PaymentIntent
func (g *StripeGateway) Refund(ctx context.Context, ref string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error) {
	minor, err := toMinorUnits(amount, currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(ref),
		Amount:        stripe.Int64(minor),
	}
	params.SetIdempotencyKey("refund-" + idempotencyKey)

	refund, err := g.client.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return nil, fmt.Errorf("refund %s ended %s", refund.ID, refund.Status)
	}

	raw, _ := json.Marshal(refund)
	return &GatewayRefund{
		Reference: refund.ID,
		Status:    string(refund.Status),
		Raw:       models.JSONPayload(raw),
	}, nil
}

// ParseWebhook checks the Stripe-Signature header and returns the PaymentIntent id
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (string, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", fmt.Errorf("invalid webhook signature: %w", err)
	}

	if !strings.HasPrefix(string(event.Type), "payment_intent.") {
		return "", fmt.Errorf("unsupported webhook event %s", event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", fmt.Errorf("invalid payment intent in webhook: %w", err)
	}
	if pi.ID == "" {
		return "", fmt.Errorf("webhook missing payment intent id")
	}

	g.logger.WithFields(logrus.Fields{
		"event_id":       event.ID,
		"event_type":     event.Type,
		"payment_intent": pi.ID,
	}).Info("Stripe webhook received")

	return pi.ID, nil
}

func mapIntentStatus(status stripe.PaymentIntentStatus) GatewayStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return GatewayStatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return GatewayStatusFailed
	default:
		return GatewayStatusPending
	}
}

func toMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	exp := int32(2)
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		exp = 0
	}
	shifted := amount.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, models.NewValidationError("amount", fmt.Sprintf("too many decimal places for %s", currency))
	}
	return shifted.IntPart(), nil
}

func fromMinorUnits(minor int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(minor)
	}
	return decimal.New(minor, -2)
}
