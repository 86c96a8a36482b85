package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// GatewayStatus is the normalized state a gateway reports for a payment
type GatewayStatus string

const (
	GatewayStatusPending   GatewayStatus = "pending"
	GatewayStatusCompleted GatewayStatus = "completed"
	GatewayStatusFailed    GatewayStatus = "failed"
)

// GatewayInitiateParams describes a payment to open at the processor
type GatewayInitiateParams struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Payer         models.Payer
	ReturnURL     string
	Description   string
}

// GatewayInitiation is what the processor handed back for a new payment
type GatewayInitiation struct {
	Ref         string
	RedirectURL string
	ClientToken string
	Raw         models.JSONPayload
}

// GatewayVerifyParams carries everything known about a payment being verified.
// Stored is the payload persisted at initiation; Callback is what the client or
// webhook delivered, and may be empty.
type GatewayVerifyParams struct {
	Ref      string
	Stored   models.JSONPayload
	Callback models.JSONPayload
}

// GatewayVerification is the processor's view of a payment
type GatewayVerification struct {
	Status GatewayStatus
	Amount *decimal.Decimal
	Reason string
	Raw    models.JSONPayload
}

// GatewayRefund is the processor's answer to a refund request
type GatewayRefund struct {
	Reference string
	Status    string
	Raw       models.JSONPayload
}

// PaymentGateway adapts one payment processor
type PaymentGateway interface {
	Name() models.GatewayName
	Initiate(ctx context.Context, params GatewayInitiateParams) (*GatewayInitiation, error)
	Verify(ctx context.Context, params GatewayVerifyParams) (*GatewayVerification, error)
	Refund(ctx context.Context, ref string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error)
	// ParseWebhook authenticates a webhook delivery and returns the payment ref it concerns
	ParseWebhook(payload []byte, signature string) (string, error)
}

// GatewayRegistry resolves gateways by name
type GatewayRegistry struct {
	gateways       map[models.GatewayName]PaymentGateway
	defaultGateway models.GatewayName
}

// NewGatewayRegistry creates a registry; the first gateway becomes the default
// unless SetDefault is called
func NewGatewayRegistry(gateways ...PaymentGateway) *GatewayRegistry {
	r := &GatewayRegistry{gateways: make(map[models.GatewayName]PaymentGateway)}
	for _, gw := range gateways {
		r.Register(gw)
	}
	return r
}

// Register adds or replaces a gateway
func (r *GatewayRegistry) Register(gw PaymentGateway) {
	if r.defaultGateway == "" {
		r.defaultGateway = gw.Name()
	}
	r.gateways[gw.Name()] = gw
}

// SetDefault picks the gateway used when a request names none
func (r *GatewayRegistry) SetDefault(name models.GatewayName) error {
	if _, ok := r.gateways[name]; !ok {
		return fmt.Errorf("gateway %q is not registered", name)
	}
	r.defaultGateway = name
	return nil
}

// Get returns the named gateway, or the default for an empty name
func (r *GatewayRegistry) Get(name models.GatewayName) (PaymentGateway, error) {
	if name == "" {
		name = r.defaultGateway
	}
	gw, ok := r.gateways[name]
	if !ok {
		return nil, models.NewValidationError("gateway", fmt.Sprintf("unsupported payment gateway %q", name))
	}
	return gw, nil
}

// Names lists registered gateways in sorted order
func (r *GatewayRegistry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
