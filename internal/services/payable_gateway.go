package services

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/config"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

// PAYableEnvironmentURLs maps environment names to their IPG endpoint URLs
var PAYableEnvironmentURLs = map[string]string{
	"dev":        "https://payable-ipg-dev.web.app/ipg/dev",
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// PayableGateway integrates the PAYable IPG hosted payment page
type PayableGateway struct {
	config      config.PayableConfig
	logger      *logrus.Logger
	client      *http.Client
	endpointURL string
}

// payableInitRequest is the body sent to the IPG endpoint.
// NOTE: merchantToken is never sent, PAYable rejects it. It only feeds checkValue.
type payableInitRequest struct {
	MerchantKey     string `json:"merchantKey"`
	LogoURL         string `json:"logoUrl,omitempty"`
	ReturnURL       string `json:"returnUrl"`
	WebhookURL      string `json:"webhookUrl,omitempty"`
	StatusReturnURL string `json:"statusReturnUrl,omitempty"`

	PaymentType      int    `json:"paymentType"` // 1 = one-time
	InvoiceID        string `json:"invoiceId"`
	Amount           string `json:"amount"`
	CurrencyCode     string `json:"currencyCode"`
	OrderDescription string `json:"orderDescription,omitempty"`

	CustomerFirstName   string `json:"customerFirstName"`
	CustomerLastName    string `json:"customerLastName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerMobilePhone string `json:"customerMobilePhone"`

	BillingAddressStreet      string `json:"billingAddressStreet"`
	BillingAddressCity        string `json:"billingAddressCity"`
	BillingAddressCountry     string `json:"billingAddressCountry"`
	BillingAddressPostcodeZip string `json:"billingAddressPostcodeZip"`

	CheckValue string `json:"checkValue"`

	IsMobilePayment    int    `json:"isMobilePayment"`
	IntegrationType    string `json:"integrationType"` // Max 20 chars
	IntegrationVersion string `json:"integrationVersion"`
}

// payableInitResponse is stored as the transaction's gateway payload; the
// statusIndicator in it is needed for every later status check
type payableInitResponse struct {
	Status          string `json:"status"`
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
	PaymentPage     string `json:"paymentPage"`
	Message         string `json:"message,omitempty"`
}

type payableStatusRequest struct {
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
}

type payableStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"` // "pending", "success", "failed", "cancelled"
	Amount        string `json:"amount"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

// payableCallback is the webhook body, also forwarded by clients after checkout
type payableCallback struct {
	Status          string `json:"status"`
	UID             string `json:"uid"`
	InvoiceID       string `json:"invoiceId"`
	Amount          string `json:"amount"`
	CurrencyCode    string `json:"currencyCode"`
	PaymentStatus   string `json:"paymentStatus"` // "SUCCESS", "FAILED", "CANCELLED"
	TransactionID   string `json:"transactionId,omitempty"`
	StatusIndicator string `json:"statusIndicator"`
}

type payableRefundRequest struct {
	MerchantKey     string `json:"merchantKey"`
	UID             string `json:"uid"`
	Amount          string `json:"amount"`
	CurrencyCode    string `json:"currencyCode"`
	RefundReference string `json:"refundReference"`
	CheckValue      string `json:"checkValue"`
}

type payableRefundResponse struct {
	Status   string `json:"status"`
	RefundID string `json:"refundId"`
	Message  string `json:"message,omitempty"`
}

// NewPayableGateway creates a PAYable gateway for the configured environment
func NewPayableGateway(cfg config.PayableConfig, logger *logrus.Logger) *PayableGateway {
	endpointURL, ok := PAYableEnvironmentURLs[cfg.Environment]
	if !ok {
		endpointURL = PAYableEnvironmentURLs["sandbox"]
	}
	return &PayableGateway{
		config:      cfg,
		logger:      logger,
		client:      &http.Client{Timeout: 30 * time.Second},
		endpointURL: endpointURL,
	}
}

// Name implements PaymentGateway
func (g *PayableGateway) Name() models.GatewayName {
	return models.GatewayPayable
}

// IsConfigured returns true if merchant credentials are present
func (g *PayableGateway) IsConfigured() bool {
	return g.config.MerchantKey != "" && g.config.MerchantToken != ""
}

// GenerateCheckValue creates the SHA-512 checkValue for PAYable authentication
// Step 1: hash1 = SHA512(merchantToken) uppercase hex
// Step 2: hash2 = SHA512("merchantKey|invoiceId|amount|currencyCode|hash1") uppercase hex
func (g *PayableGateway) GenerateCheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(g.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		g.config.MerchantKey,
		invoiceID,
		amount,
		currencyCode,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// Initiate opens a hosted payment page for the transaction
func (g *PayableGateway) Initiate(ctx context.Context, params GatewayInitiateParams) (*GatewayInitiation, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	invoiceID := payableInvoiceID(params.TransactionID.String())
	amount := params.Amount.StringFixed(2)
	checkValue := g.GenerateCheckValue(invoiceID, amount, params.Currency)

	firstName, lastName := splitName(params.Payer.Name)
	if lastName == "" {
		lastName = "." // PAYable requires last name
	}
	phone := params.Payer.Phone
	if phone == "" {
		phone = "0770000000" // required by PAYable
	}
	returnURL := params.ReturnURL
	if returnURL == "" {
		returnURL = g.config.ReturnURL
	}

	request := &payableInitRequest{
		MerchantKey:               g.config.MerchantKey,
		LogoURL:                   g.config.LogoURL,
		ReturnURL:                 returnURL,
		WebhookURL:                g.config.WebhookURL,
		StatusReturnURL:           g.endpointURL + "/status-view",
		PaymentType:               1,
		InvoiceID:                 invoiceID,
		Amount:                    amount,
		CurrencyCode:              params.Currency,
		OrderDescription:          params.Description,
		CustomerFirstName:         firstName,
		CustomerLastName:          lastName,
		CustomerEmail:             params.Payer.Email,
		CustomerMobilePhone:       phone,
		BillingAddressStreet:      "Sri Lanka",
		BillingAddressCity:        "Colombo",
		BillingAddressCountry:     "LK",
		BillingAddressPostcodeZip: "00000",
		CheckValue:                checkValue,
		IsMobilePayment:           0,
		IntegrationType:           "TourismBooking",
		IntegrationVersion:        "1.0.0",
	}

	g.logger.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"amount":     amount,
		"currency":   params.Currency,
		"endpoint":   g.endpointURL,
	}).Info("Initiating PAYable payment")

	body, err := g.post(ctx, g.endpointURL, request)
	if err != nil {
		return nil, err
	}

	var resp payableInitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		g.logger.WithField("body", string(body)).WithError(err).Error("Failed to parse PAYable response")
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// PAYable returns "PENDING" when the payment page is ready, or "success" in some cases
	if resp.Status != "success" && resp.Status != "PENDING" {
		errMsg := resp.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("status=%s", resp.Status)
		}
		return nil, fmt.Errorf("payment initiation failed: %s", errMsg)
	}
	if resp.PaymentPage == "" {
		return nil, fmt.Errorf("payment initiation failed: no payment page URL returned")
	}

	g.logger.WithFields(logrus.Fields{
		"uid":          resp.UID,
		"payment_page": resp.PaymentPage,
	}).Info("PAYable payment initiated successfully")

	return &GatewayInitiation{
		Ref:         resp.UID,
		RedirectURL: resp.PaymentPage,
		Raw:         models.JSONPayload(body),
	}, nil
}

// Verify queries PAYable for the authoritative payment status. Callback data is
// only used to locate the statusIndicator, never trusted for the outcome.
func (g *PayableGateway) Verify(ctx context.Context, params GatewayVerifyParams) (*GatewayVerification, error) {
	indicator := ""
	if len(params.Callback) > 0 {
		var cb payableCallback
		if err := json.Unmarshal(params.Callback, &cb); err == nil {
			indicator = cb.StatusIndicator
		}
	}
	if indicator == "" && len(params.Stored) > 0 {
		var init payableInitResponse
		if err := json.Unmarshal(params.Stored, &init); err == nil {
			indicator = init.StatusIndicator
		}
	}
	if indicator == "" {
		return nil, fmt.Errorf("no status indicator available for %s", params.Ref)
	}

	statusURL := strings.Replace(g.endpointURL, "/ipg/", "/check-status/", 1)

	g.logger.WithFields(logrus.Fields{
		"uid":        params.Ref,
		"status_url": statusURL,
	}).Info("Checking PAYable payment status")

	body, err := g.post(ctx, statusURL, &payableStatusRequest{UID: params.Ref, StatusIndicator: indicator})
	if err != nil {
		return nil, err
	}

	var resp payableStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &GatewayVerification{Raw: models.JSONPayload(body)}
	switch strings.ToUpper(resp.PaymentStatus) {
	case "SUCCESS":
		result.Status = GatewayStatusCompleted
	case "FAILED", "CANCELLED":
		result.Status = GatewayStatusFailed
		result.Reason = strings.ToLower(resp.PaymentStatus)
		if resp.Message != "" {
			result.Reason = resp.Message
		}
	default:
		result.Status = GatewayStatusPending
	}

	if resp.Amount != "" {
		amount, err := decimal.NewFromString(resp.Amount)
		if err != nil {
			return nil, fmt.Errorf("gateway returned invalid amount %q: %w", resp.Amount, err)
		}
		result.Amount = &amount
	}

	return result, nil
}

// Refund asks PAYable to return funds for a completed payment
func (g *PayableGateway) Refund(ctx context.Context, ref string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	amountStr := amount.StringFixed(2)
	refundURL := strings.Replace(g.endpointURL, "/ipg/", "/refund/", 1)
	request := &payableRefundRequest{
		MerchantKey:     g.config.MerchantKey,
		UID:             ref,
		Amount:          amountStr,
		CurrencyCode:    currency,
		RefundReference: idempotencyKey,
		CheckValue:      g.GenerateCheckValue(ref, amountStr, currency),
	}

	g.logger.WithFields(logrus.Fields{
		"uid":    ref,
		"amount": amountStr,
	}).Info("Requesting PAYable refund")

	body, err := g.post(ctx, refundURL, request)
	if err != nil {
		return nil, err
	}

	var resp payableRefundResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !strings.EqualFold(resp.Status, "success") {
		return nil, fmt.Errorf("refund rejected: %s", resp.Message)
	}

	reference := resp.RefundID
	if reference == "" {
		reference = idempotencyKey
	}
	return &GatewayRefund{
		Reference: reference,
		Status:    resp.Status,
		Raw:       models.JSONPayload(body),
	}, nil
}

// ParseWebhook extracts the payment uid from a PAYable notification. PAYable
// does not sign webhooks; the status is always re-queried in Verify.
func (g *PayableGateway) ParseWebhook(payload []byte, signature string) (string, error) {
	var cb payableCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return "", fmt.Errorf("invalid webhook payload: %w", err)
	}
	if cb.UID == "" || cb.InvoiceID == "" {
		return "", fmt.Errorf("webhook missing required fields")
	}

	g.logger.WithFields(logrus.Fields{
		"uid":            cb.UID,
		"invoice_id":     cb.InvoiceID,
		"payment_status": cb.PaymentStatus,
		"amount":         cb.Amount,
	}).Info("PAYable webhook received")

	return cb.UID, nil
}

func (g *PayableGateway) post(ctx context.Context, url string, payload interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).Error("Failed to call PAYable endpoint")
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"url":         url,
	}).Debug("PAYable response received")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// payableInvoiceID strips dashes; PAYable caps invoice ids at 32 chars
func payableInvoiceID(transactionID string) string {
	return strings.ReplaceAll(transactionID, "-", "")
}

// splitName splits a full name into first and last name
func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "Customer", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
