package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
	"github.com/ManuelReschke/PayGuard/internal/pkg/logger"
	"github.com/ManuelReschke/PayGuard/internal/pkg/metrics"
)

const (
	paypalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	paypalLiveBaseURL    = "https://api-m.paypal.com"

	defaultPayPalTimeout = 15 * time.Second
	defaultPayPalRPS     = 10

	maxResponseBytes = 2 << 20
)

// HTTPError is a non-2xx gateway response.
type HTTPError struct {
	Operation string
	Status    int
	Body      string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("paypal %s failed: status=%d body=%s", e.Operation, e.Status, e.Body)
}

// Retryable reports whether the failure may succeed on a second attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// PayPalClient talks to the PayPal REST API (Orders v2 and webhook
// verification).
type PayPalClient struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	BrandName    string
	ReturnURL    string
	CancelURL    string
	Timeout      time.Duration

	HTTPClient *http.Client
	limiter    *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewPayPalClientFromEnv() *PayPalClient {
	baseURL := paypalSandboxBaseURL
	if strings.EqualFold(env.GetEnv("PAYPAL_ENV", "sandbox"), "live") {
		baseURL = paypalLiveBaseURL
	}
	publicURL := strings.TrimRight(env.GetEnv("APP_PUBLIC_URL", ""), "/")

	c := NewPayPalClient(
		strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		strings.TrimSpace(env.GetEnv("PAYPAL_BASE_URL", baseURL)),
	)
	c.WebhookID = strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", ""))
	c.BrandName = env.GetEnv("PAYPAL_BRAND_NAME", "PayGuard")
	c.ReturnURL = publicURL + "/payment/success"
	c.CancelURL = publicURL + "/payment/cancel"
	c.Timeout = env.GetEnvDuration("PAYPAL_TIMEOUT", defaultPayPalTimeout)
	rps := env.GetEnvInt("PAYPAL_RPS", defaultPayPalRPS)
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return c
}

func NewPayPalClient(clientID, clientSecret, baseURL string) *PayPalClient {
	return &PayPalClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Timeout:      defaultPayPalTimeout,
		HTTPClient:   &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(defaultPayPalRPS), defaultPayPalRPS),
		now:          time.Now,
	}
}

func (c *PayPalClient) Name() string { return "paypal" }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalItem struct {
	Name       string       `json:"name"`
	UnitAmount paypalAmount `json:"unit_amount"`
	Quantity   string       `json:"quantity"`
}

type paypalOrderAmount struct {
	paypalAmount
	Breakdown struct {
		ItemTotal paypalAmount `json:"item_total"`
	} `json:"breakdown"`
}

type paypalPurchaseUnit struct {
	Amount   paypalOrderAmount `json:"amount"`
	Items    []paypalItem      `json:"items"`
	CustomID string            `json:"custom_id"`
}

type paypalApplicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	LandingPage        string `json:"landing_page"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
}

type paypalCreateOrder struct {
	Intent             string                   `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit     `json:"purchase_units"`
	ApplicationContext paypalApplicationContext `json:"application_context"`
}

// CreateOrder opens a CAPTURE-intent order. The request id makes retries safe.
func (c *PayPalClient) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if req.RequestID == "" {
		return nil, errors.New("paypal create order: request id is required")
	}

	pu := paypalPurchaseUnit{CustomID: req.UserID}
	pu.Amount.paypalAmount = paypalAmount{CurrencyCode: req.Total.Currency, Value: req.Total.Amount}
	pu.Amount.Breakdown.ItemTotal = pu.Amount.paypalAmount
	for _, it := range req.Items {
		pu.Items = append(pu.Items, paypalItem{
			Name:       it.Name,
			UnitAmount: paypalAmount{CurrencyCode: it.Price.Currency, Value: it.Price.Amount},
			Quantity:   strconv.Itoa(it.Quantity),
		})
	}
	body := paypalCreateOrder{
		Intent:        "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{pu},
		ApplicationContext: paypalApplicationContext{
			BrandName:          c.BrandName,
			LandingPage:        "NO_PREFERENCE",
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
			ReturnURL:          c.ReturnURL,
			CancelURL:          c.CancelURL,
		},
	}

	raw, err := c.do(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", body, req.RequestID, true)
	if err != nil {
		return nil, err
	}
	var out GatewayOrder
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("paypal create order: decode: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("paypal create order: empty order id")
	}
	return &out, nil
}

// CaptureOrder captures an approved order. It is retried only when a request
// id is supplied.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID, requestID string) (*CaptureResponse, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	raw, err := c.do(ctx, "capture_order", http.MethodPost, path, struct{}{}, requestID, requestID != "")
	if err != nil {
		return nil, err
	}
	var out CaptureResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("paypal capture: decode: %w", err)
	}
	out.Raw = raw
	return &out, nil
}

// VerifyWebhookSignature asks PayPal whether the transmission is authentic.
// Missing headers or an unconfigured webhook id never verify.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, h SignatureHeaders, body []byte) (bool, error) {
	if c.WebhookID == "" {
		return false, errors.New("PAYPAL_WEBHOOK_ID is not configured")
	}
	if !h.Complete() {
		return false, nil
	}
	if !json.Valid(body) {
		return false, nil
	}

	req := map[string]any{
		"auth_algo":         h.AuthAlgo,
		"cert_url":          h.CertURL,
		"transmission_id":   h.TransmissionID,
		"transmission_sig":  h.TransmissionSig,
		"transmission_time": h.TransmissionTime,
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	raw, err := c.do(ctx, "verify_webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", req, "", true)
	if err != nil {
		return false, err
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("paypal verify webhook: decode: %w", err)
	}
	return out.VerificationStatus == "SUCCESS", nil
}

// do performs one API call with pacing, a per-attempt timeout and at most one
// retry for idempotent calls.
func (c *PayPalClient) do(ctx context.Context, op, method, path string, payload any, requestID string, idempotent bool) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if idempotent {
		attempts = 2
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := c.send(ctx, op, method, path, body, requestID)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var httpErr *HTTPError
		retryable := !errors.As(err, &httpErr) || httpErr.Retryable()
		if ctx.Err() != nil || !retryable || attempt == attempts {
			break
		}
		logger.Warn(ctx, "paypal request failed, retrying", zap.String("operation", op), zap.Error(err))
	}
	return nil, lastErr
}

func (c *PayPalClient) send(ctx context.Context, op, method, path string, body []byte, requestID string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	token, err := c.token(ctx)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "auth_error").Inc()
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "network_error").Inc()
		return nil, fmt.Errorf("paypal %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode == http.StatusUnauthorized {
		c.clearToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.GatewayRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
		return nil, &HTTPError{Operation: op, Status: resp.StatusCode, Body: truncateBody(raw)}
	}
	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	return raw, nil
}

// token returns a cached OAuth access token, fetching a new one via client
// credentials when it is missing or about to expire. The lock is not held
// during the HTTP exchange.
func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && c.clock().Before(c.tokenExpiry) {
		t := c.accessToken
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	if c.ClientID == "" || c.ClientSecret == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{Operation: "token", Status: resp.StatusCode, Body: truncateBody(raw)}
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("paypal token: decode: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("paypal token: empty access_token")
	}

	ttl := time.Duration(out.ExpiresIn)*time.Second - time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.tokenExpiry = c.clock().Add(ttl)
	c.mu.Unlock()
	return out.AccessToken, nil
}

func (c *PayPalClient) clearToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

func (c *PayPalClient) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
