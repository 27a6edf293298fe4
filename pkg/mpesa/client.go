package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmlink/farmlink-backend/pkg/config"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	tokenRefreshMargin              = 60 * time.Second
	responseBodyLimit         int64 = 64 * 1024
	defaultHTTPTimeout              = 15 * time.Second
	defaultAccountRef               = "FarmLink"
	defaultTransactionDesc          = "Order payment"
	maxAccountReferenceLength       = 12
	maxTransactionDescLength        = 13
)

// TokenCache stores access tokens across requests and processes.
type TokenCache interface {
	GetCached(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	TokenKey(provider, scope string) string
}

// Client talks to the Daraja OAuth and STK push endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        config.MpesaConfig
	tokens     TokenCache
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at another host (tests, proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithTokenCache enables token reuse until shortly before expiry.
func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) {
		c.tokens = cache
	}
}

// WithClock overrides the time source used for push timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a client. Missing credentials are not an error here; they
// surface as CodeConfiguration on the first call that needs them.
func NewClient(cfg config.MpesaConfig, opts ...Option) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    BaseURLFor(cfg),
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// BaseURLFor resolves the API host from MPESA_BASE_URL or MPESA_ENV.
func BaseURLFor(cfg config.MpesaConfig) string {
	if override := strings.TrimSpace(cfg.BaseURL); override != "" {
		return strings.TrimRight(override, "/")
	}
	if cfg.Environment() == config.MpesaEnvProduction {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// CheckPushConfig fails with CodeConfiguration when any setting needed for a push is unset.
func (c *Client) CheckPushConfig() error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "M-Pesa client not configured")
	}
	if missing := c.cfg.MissingPushSettings(); len(missing) > 0 {
		return pkgerrors.Wrap(pkgerrors.CodeConfiguration,
			fmt.Errorf("missing %s", strings.Join(missing, ", ")),
			"M-Pesa configuration incomplete")
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken returns a cached token when available, otherwise requests a new one.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeConfiguration, "M-Pesa client not configured")
	}
	if missing := c.cfg.MissingCredentials(); len(missing) > 0 {
		return "", pkgerrors.Wrap(pkgerrors.CodeConfiguration,
			fmt.Errorf("missing %s", strings.Join(missing, ", ")),
			"M-Pesa credentials not configured")
	}

	cacheKey := ""
	if c.tokens != nil {
		cacheKey = c.tokens.TokenKey("mpesa", c.cfg.Environment()+":"+c.cfg.ConsumerKey)
		if token, ok, err := c.tokens.GetCached(ctx, cacheKey); err == nil && ok && token != "" {
			return token, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build token request")
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute token request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read token response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", upstreamError("token request failed", resp.StatusCode, body)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		return "", upstreamError("token response missing access_token", http.StatusBadGateway, body)
	}

	if c.tokens != nil {
		if ttl := tokenTTL(parsed.ExpiresIn); ttl > 0 {
			_ = c.tokens.Set(ctx, cacheKey, parsed.AccessToken, ttl)
		}
	}
	return parsed.AccessToken, nil
}

func tokenTTL(expiresIn string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(expiresIn))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds)*time.Second - tokenRefreshMargin
}

// PushRequest describes one STK push. Phone must already be normalized.
type PushRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	TransactionDesc  string
}

// PushResponse is the provider's synchronous acknowledgement.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// InitiatePush sends exactly one STK push; there is no retry.
func (c *Client) InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	if err := c.CheckPushConfig(); err != nil {
		return nil, err
	}
	if req.Phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone number is required")
	}
	amount := WholeShillings(req.Amount)
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(c.now())
	payload := pushPayload{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          Password(c.cfg.Shortcode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.transactionType(),
		Amount:            amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(defaultString(req.AccountReference, defaultAccountRef), maxAccountReferenceLength),
		TransactionDesc:   truncate(defaultString(req.TransactionDesc, defaultTransactionDesc), maxTransactionDescLength),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal push request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(encoded))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build push request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute push request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read push response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError("STK push rejected", resp.StatusCode, body)
	}

	var parsed PushResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, upstreamError("STK push response unreadable", http.StatusBadGateway, body)
	}
	if strings.TrimSpace(parsed.ResponseCode) != "0" || parsed.CheckoutRequestID == "" {
		return nil, upstreamError("STK push not accepted", http.StatusBadGateway, body)
	}
	return &parsed, nil
}

func (c *Client) transactionType() string {
	if t := strings.TrimSpace(c.cfg.TransactionType); t != "" {
		return t
	}
	return "CustomerPayBillOnline"
}

// WholeShillings rounds an amount up to the next whole shilling.
func WholeShillings(amount decimal.Decimal) int64 {
	return amount.Ceil().IntPart()
}

func upstreamError(message string, status int, body []byte) error {
	return pkgerrors.New(pkgerrors.CodeUpstream, message).
		WithHTTPStatus(status).
		WithDetails(decodeBody(body))
}

// decodeBody returns the provider body as JSON when it parses, otherwise as text.
func decodeBody(body []byte) any {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}
	return map[string]any{"body": strings.TrimSpace(string(body))}
}

func defaultString(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// truncate keeps at most limit characters and never splits a rune.
func truncate(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range value {
		if count == limit {
			return value[:i]
		}
		count++
	}
	return value
}
