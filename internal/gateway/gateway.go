// Package gateway talks to the hosted payment gateway: checkout session
// creation and server-side validation of callbacks.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"roadside-dispatch/pkg/utils"

	"github.com/goccy/go-json"
	circuit "github.com/rubyist/circuitbreaker"
	"go.uber.org/zap"
)

// ErrUnavailable wraps transport failures and an open breaker. Callers treat
// it as "try again later", never as a payment decision.
var ErrUnavailable = errors.New("payment gateway unavailable")

// SessionRequest is what a checkout session needs.
type SessionRequest struct {
	TransactionID string
	Amount        float64
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ProductName   string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string
}

type Session struct {
	GatewayURL string `json:"GatewayPageURL"`
	SessionKey string `json:"sessionkey"`
	Status     string `json:"status"`
	Reason     string `json:"failedreason"`
}

// Validation is the gateway's verdict on a val_id.
type Validation struct {
	Status        string `json:"status"`
	TransactionID string `json:"tran_id"`
	ValidationID  string `json:"val_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CardType      string `json:"card_type"`
}

// Valid reports whether the gateway accepted the payment.
func (v *Validation) Valid() bool {
	return IsValidStatus(v.Status)
}

// AmountValue parses the decimal amount string returned by the gateway.
func (v *Validation) AmountValue() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v.Amount), 64)
}

// IsValidStatus is true for the two statuses the gateway uses for a good payment.
func IsValidStatus(status string) bool {
	s := strings.ToUpper(strings.TrimSpace(status))
	return s == "VALID" || s == "VALIDATED"
}

type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	Validate(ctx context.Context, validationID string) (*Validation, error)
}

type client struct {
	http *circuit.HTTPClient
	cfg  utils.GatewayConfig
	log  *zap.Logger
}

// New returns a gateway client whose calls go through a circuit breaker that
// trips after cfg.BreakerThreshold consecutive failures.
func New(cfg utils.GatewayConfig, log *zap.Logger) Gateway {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	cb := circuit.NewHTTPClient(cfg.Timeout, cfg.BreakerThreshold, httpClient)

	l := log.With(zap.String("client", "gateway"))
	cb.BreakerTripped = func() { l.Warn("Payment gateway breaker tripped") }
	cb.BreakerReset = func() { l.Info("Payment gateway breaker reset") }

	return &client{http: cb, cfg: cfg, log: l}
}

func (c *client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	form := url.Values{}
	form.Set("store_id", c.cfg.StoreID)
	form.Set("store_passwd", c.cfg.StorePassword)
	form.Set("total_amount", strconv.FormatFloat(req.Amount, 'f', 2, 64))
	form.Set("currency", req.Currency)
	form.Set("tran_id", req.TransactionID)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("ipn_url", req.IPNURL)
	form.Set("cus_name", req.CustomerName)
	form.Set("cus_email", req.CustomerEmail)
	form.Set("cus_phone", req.CustomerPhone)
	form.Set("product_name", req.ProductName)
	form.Set("product_category", "service")
	form.Set("product_profile", "non-physical-goods")
	form.Set("shipping_method", "NO")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SessionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var session Session
	if err := c.do(httpReq, &session); err != nil {
		return nil, err
	}

	if !strings.EqualFold(session.Status, "SUCCESS") || session.GatewayURL == "" {
		return nil, fmt.Errorf("gateway rejected session %s: %s", req.TransactionID, session.Reason)
	}

	return &session, nil
}

func (c *client) Validate(ctx context.Context, validationID string) (*Validation, error) {
	q := url.Values{}
	q.Set("val_id", validationID)
	q.Set("store_id", c.cfg.StoreID)
	q.Set("store_passwd", c.cfg.StorePassword)
	q.Set("format", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ValidationURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build validation request: %w", err)
	}

	var v Validation
	if err := c.do(httpReq, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

func (c *client) do(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("Payment gateway call failed", zap.String("url", req.URL.Path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, utils.Truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
