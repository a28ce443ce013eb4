package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const paypalTokenKey = "paypal:access_token"

// PayPalCapture is the subset of the orders capture response we act on.
type PayPalCapture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Name          string `json:"name"`
	Message       string `json:"message"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`

	Raw json.RawMessage `json:"-"`
}

// CaptureID prefers the id of the first capture and falls back to the order id.
func (c *PayPalCapture) CaptureID() string {
	for _, pu := range c.PurchaseUnits {
		for _, cp := range pu.Payments.Captures {
			if cp.ID != "" {
				return cp.ID
			}
		}
	}
	return c.ID
}

// CapturedAmount returns the value and currency of the first capture.
func (c *PayPalCapture) CapturedAmount() (value, currency string, ok bool) {
	for _, pu := range c.PurchaseUnits {
		for _, cp := range pu.Payments.Captures {
			return cp.Amount.Value, cp.Amount.CurrencyCode, true
		}
	}
	return "", "", false
}

// PaymentGateway captures approved checkout orders.
type PaymentGateway interface {
	CaptureOrder(ctx context.Context, orderID string) (*PayPalCapture, error)
}

type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	redis        *redis.Client
}

// NewPayPalClient builds a client for the PayPal REST API. redisClient may be
// nil, in which case an access token is requested for every capture.
func NewPayPalClient(baseURL, clientID, clientSecret string, redisClient *redis.Client) *PayPalClient {
	return &PayPalClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		redis:        redisClient,
	}
}

type paypalToken struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	if c.redis != nil {
		token, err := c.redis.Get(ctx, paypalTokenKey).Result()
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("failed to read cached PayPal token")
		}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request: %w", err)
	}
	defer resp.Body.Close()

	var tok paypalToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("paypal token response: %w", err)
	}
	if tok.Error != "" || tok.AccessToken == "" {
		return "", fmt.Errorf("paypal token: %s (%s)", tok.Error, tok.ErrorDescription)
	}

	if c.redis != nil && tok.ExpiresIn > 120 {
		ttl := time.Duration(tok.ExpiresIn-60) * time.Second
		if err := c.redis.Set(ctx, paypalTokenKey, tok.AccessToken, ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("failed to cache PayPal token")
		}
	}
	return tok.AccessToken, nil
}

// CaptureOrder captures an approved order. A response PayPal rejected is
// returned without error so the caller can record it; its Status then
// carries the PayPal error name.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*PayPalCapture, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal capture request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("paypal capture response: %w", err)
	}

	capture := &PayPalCapture{}
	if err := json.Unmarshal(body, capture); err != nil {
		return nil, fmt.Errorf("paypal capture response: %w", err)
	}
	capture.Raw = body

	if resp.StatusCode == http.StatusUnauthorized && c.redis != nil {
		c.redis.Del(ctx, paypalTokenKey)
	}
	if capture.Status == "" {
		capture.Status = capture.Name
	}
	if capture.Status == "" {
		capture.Status = resp.Status
	}

	log.Info().
		Str("order_id", orderID).
		Int("http_status", resp.StatusCode).
		Str("capture_status", capture.Status).
		Msg("paypal capture response")
	return capture, nil
}
