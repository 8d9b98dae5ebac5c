// Package gateway предоставляет клиент внешнего платёжного шлюза.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrUnavailable возвращается при таймауте или сетевой ошибке шлюза.
// Заказ в этом случае остаётся в прежнем статусе и никогда не считается
// оплаченным молча.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	secret     []byte
	httpClient *retryablehttp.Client
}

// Session — платёжная сессия, созданная шлюзом для заказа.
type Session struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// PaymentStatus описывает состояние платежа по одному заказу.
type PaymentStatus struct {
	OrderRef    string `json:"order_ref"`
	Status      string `json:"status"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
}

// Статусы платежа, возвращаемые шлюзом.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// NewClient создаёт клиент шлюза по указанному адресу и общему секрету подписи.
func NewClient(baseURL, secret string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil
	// После исчерпания ретраев нужен сам ответ (429 с Retry-After), а не
	// обёрнутая ошибка "giving up".
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     []byte(secret),
		httpClient: rc,
	}
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

type createSessionRequest struct {
	OrderRef    string `json:"order_ref"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// CreateSession запрашивает у шлюза платёжную сессию для заказа.
func (c *Client) CreateSession(ctx context.Context, orderRef string, amountCents int64, currency string) (*Session, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	body, err := json.Marshal(createSessionRequest{
		OrderRef:    orderRef,
		AmountCents: amountCents,
		Currency:    currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/sessions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if s.Token == "" {
		return nil, fmt.Errorf("%w: empty session token", ErrUnavailable)
	}

	return &s, nil
}

// GetPaymentStatus запрашивает состояние платежа по ссылке заказа.
// При 429 возвращает рекомендованную паузу из заголовка Retry-After,
// при 204 платёж ещё не зарегистрирован шлюзом.
func (c *Client) GetPaymentStatus(ctx context.Context, orderRef string) (*PaymentStatus, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("gateway client not configured")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/payments/"+orderRef), nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var result PaymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &result, resp.StatusCode, 0, nil
}

// Sign подписывает параметры платёжного уведомления общим секретом.
func (c *Client) Sign(orderRef, status string, amountCents int64) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%s:%d", orderRef, status, amountCents)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись асинхронного уведомления шлюза.
// Уведомление с неверной подписью не заслуживает доверия и отбрасывается.
func (c *Client) VerifySignature(orderRef, status string, amountCents int64, signature string) bool {
	expected := c.Sign(orderRef, status, amountCents)
	return hmac.Equal([]byte(expected), []byte(signature))
}
