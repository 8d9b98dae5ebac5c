package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateSession_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/sessions" {
			t.Fatalf("path = %s, want /api/sessions", r.URL.Path)
		}

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.OrderRef != "ORD-1001" || req.AmountCents != 1107000 || req.Currency != "EUR" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Session{
			Token:       "tok-abc",
			RedirectURL: "https://pay.example.com/tok-abc",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := client.CreateSession(ctx, "ORD-1001", 1107000, "EUR")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if s.Token != "tok-abc" || s.RedirectURL != "https://pay.example.com/tok-abc" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestCreateSession_GatewayDown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret")
	client.httpClient.RetryMax = 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.CreateSession(ctx, "ORD-1001", 100, "EUR")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestGetPaymentStatus_OK(t *testing.T) {
	amount := int64(5000)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/payments/ORD-7" {
			t.Fatalf("path = %s, want /api/payments/ORD-7", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(PaymentStatus{
			OrderRef:    "ORD-7",
			Status:      StatusConfirmed,
			AmountCents: &amount,
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetPaymentStatus(ctx, "ORD-7")
	if err != nil {
		t.Fatalf("GetPaymentStatus error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if res == nil || res.Status != StatusConfirmed || res.AmountCents == nil || *res.AmountCents != 5000 {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestGetPaymentStatus_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret")
	client.httpClient.RetryMax = 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetPaymentStatus(ctx, "ORD-7")
	if err != nil {
		t.Fatalf("GetPaymentStatus error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 429, got %+v", res)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestGetPaymentStatus_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, _, err := client.GetPaymentStatus(ctx, "ORD-7")
	if err != nil {
		t.Fatalf("GetPaymentStatus error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 204, got %+v", res)
	}
	if code != http.StatusNoContent {
		t.Fatalf("status code = %d, want %d", code, http.StatusNoContent)
	}
}

func TestVerifySignature(t *testing.T) {
	client := NewClient("gateway:8080", "shared-secret")

	sig := client.Sign("ORD-1", StatusConfirmed, 1000)

	if !client.VerifySignature("ORD-1", StatusConfirmed, 1000, sig) {
		t.Fatalf("valid signature rejected")
	}
	if client.VerifySignature("ORD-1", StatusConfirmed, 1001, sig) {
		t.Fatalf("signature accepted for tampered amount")
	}
	if client.VerifySignature("ORD-2", StatusConfirmed, 1000, sig) {
		t.Fatalf("signature accepted for different order")
	}
	if client.VerifySignature("ORD-1", StatusFailed, 1000, sig) {
		t.Fatalf("signature accepted for different status")
	}

	other := NewClient("gateway:8080", "other-secret")
	if other.VerifySignature("ORD-1", StatusConfirmed, 1000, sig) {
		t.Fatalf("signature accepted with wrong secret")
	}
}
