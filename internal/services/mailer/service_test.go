package mailer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hearth/internal/config"
	"hearth/internal/services/mailer"
)

func TestNewServiceReturnsNoopWhenEndpointMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Email.Endpoint = ""
	svc := mailer.NewService(&cfg)
	if svc.Enabled() {
		t.Fatal("expected disabled service without endpoint")
	}
	err := svc.Send(context.Background(), mailer.Message{To: "buyer@example.com", Subject: "Report"})
	if err != nil {
		t.Fatalf("expected noop to return nil, got %v", err)
	}
}

func TestHTTPServiceSendsMessage(t *testing.T) {
	var received mailer.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer key123" {
			t.Fatalf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Email.Endpoint = server.URL
	cfg.Email.APIKey = "key123"
	cfg.Email.From = "reports@hearth.example"
	svc := mailer.NewService(&cfg)
	if !svc.Enabled() {
		t.Fatal("expected enabled service")
	}

	err := svc.Send(context.Background(), mailer.Message{
		To:       "buyer@example.com",
		Subject:  "Your visit report",
		HTMLBody: "<h1>Report</h1>",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if received.To != "buyer@example.com" {
		t.Fatalf("to = %q", received.To)
	}
	if received.From != "reports@hearth.example" {
		t.Fatalf("from = %q, want configured default applied", received.From)
	}
}

func TestHTTPServiceSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Email.Endpoint = server.URL
	svc := mailer.NewService(&cfg)

	err := svc.Send(context.Background(), mailer.Message{To: "buyer@example.com", Subject: "Report"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSendValidatesRecipient(t *testing.T) {
	cfg := config.Default()
	cfg.Email.Endpoint = "http://127.0.0.1:1"
	svc := mailer.NewService(&cfg)

	if err := svc.Send(context.Background(), mailer.Message{Subject: "Report"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}
