package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTelegramServer(t *testing.T, ok bool, got *telegramMessage) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("path = %s, want /bottoken/sendMessage", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(telegramResponse{OK: ok, Description: "chat not found"})
	}))
}

func TestTelegramAlerter_Alert(t *testing.T) {
	var got telegramMessage
	srv := newTelegramServer(t, true, &got)
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "token", ChatID: "42", APIURL: srv.URL})

	err := alerter.Alert(context.Background(), SeverityCritical, "conflict <A>", "system", "A")
	if err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	if got.ChatID != "42" {
		t.Errorf("chat id = %s, want 42", got.ChatID)
	}
	if got.ParseMode != "HTML" {
		t.Errorf("parse mode = %s, want HTML", got.ParseMode)
	}
	if !strings.Contains(got.Text, "[CRITICAL]") {
		t.Errorf("text missing severity: %s", got.Text)
	}
	if !strings.Contains(got.Text, "conflict &lt;A&gt;") {
		t.Errorf("message should be escaped: %s", got.Text)
	}
	if !strings.Contains(got.Text, "system: A") {
		t.Errorf("text missing fields: %s", got.Text)
	}
}

func TestTelegramAlerter_APIError(t *testing.T) {
	var got telegramMessage
	srv := newTelegramServer(t, false, &got)
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "token", ChatID: "42", APIURL: srv.URL})

	err := alerter.Alert(context.Background(), SeverityInfo, "hello")
	if err == nil {
		t.Fatal("expected API error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v, want description", err)
	}
}

func TestTelegramAlerter_SessionSummary(t *testing.T) {
	var got telegramMessage
	srv := newTelegramServer(t, true, &got)
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "token", ChatID: "42", APIURL: srv.URL})
	summary := NewSessionSummary(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), []SystemSummary{
		NewSystemSummary("A", "ALIVE", 1, 2, 0, decimal.NewFromInt(-20), decimal.NewFromInt(2), "0,1,1", false),
	})

	if err := alerter.SendSessionSummary(context.Background(), summary); err != nil {
		t.Fatalf("SendSessionSummary() error = %v", err)
	}

	if !strings.Contains(got.Text, "📉") {
		t.Errorf("negative P/L should use the down emoji: %s", got.Text)
	}
	if !strings.Contains(got.Text, "A [ALIVE] TP 1 SL 2") {
		t.Errorf("summary missing system line: %s", got.Text)
	}
}

func TestNewTelegramAlerter_Defaults(t *testing.T) {
	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "token", ChatID: "42"})

	if alerter.cfg.APIURL != defaultTelegramAPI {
		t.Errorf("APIURL = %s, want %s", alerter.cfg.APIURL, defaultTelegramAPI)
	}
	if alerter.client.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", alerter.client.Timeout)
	}
	if alerter.Name() != "telegram" {
		t.Errorf("Name() = %s, want telegram", alerter.Name())
	}
}
