package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kassa/internal/core"
	"kassa/internal/services"
	"kassa/internal/store/memory"
	"kassa/internal/telegram"
)

const testSecret = "hook-secret"

func newTestServer(t *testing.T, botAPI string) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New(core.ChatLedger{GeneralCents: 0, FoodCents: 2000000})
	bindings := map[int64]core.Category{
		33: core.CategoryFood,
		80: core.CategoryTopup,
	}
	svc := services.NewLedgerService(core.NewEngine(core.NewRuleTable(true)), bindings, st, nil)

	var notifier *telegram.Notifier
	if botAPI != "" {
		notifier = telegram.NewNotifier(telegram.NewClient("t", botAPI), st, 45)
	}
	s := NewServer(":0", svc, notifier, testSecret, 45)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, st
}

func postUpdate(t *testing.T, h http.Handler, secret string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(body)))
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func updateJSON(chatID, threadID int64, text string) string {
	b, _ := json.Marshal(map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"message_id":        10,
			"message_thread_id": threadID,
			"text":              text,
			"chat":              map[string]any{"id": chatID},
		},
	})
	return string(b)
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := postUpdate(t, s.Handler, "wrong", updateJSON(1, 33, "100"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookAppliesEntry(t *testing.T) {
	s, st := newTestServer(t, "")
	rec := postUpdate(t, s.Handler, testSecret, updateJSON(1, 33, "453.20 lunch"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	l, err := st.Ledger(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if l.FoodCents != 1954680 {
		t.Fatalf("food = %d, want 1954680", l.FoodCents)
	}
}

func TestWebhookIgnoresChatter(t *testing.T) {
	s, st := newTestServer(t, "")
	for _, text := range []string{"see you at noon", "0", "100 in unbound topic"} {
		threadID := int64(33)
		if strings.Contains(text, "unbound") {
			threadID = 999
		}
		rec := postUpdate(t, s.Handler, testSecret, updateJSON(1, threadID, text))
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d, want 200", text, rec.Code)
		}
	}

	l, _ := st.Ledger(context.Background(), 1)
	if l.GeneralCents != 0 || l.FoodCents != 2000000 {
		t.Fatalf("ledger changed by ignored input: %+v", l)
	}
}

func TestWebhookSetTotalCommand(t *testing.T) {
	var texts []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if text, ok := payload["text"].(string); ok {
			texts = append(texts, text)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": int64(len(texts))},
		})
	}))
	defer api.Close()

	s, st := newTestServer(t, api.URL)

	// Outside the balance topic the command is ignored.
	postUpdate(t, s.Handler, testSecret, updateJSON(1, 33, "/settotal 20000"))
	l, _ := st.Ledger(context.Background(), 1)
	if l.GeneralCents != 0 {
		t.Fatalf("settotal applied outside balance topic: %d", l.GeneralCents)
	}

	rec := postUpdate(t, s.Handler, testSecret, updateJSON(1, 45, "/settotal 20000"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	l, _ = st.Ledger(context.Background(), 1)
	if l.GeneralCents != 2000000 {
		t.Fatalf("general = %d, want 2000000", l.GeneralCents)
	}
	if len(texts) == 0 || !strings.Contains(texts[len(texts)-1], "20 000.00") {
		t.Fatalf("no balance message sent: %v", texts)
	}
}

func TestWebhookOverridesDisabledWithoutBalanceTopic(t *testing.T) {
	st := memory.New(core.ChatLedger{GeneralCents: 0, FoodCents: 2000000})
	bindings := map[int64]core.Category{33: core.CategoryFood}
	svc := services.NewLedgerService(core.NewEngine(core.NewRuleTable(true)), bindings, st, nil)
	s := NewServer(":0", svc, nil, testSecret, 0)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	// With no balance topic configured, a command from a plain message
	// (thread id 0) must not execute.
	for _, threadID := range []int64{0, 33} {
		rec := postUpdate(t, s.Handler, testSecret, updateJSON(1, threadID, "/settotal 99999"))
		if rec.Code != http.StatusOK {
			t.Fatalf("thread %d: status = %d", threadID, rec.Code)
		}
	}
	l, _ := st.Ledger(context.Background(), 1)
	if l.GeneralCents != 0 {
		t.Fatalf("settotal applied without a configured balance topic: %d", l.GeneralCents)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")

	// Seed via webhook, then read through the cached endpoint.
	postUpdate(t, s.Handler, testSecret, updateJSON(7, 80, "+500 salary"))

	req := httptest.NewRequest(http.MethodGet, "/balance?chat_id=7", nil)
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var payload balancePayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.GeneralCents != 50000 || payload.General != "500.00" {
		t.Fatalf("payload = %+v", payload)
	}

	// A later write invalidates the cached value.
	postUpdate(t, s.Handler, testSecret, updateJSON(7, 80, "+100"))
	rec = httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance?chat_id=7", nil))
	json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.GeneralCents != 60000 {
		t.Fatalf("stale balance after write: %+v", payload)
	}

	rec = httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance?chat_id=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad chat_id: status = %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
	}
}
