package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kassa/internal/core"
	"kassa/internal/services"
	"kassa/internal/telegram"
)

// Telegram update payload, reduced to the fields the bot reads.
type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	ThreadID  int64  `json:"message_thread_id"`
	Text      string `json:"text"`
	Chat      chat   `json:"chat"`
}

type chat struct {
	ID int64 `json:"id"`
}

// handleWebhook receives Telegram updates. It always answers 200 for
// well-formed updates so Telegram does not redeliver messages that failed
// on our side; failures are logged instead.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if s.webhookSecret != "" && r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != s.webhookSecret {
		slog.WarnContext(r.Context(), "Webhook secret mismatch", "url", r.URL.Path)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var upd update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&upd); err != nil {
		slog.WarnContext(r.Context(), "Webhook decode failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if upd.Message != nil && upd.Message.Text != "" {
		s.processMessage(r, upd.Message)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) processMessage(r *http.Request, msg *message) {
	ctx := r.Context()

	if strings.HasPrefix(msg.Text, "/") {
		s.handleCommand(r, msg)
		return
	}

	res, err := s.svc.HandleMessage(ctx, services.InboundEvent{
		ChatID:   msg.Chat.ID,
		ThreadID: msg.ThreadID,
		Text:     msg.Text,
	})
	if err != nil {
		if services.IsIgnorable(err) {
			slog.DebugContext(ctx, "Message ignored",
				"chat_id", msg.Chat.ID, "thread_id", msg.ThreadID, "reason", err)
			return
		}
		slog.ErrorContext(ctx, "Message handling failed",
			"chat_id", msg.Chat.ID, "thread_id", msg.ThreadID, "error", err)
		return
	}

	s.invalidateBalance(msg.Chat.ID)
	slog.InfoContext(ctx, "Webhook entry accepted",
		"chat_id", msg.Chat.ID,
		"category", res.Record.Category,
		"amount_cents", res.Record.AmountCents)
}

func (s *Server) handleCommand(r *http.Request, msg *message) {
	ctx := r.Context()
	fields := strings.Fields(msg.Text)
	cmd := strings.ToLower(fields[0])
	// Commands may arrive as /cmd@botname in groups.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		s.reply(ctx, msg, "Привет! Пиши сумму в нужную тему, я запишу её в баланс.")

	case "/where":
		s.reply(ctx, msg, "Чат: "+strconv.FormatInt(msg.Chat.ID, 10)+
			"\nID темы: "+strconv.FormatInt(msg.ThreadID, 10))

	case "/settotal", "/setfood":
		// Overrides only run from the configured balance topic; with no
		// topic configured they are disabled entirely.
		if s.balanceThreadID == 0 || msg.ThreadID != s.balanceThreadID {
			return
		}
		if len(fields) < 2 {
			s.reply(ctx, msg, "Нужна сумма: "+cmd+" 20000")
			return
		}
		cents, err := core.ToCents(fields[1])
		if err != nil {
			s.reply(ctx, msg, "Не понял сумму: "+fields[1])
			return
		}

		var ledger core.ChatLedger
		if cmd == "/settotal" {
			ledger, err = s.svc.SetGeneral(ctx, msg.Chat.ID, cents)
		} else {
			ledger, err = s.svc.SetFood(ctx, msg.Chat.ID, cents)
		}
		if err != nil {
			slog.ErrorContext(ctx, "Balance override failed",
				"chat_id", msg.Chat.ID, "command", cmd, "error", err)
			return
		}
		s.invalidateBalance(msg.Chat.ID)

		if s.notifier != nil {
			text := telegram.BalanceText(ledger, "", time.Now())
			if err := s.notifier.PublishBalance(ctx, msg.Chat.ID, text); err != nil {
				slog.ErrorContext(ctx, "Balance publish failed",
					"chat_id", msg.Chat.ID, "error", err)
			}
		}

	default:
		slog.DebugContext(ctx, "Unknown command", "command", cmd, "chat_id", msg.Chat.ID)
	}
}

func (s *Server) reply(ctx context.Context, msg *message, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Reply(ctx, msg.Chat.ID, msg.ThreadID, text); err != nil {
		slog.ErrorContext(ctx, "Command reply failed",
			"chat_id", msg.Chat.ID, "thread_id", msg.ThreadID, "error", err)
	}
}
