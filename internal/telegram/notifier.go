package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"kassa/internal/store"
)

// Notifier owns the single balance message per chat. It prefers editing the
// message recorded in the state store and falls back to sending a fresh one
// into the balance topic, remembering the new id.
type Notifier struct {
	tg              *Client
	state           store.StateStore
	balanceThreadID int64
}

func NewNotifier(tg *Client, state store.StateStore, balanceThreadID int64) *Notifier {
	return &Notifier{
		tg:              tg,
		state:           state,
		balanceThreadID: balanceThreadID,
	}
}

// PublishBalance updates the chat's balance message with the given text.
func (n *Notifier) PublishBalance(ctx context.Context, chatID int64, text string) error {
	messageID, err := n.state.BalanceMessageID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load balance message id: %w", err)
	}

	if messageID != 0 {
		err := n.tg.EditMessageText(ctx, chatID, messageID, text)
		if err == nil {
			return nil
		}
		// Edit fails when the message was deleted or is too old; send a
		// replacement and remember its id instead.
		slog.WarnContext(ctx, "Balance message edit failed, sending new",
			"chat_id", chatID,
			"message_id", messageID,
			"error", err)
	}

	sentID, err := n.tg.SendMessage(ctx, chatID, n.balanceThreadID, text)
	if err != nil {
		return fmt.Errorf("send balance message: %w", err)
	}

	if err := n.state.SetBalanceMessageID(ctx, chatID, sentID); err != nil {
		return fmt.Errorf("store balance message id: %w", err)
	}
	return nil
}

// Ack posts the short confirmation reply into the topic the entry came from.
func (n *Notifier) Ack(ctx context.Context, chatID, threadID int64) error {
	if _, err := n.tg.SendMessage(ctx, chatID, threadID, "Записал ✅"); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	return nil
}

// Reply posts arbitrary text into a topic, used for command responses.
func (n *Notifier) Reply(ctx context.Context, chatID, threadID int64, text string) error {
	if _, err := n.tg.SendMessage(ctx, chatID, threadID, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
