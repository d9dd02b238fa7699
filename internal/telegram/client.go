// Package telegram is the outbound side of the bot: a thin Bot API client,
// the HTML rendering of balance messages, and the edit-or-send state machine
// that keeps one balance message per chat up to date.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIURL = "https://api.telegram.org"

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a Bot API client. baseURL overrides the Telegram endpoint
// for tests; pass "" for production.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(data, &api); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !api.OK {
		return fmt.Errorf("%s failed: %s", method, api.Description)
	}
	if result != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage posts an HTML message into a chat topic and returns the new
// message id. threadID 0 targets the chat root.
func (c *Client) SendMessage(ctx context.Context, chatID, threadID int64, text string) (int64, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if threadID != 0 {
		payload["message_thread_id"] = threadID
	}

	var sent sentMessage
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessageText replaces the text of an existing message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return c.call(ctx, "editMessageText", payload, nil)
}
