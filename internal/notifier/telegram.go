package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const telegramAPIBase = "https://api.telegram.org"

// Client delivers alert messages to a Telegram chat. When credentials are
// missing it runs in mock mode: every send is logged and reported as
// successful, so alert dedup behaves exactly as it would in production.
type Client struct {
	botToken    string
	chatID      string
	apiBase     string
	client      *http.Client
	rateLimiter *rate.Limiter
}

func New(botToken, chatID string) *Client {
	return &Client{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
		// Telegram allows roughly one message per second per chat.
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type telegramSendPayload struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	DisableNotification   bool   `json:"disable_notification"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers one HTML-formatted message. Priority alerts ring the chat;
// everything else is sent silently.
func (c *Client) Send(ctx context.Context, text string, priority bool) error {
	if c.botToken == "" || c.chatID == "" {
		slog.Info("[MOCK ALERT]", "priority", priority, "text", text)
		return nil
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	payload := telegramSendPayload{
		ChatID:                c.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		DisableNotification:   !priority,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(bodyBytes, &tgResp); err != nil {
		return fmt.Errorf("telegram response malformed: %w", err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram rejected message: %s", tgResp.Description)
	}
	return nil
}
