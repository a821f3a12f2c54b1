package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NormalizeValue trims whitespace and one pair of surrounding quotes.
func NormalizeValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

// NormalizeToken also drops a leading "bot" copied from the API URL.
func NormalizeToken(v string) string {
	v = NormalizeValue(v)
	if strings.HasPrefix(strings.ToLower(v), "bot") {
		v = strings.TrimSpace(v[3:])
	}
	return v
}

// NewTelegram returns nil when token or chat ID is missing.
func NewTelegram(token, chatID string) *Telegram {
	token, chatID = NormalizeToken(token), NormalizeValue(chatID)
	if token == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: deliveryTimeout},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *Telegram) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(telegramMessage{ChatID: t.chatID, Text: alert.Text(), ParseMode: "Markdown"})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram sendMessage: status %s", resp.Status)
	}
	return nil
}
