package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"order-reconciler/internal/config"
	"strings"
	"time"
)

// ChatClient sends plain text messages to a phone number through a
// WhatsApp Cloud style messaging API.
type ChatClient interface {
	SendText(ctx context.Context, phone, text string) error
}

type chatClientImpl struct {
	httpClient    *http.Client
	baseApiURL    string
	accessToken   string
	phoneNumberID string
}

type chatTextBody struct {
	Body string `json:"body"`
}

type chatMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             chatTextBody `json:"text"`
}

func NewChatClient(cfg config.Chat) ChatClient {
	return &chatClientImpl{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		baseApiURL:    strings.TrimRight(cfg.BaseApiURL, "/"),
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
	}
}

func (c *chatClientImpl) SendText(ctx context.Context, phone, text string) error {
	if c.accessToken == "" || c.phoneNumberID == "" {
		return fmt.Errorf("chat client is not configured")
	}
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if phone == "" {
		return fmt.Errorf("recipient phone is empty")
	}

	body, err := json.Marshal(chatMessage{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             chatTextBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseApiURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("chat send failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return nil
}
