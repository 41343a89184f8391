package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/chat-engine/internal/conversation"
	"github.com/wolfman30/chat-engine/internal/messaging"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v21.0"
	defaultHTTPTimeout  = 10 * time.Second
)

// Client sends messages through the WhatsApp Cloud API. It implements conversation.ChannelSender.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
	tracer        trace.Tracer
}

var _ conversation.ChannelSender = (*Client)(nil)

// NewClient creates a Cloud API client for one business phone number.
func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  defaultGraphAPIBase,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		tracer:        otel.Tracer("chatengine.internal.channels.whatsapp"),
	}
}

// SetGraphAPIBase overrides the Graph API base URL (useful for testing).
func (c *Client) SetGraphAPIBase(base string) {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		c.graphAPIBase = base
	}
}

// Send renders reply and posts it to the recipient. A 4xx rejection other than rate limiting is
// wrapped with messaging.ErrPermanent.
func (c *Client) Send(ctx context.Context, to string, reply conversation.Reply) (conversation.SendResult, error) {
	ctx, span := c.tracer.Start(ctx, "whatsapp.send")
	defer span.End()

	resp, err := c.send(ctx, BuildRequest(to, reply))
	if err != nil {
		span.RecordError(err)
		return conversation.SendResult{Attempts: 1}, err
	}
	result := conversation.SendResult{Attempts: 1}
	if len(resp.Messages) > 0 {
		result.ProviderMessageID = resp.Messages[0].ID
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal send request: %w: %w", messaging.ErrPermanent, err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &sendResp); err != nil && resp.StatusCode == http.StatusOK {
			return nil, fmt.Errorf("whatsapp: unmarshal response: %w", err)
		}
	}

	if resp.StatusCode != http.StatusOK || sendResp.Error != nil {
		detail := strings.TrimSpace(string(respBody))
		if sendResp.Error != nil {
			detail = fmt.Sprintf("code %d: %s", sendResp.Error.Code, sendResp.Error.Message)
		}
		if permanent(resp.StatusCode) {
			return &sendResp, fmt.Errorf("whatsapp: API error (status %d, %s): %w", resp.StatusCode, detail, messaging.ErrPermanent)
		}
		return &sendResp, fmt.Errorf("whatsapp: API error (status %d, %s)", resp.StatusCode, detail)
	}
	return &sendResp, nil
}

func permanent(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
}
