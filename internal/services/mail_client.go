package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gigmarket/backend/internal/events"
	"go.uber.org/zap"
)

type Email struct {
	To      string `json:"to"`
	Name    string `json:"name,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// QueuedMailer hands emails to the mail bridge over Redis so a slow mail
// provider never holds up an API request or a sweep.
type QueuedMailer struct {
	publisher events.Publisher
}

func NewQueuedMailer(publisher events.Publisher) *QueuedMailer {
	return &QueuedMailer{publisher: publisher}
}

func (m *QueuedMailer) Send(ctx context.Context, e Email) error {
	if e.To == "" {
		return fmt.Errorf("email %q has no recipient", e.Subject)
	}
	return m.publisher.Publish(ctx, events.StreamEmail, events.Event{
		Type: events.EventEmail,
		Payload: map[string]any{
			"to":      e.To,
			"name":    e.Name,
			"subject": e.Subject,
			"body":    e.Body,
		},
	})
}

// EmailFromEvent decodes a queued email.
func EmailFromEvent(ev events.Event) (Email, bool) {
	if ev.Type != events.EventEmail {
		return Email{}, false
	}
	to, _ := ev.Payload["to"].(string)
	subject, _ := ev.Payload["subject"].(string)
	body, _ := ev.Payload["body"].(string)
	name, _ := ev.Payload["name"].(string)
	if to == "" {
		return Email{}, false
	}
	return Email{To: to, Name: name, Subject: subject, Body: body}, true
}

// MailClient talks to the transactional mail provider's HTTP API.
type MailClient struct {
	baseURL    string
	token      string
	from       string
	httpClient *http.Client
	log        *zap.Logger
}

func NewMailClient(baseURL, token, from string, log *zap.Logger) *MailClient {
	return &MailClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		from:    from,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (c *MailClient) Send(ctx context.Context, e Email) error {
	body, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      e.To,
		ToName:  e.Name,
		Subject: e.Subject,
		Text:    e.Body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mail service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail service returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
