package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender delivers account emails (confirmation links and the like).
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one outbound email with both HTML and plain-text bodies.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// NewSender picks the delivery backend: Postmark when a server token is
// configured, otherwise a log-only sender for development.
func NewSender(postmarkToken string) Sender {
	if strings.TrimSpace(postmarkToken) != "" {
		return NewPostmark(postmarkToken)
	}
	return &LogSender{}
}

const postmarkEndpoint = "https://api.postmarkapp.com/email"

// Postmark delivers mail through the Postmark transactional API.
type Postmark struct {
	token    string
	endpoint string
	client   *http.Client
}

// NewPostmark creates a Postmark-backed sender.
func NewPostmark(token string) *Postmark {
	return &Postmark{
		token:    token,
		endpoint: postmarkEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// apiError is the JSON body Postmark returns on failure.
type apiError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("postmark code %d: %s", e.ErrorCode, e.Message)
}

// Send posts the message to the Postmark email endpoint. Empty bodies are
// omitted from the request; Postmark rejects blank HtmlBody/TextBody fields.
func (p *Postmark) Send(ctx context.Context, msg Message) error {
	fields := map[string]string{
		"From":    msg.From,
		"To":      msg.To,
		"Subject": msg.Subject,
	}
	if msg.HTML != "" {
		fields["HtmlBody"] = msg.HTML
	}
	if msg.Text != "" {
		fields["TextBody"] = msg.Text
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var apiErr apiError
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("send email (HTTP %d): %w", resp.StatusCode, &apiErr)
	}
	return fmt.Errorf("send email: unexpected HTTP %d from postmark", resp.StatusCode)
}

// LogSender writes outbound mail to the log instead of delivering it. The
// optional Sink receives every message before logging; tests use it to
// capture the confirmation link.
type LogSender struct {
	Sink func(Message)
}

// Send records the message without delivering it.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	if l.Sink != nil {
		l.Sink(msg)
	}
	body := msg.Text
	if len(body) > 4096 {
		body = body[:4096] + "...(truncated)"
	}
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", body).
		Msg("Email (log-only, no provider configured)")
	return nil
}
