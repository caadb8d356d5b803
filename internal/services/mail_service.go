package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

//go:embed templates/welcome.html
var templateFS embed.FS

var welcomeTemplate = template.Must(template.ParseFS(templateFS, "templates/welcome.html"))

const welcomeSubject = "Welcome!"

// MailConfig configures the HTTP mail API (SendGrid v3 compatible).
type MailConfig struct {
	APIKey     string
	BaseURL    string
	FromEmail  string
	FromName   string
	Timeout    time.Duration
	MaxRetries int
}

// MailService sends templated messages through the mail API. Without an API
// key it only logs what it would have sent.
type MailService struct {
	client *resty.Client
	cfg    MailConfig
	log    *zap.Logger
}

// NewMailService creates a new MailService.
func NewMailService(cfg MailConfig, log *zap.Logger) *MailService {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &MailService{
		client: client,
		cfg:    cfg,
		log:    log.With(zap.String("component", "mail_service")),
	}
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailMessage struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Subject          string                `json:"subject"`
	Content          []mailContent         `json:"content"`
}

// RenderWelcome renders the welcome message body for name.
func RenderWelcome(name string) (string, error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, struct{ Name string }{Name: name}); err != nil {
		return "", fmt.Errorf("render welcome template: %w", err)
	}
	return buf.String(), nil
}

// SendWelcome sends the welcome message to one address.
func (s *MailService) SendWelcome(ctx context.Context, address, displayName string) error {
	body, err := RenderWelcome(displayName)
	if err != nil {
		return err
	}
	return s.Send(ctx, address, displayName, welcomeSubject, body)
}

// Send delivers one HTML message to one recipient.
func (s *MailService) Send(ctx context.Context, to, toName, subject, htmlBody string) error {
	if s.cfg.APIKey == "" {
		s.log.Info("mail API key not configured, message not sent",
			zap.String("to", to),
			zap.String("subject", subject),
		)
		return nil
	}

	msg := mailMessage{
		Personalizations: []mailPersonalization{{To: []mailAddress{{Email: to, Name: toName}}}},
		From:             mailAddress{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
		Subject:          subject,
		Content:          []mailContent{{Type: "text/html", Value: htmlBody}},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post("/v3/mail/send")
	if err != nil {
		s.log.Error("mail API call failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("send mail: %w", err)
	}
	if resp.IsError() {
		s.log.Error("mail API rejected message",
			zap.String("to", to),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("mail API returned status %d", resp.StatusCode())
	}

	s.log.Debug("mail sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
