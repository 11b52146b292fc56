package notify

import (
	"context"
	"fmt"
	"time"

	gomail "gopkg.in/mail.v2"
)

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// EmailNotifier delivers events over SMTP.
type EmailNotifier struct {
	cfg  EmailConfig
	send func(m *gomail.Message) error
}

// NewEmailNotifier creates an EmailNotifier.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = 10 * time.Second
	return &EmailNotifier{cfg: cfg, send: func(m *gomail.Message) error {
		return dialer.DialAndSend(m)
	}}
}

func (e *EmailNotifier) Notify(ctx context.Context, ev *Event) error {
	if !e.cfg.Enabled {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", e.cfg.To)
	m.SetHeader("Subject", ev.Title())

	body := ev.Message()
	if ev.Link != "" {
		body += "\n\n" + ev.Link
	}
	m.SetBody("text/plain", body)

	if err := e.send(m); err != nil {
		return fmt.Errorf("notify: send email to %s: %w", e.cfg.To, err)
	}
	return nil
}
