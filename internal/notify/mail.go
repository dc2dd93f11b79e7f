// Package notify emails the site owner when a visitor leaves a message.
package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Message is the content of one notification.
type Message struct {
	Name     string
	Email    string
	Body     string
	IssueURL string
}

// Notifier delivers notifications.
type Notifier interface {
	NotifyMessage(m Message) error
}

// SMTPConfig holds the mail server settings.
type SMTPConfig struct {
	Host string
	Port string
	User string
	Pass string
	To   string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends notifications through an SMTP server.
type Mailer struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewMailer creates a mailer. Host and port default to Gmail's submission
// server.
func NewMailer(cfg SMTPConfig) *Mailer {
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &Mailer{cfg: cfg, send: smtp.SendMail}
}

// NotifyMessage emails m to the owner with Reply-To set to the visitor.
func (m *Mailer) NotifyMessage(msg Message) error {
	if m.cfg.User == "" || m.cfg.Pass == "" || m.cfg.To == "" {
		return fmt.Errorf("SMTP credentials not configured")
	}

	subject := fmt.Sprintf("Whisper Box: %s", headerSafe(msg.Name))
	body := fmt.Sprintf(`
New message left on your site:

Name: %s
Email: %s
Message:
%s

Issue: %s
`, msg.Name, msg.Email, msg.Body, msg.IssueURL)

	raw := []byte("To: " + m.cfg.To + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"From: " + m.cfg.User + "\r\n" +
		"Reply-To: " + headerSafe(msg.Email) + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body + "\r\n")

	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	if err := m.send(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.User, []string{m.cfg.To}, raw); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}

	slog.Info("Notification sent", "name", msg.Name)
	return nil
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
