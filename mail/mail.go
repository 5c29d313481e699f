package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/campusgate/authcore"
)

// Config configures the SMTP mailer. Host and From are required; Username
// and Password enable PLAIN auth when set.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends passcode and reset emails over SMTP. It implements
// [authcore.Mailer].
type Mailer struct {
	config Config
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// New validates cfg and returns a Mailer.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		return nil, errors.New("from address required")
	}
	return &Mailer{config: cfg, send: smtp.SendMail}, nil
}

// Send renders the template for kind and dispatches it to the address. The
// context bounds the whole call; net/smtp itself does not take a context, so
// cancellation is checked before dialing and the send runs in a goroutine.
func (m *Mailer) Send(ctx context.Context, to string, kind authcore.MailKind, payload map[string]string) error {
	subject, body, err := render(kind, payload)
	if err != nil {
		return err
	}

	msg := buildMessage(m.config.From, to, subject, body)
	addr := net.JoinHostPort(m.config.Host, fmt.Sprintf("%d", m.config.Port))

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, auth, m.config.From, []string{to}, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func render(kind authcore.MailKind, payload map[string]string) (string, string, error) {
	switch kind {
	case authcore.MailOTP:
		return "Your verification code",
			fmt.Sprintf(
				"Your one-time verification code is %s.\r\n\r\nIt expires in %s minutes. If you did not request it, ignore this email.\r\n",
				payload["code"], payload["minutes"],
			), nil
	case authcore.MailResetLink:
		return "Password reset",
			fmt.Sprintf(
				"Use this code to reset your password: %s\r\n\r\nIt expires in %s minutes. If you did not request a reset, ignore this email.\r\n",
				payload["code"], payload["minutes"],
			), nil
	default:
		return "", "", fmt.Errorf("unknown mail kind %q", kind)
	}
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
