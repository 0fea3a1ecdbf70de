// Package mailer delivers password-reset links.
//
// [SMTPMailer] sends through an SMTP relay. [LogMailer] writes the message to
// a zap logger and is meant for local development only.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pjuts-monitor/pjutsauth"
)

var errHeaderInjection = errors.New("mailer: header value contains a line break")

// SMTPConfig describes the relay. ImplicitTLS dials TLS directly (port 465);
// otherwise the connection is upgraded with STARTTLS when the server offers it.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	ImplicitTLS bool
	Timeout     time.Duration
}

type sendFunc func(ctx context.Context, cfg SMTPConfig, from string, to []string, msg []byte) error

// SMTPMailer implements [pjutsauth.Mailer].
type SMTPMailer struct {
	cfg  SMTPConfig
	now  func() time.Time
	send sendFunc
}

var _ pjutsauth.Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("mailer: SMTP host and port are required")
	}
	if cfg.From == "" {
		return nil, errors.New("mailer: From address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPMailer{cfg: cfg, now: time.Now, send: dialAndSend}, nil
}

const resetSubject = "Reset your PJUTS Monitor password"

var resetTemplate = template.Must(template.New("password_reset").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Password reset</title></head>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h2>Password reset</h2>
  <p>We received a request to reset the password for this account. If you did not ask for it, ignore this email.</p>
  <p><a href="{{.ResetURL}}">Choose a new password</a></p>
  <p>The link expires at {{.ExpiresAt}} and can be used once.</p>
</body>
</html>
`))

// SendPasswordReset renders the reset email and hands it to the relay.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, resetURL string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	data := struct {
		ResetURL  string
		ExpiresAt string
	}{
		ResetURL:  resetURL,
		ExpiresAt: expiresAt.UTC().Format("2006-01-02 15:04 MST"),
	}
	if err := resetTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("mailer: render template: %w", err)
	}

	msg, err := buildMessage(m.cfg.From, to, resetSubject, body.String(), m.now())
	if err != nil {
		return err
	}
	if err := m.send(ctx, m.cfg, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, htmlBody string, date time.Time) ([]byte, error) {
	headers := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", subject},
		{"Date", date.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}

	var b bytes.Buffer
	for _, h := range headers {
		if strings.ContainsAny(h[1], "\r\n") {
			return nil, errHeaderInjection
		}
		b.WriteString(h[0])
		b.WriteString(": ")
		b.WriteString(h[1])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return b.Bytes(), nil
}

func dialAndSend(ctx context.Context, cfg SMTPConfig, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if !cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("set recipient: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}
