// Package mailer sends best-effort nudge emails over SMTP. Delivery is never
// load-bearing: the in-app notification row is the source of truth and the
// caller treats every error here as a warning.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
)

const dialTimeout = 10 * time.Second

// SMTP delivers nudges through a plain SMTP relay.
type SMTP struct {
	cfg config.SMTPConfig
	log *slog.Logger
}

// New builds the mailer.
func New(cfg config.SMTPConfig, log *slog.Logger) *SMTP {
	if log == nil {
		log = slog.Default()
	}
	return &SMTP{cfg: cfg, log: log}
}

// SendNudge emails the nudge to the user. Users are identified by email
// address; anything else is skipped silently since there is nowhere to
// deliver to.
func (m *SMTP) SendNudge(ctx context.Context, user string, n *domain.Notification) error {
	if !strings.Contains(user, "@") {
		m.log.Debug("mailer: user has no address, skipping", "user", user)
		return nil
	}
	msg := buildMessage(m.cfg.From, user, n)
	return m.send(ctx, user, msg)
}

func (m *SMTP) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return client.Quit()
}

const boundary = "dayflow-nudge-boundary"

// buildMessage renders a multipart/alternative body so plain-text clients
// still get the message.
func buildMessage(from, to string, n *domain.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Message)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\nScheduled for %s.\r\n", n.Message, n.ScheduledAt.Format("15:04"))

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "<html><body><p><strong>%s</strong></p><p>Scheduled for %s.</p></body></html>\r\n",
		htmlEscape(n.Message), n.ScheduledAt.Format("15:04"))

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
