package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"

	"github.com/guardbook/guardbook/internal/config"
	"github.com/guardbook/guardbook/internal/schema"
)

// Email delivers escalations over SMTP, one message per recipient so a bad
// mailbox never blocks the rest of the audience.
type Email struct {
	cfg *config.EmailConfig
}

// NewEmail creates the SMTP adapter.
func NewEmail(cfg *config.EmailConfig) *Email {
	return &Email{cfg: cfg}
}

func (e *Email) Send(ctx context.Context, subject, body string, to []schema.Recipient) error {
	sent, failed := 0, 0
	for _, r := range to {
		if r.Email == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.sendOne(r.Email, subject, body); err != nil {
			slog.Error("notify: email send failed", "to", r.Email, "err", err)
			failed++
			continue
		}
		sent++
	}
	if sent == 0 && failed > 0 {
		return fmt.Errorf("email: all %d sends failed", failed)
	}
	return nil
}

func (e *Email) sendOne(to, subject, body string) error {
	msg := fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		to, e.cfg.FromAddress, e.cfg.SubjectPrefix+subject, body)

	addr := net.JoinHostPort(e.cfg.SMTPHost, fmt.Sprintf("%d", e.cfg.SMTPPort))
	auth := smtp.PlainAuth("", e.cfg.SMTPUsername, e.cfg.SMTPPassword, e.cfg.SMTPHost)

	if !e.cfg.SMTPUseSSL {
		return smtp.SendMail(addr, auth, e.cfg.FromAddress, []string{to}, []byte(msg))
	}

	tlsCfg := &tls.Config{ServerName: e.cfg.SMTPHost}
	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Quit()
	if err := client.Auth(auth); err != nil {
		return err
	}
	if err := client.Mail(e.cfg.FromAddress); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

var _ schema.Notifier = (*Email)(nil)
