// Package notify mails a finished export to the configured recipients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

// ErrNoRecipients is returned when the recipient list is empty.
var ErrNoRecipients = errors.New("notify: no recipients")

// Config describes the sender, recipients and SMTP server.
type Config struct {
	From    string
	To      []string
	CC      []string
	Host    string
	Port    int
	Subject string
}

// FromAddress builds <login>@<senderDomain> from the current OS user.
func FromAddress(senderDomain string) (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("detect sender: %w", err)
	}
	name := u.Username
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	return name + "@" + strings.TrimPrefix(senderDomain, "@"), nil
}

// Mailer sends export notifications over SMTP.
type Mailer struct {
	cfg  Config
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewMailer validates cfg and returns a mailer.
func NewMailer(cfg Config) (*Mailer, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("notify: sender is required")
	}
	if len(cfg.To) == 0 {
		return nil, ErrNoRecipients
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	if cfg.Subject == "" {
		cfg.Subject = "ALM test export"
	}

	m := &Mailer{cfg: cfg}
	m.send = m.dialAndSend
	return m, nil
}

// BuildMessage creates the notification for the export at attachment.
func (m *Mailer) BuildMessage(attachment string, rows int, now time.Time) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(m.cfg.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	if len(m.cfg.CC) > 0 {
		if err := msg.Cc(m.cfg.CC...); err != nil {
			return nil, fmt.Errorf("set cc: %w", err)
		}
	}

	msg.Subject(fmt.Sprintf("%s - %s", m.cfg.Subject, now.Format("2006-01-02")))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Hello,\n\nattached is the ALM test export generated on %s (%d test cases).\n\nThis message was sent automatically.\n",
		now.Format("2006-01-02 15:04"), rows,
	))
	msg.AttachFile(attachment, mail.WithFileName(filepath.Base(attachment)))

	return msg, nil
}

// Send mails the export file.
func (m *Mailer) Send(ctx context.Context, attachment string, rows int) error {
	msg, err := m.BuildMessage(attachment, rows, time.Now())
	if err != nil {
		return err
	}

	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}

	log.Info().
		Str("from", m.cfg.From).
		Strs("to", m.cfg.To).
		Strs("cc", m.cfg.CC).
		Str("attachment", filepath.Base(attachment)).
		Msg("Export mailed")
	return nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	c, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30*time.Second),
	)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}
