package email

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"golang.org/x/time/rate"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// MaxPerSecond throttles outbound messages. Zero disables throttling.
	MaxPerSecond int
}

type SMTPProvider struct {
	cfg      Config
	limiter  *rate.Limiter
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	p := &SMTPProvider{cfg: cfg, sendMail: smtp.SendMail}
	if cfg.MaxPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1)
	}
	return p
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return errors.New("email: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := parseAddress(p.cfg.From)
	if err != nil {
		return fmt.Errorf("email: invalid sender %q: %w", p.cfg.From, err)
	}
	recipients := make([]string, 0, len(to))
	for _, raw := range to {
		addr, err := parseAddress(raw)
		if err != nil {
			return fmt.Errorf("email: invalid recipient %q: %w", raw, err)
		}
		recipients = append(recipients, addr.Address)
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	fromHeader := from.Address
	if from.Name != "" {
		fromHeader = from.String()
	}
	return p.sendMail(addr, auth, from.Address, recipients, buildMessage(fromHeader, recipients, subject, htmlBody))
}

var errHeaderBreak = errors.New("contains a line break")

// parseAddress accepts a single RFC 5322 address with no line breaks.
func parseAddress(raw string) (*mail.Address, error) {
	if strings.ContainsAny(raw, "\r\n") {
		return nil, errHeaderBreak
	}
	return mail.ParseAddress(raw)
}

func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	subject, body, err := render(templateName, data)
	if err != nil {
		return err
	}
	return p.Send(ctx, to, subject, body)
}

func buildMessage(from string, to []string, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}
