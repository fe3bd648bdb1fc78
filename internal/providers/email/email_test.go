package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	notificationdomain "github.com/smallbiznis/gymledger/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type capturedMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newCapturingSMTP(cfg Config, captured *capturedMail, sendErr error) *SMTPProvider {
	p := NewSMTP(cfg)
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*captured = capturedMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)}
		return sendErr
	}
	return p
}

func TestRenderExpirationReminder(t *testing.T) {
	subject, body, err := render(TemplateExpirationReminder, map[string]any{
		"name":            "Ana <Lopez>",
		"expiration_date": "31/01/2024",
	})
	require.NoError(t, err)

	assert.Equal(t, "Reminder: your gym membership expires soon", subject)
	assert.Contains(t, body, "31/01/2024")
	assert.Contains(t, body, "Ana &lt;Lopez&gt;")
}

func TestRenderSubjectOverrideAndUnknownTemplate(t *testing.T) {
	subject, _, err := render(TemplateOverdueNotice, map[string]any{"subject": "Custom"})
	require.NoError(t, err)
	assert.Equal(t, "Custom", subject)

	_, _, err = render("missing", nil)
	assert.Error(t, err)
}

func TestSMTPProviderSend(t *testing.T) {
	var captured capturedMail
	p := newCapturingSMTP(Config{Host: "smtp.local", Port: 2525, From: "gym@example.com"}, &captured, nil)

	err := p.SendTemplate(context.Background(), []string{"ana@example.com"}, TemplateExpirationReminder, map[string]any{
		"name":            "Ana",
		"expiration_date": "31/01/2024",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.local:2525", captured.addr)
	assert.Nil(t, captured.auth)
	assert.Equal(t, "gym@example.com", captured.from)
	assert.Equal(t, []string{"ana@example.com"}, captured.to)
	assert.Contains(t, captured.msg, "To: ana@example.com\r\n")
	assert.Contains(t, captured.msg, "Content-Type: text/html")
	assert.Contains(t, captured.msg, "31/01/2024")
}

func TestSMTPProviderUsesAuthWhenConfigured(t *testing.T) {
	var captured capturedMail
	p := newCapturingSMTP(Config{Host: "smtp.local", Port: 587, Username: "u", Password: "p", From: "gym@example.com"}, &captured, nil)

	require.NoError(t, p.Send(context.Background(), []string{"a@example.com"}, "hi", "<p>hi</p>"))
	assert.NotNil(t, captured.auth)
}

func TestSMTPProviderErrors(t *testing.T) {
	var captured capturedMail
	boom := errors.New("connection refused")
	p := newCapturingSMTP(Config{Host: "smtp.local", Port: 25, From: "gym@example.com"}, &captured, boom)

	assert.ErrorIs(t, p.Send(context.Background(), []string{"a@example.com"}, "s", "b"), boom)
	assert.Error(t, p.Send(context.Background(), nil, "s", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Send(ctx, []string{"a@example.com"}, "s", "b"), context.Canceled)
}

func TestSMTPProviderRejectsUnsafeAddresses(t *testing.T) {
	cases := []struct {
		name string
		from string
		to   string
	}{
		{name: "crlf in recipient", from: "gym@example.com", to: "ana@example.com\r\nBcc: all@example.com"},
		{name: "bare lf in recipient", from: "gym@example.com", to: "ana@example.com\nSubject: x"},
		{name: "malformed recipient", from: "gym@example.com", to: "not an address"},
		{name: "crlf in sender", from: "gym@example.com\r\nX-Injected: 1", to: "ana@example.com"},
		{name: "missing sender", from: "", to: "ana@example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured capturedMail
			called := false
			p := newCapturingSMTP(Config{Host: "smtp.local", Port: 25, From: tc.from}, &captured, nil)
			send := p.sendMail
			p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
				called = true
				return send(addr, a, from, to, msg)
			}

			err := p.Send(context.Background(), []string{tc.to}, "s", "b")
			require.Error(t, err)
			assert.False(t, called)
		})
	}
}

func TestSMTPProviderNormalizesAddresses(t *testing.T) {
	var captured capturedMail
	p := newCapturingSMTP(Config{Host: "smtp.local", Port: 25, From: "Iron Gym <gym@example.com>"}, &captured, nil)

	require.NoError(t, p.Send(context.Background(), []string{"Ana Lopez <ana@example.com>"}, "s", "b"))
	assert.Equal(t, "gym@example.com", captured.from)
	assert.Equal(t, []string{"ana@example.com"}, captured.to)
	assert.Contains(t, captured.msg, "From: \"Iron Gym\" <gym@example.com>\r\n")
	assert.Contains(t, captured.msg, "To: ana@example.com\r\n")
}

func TestSMTPProviderThrottlesSends(t *testing.T) {
	var captured capturedMail
	p := newCapturingSMTP(Config{Host: "smtp.local", Port: 25, From: "gym@example.com", MaxPerSecond: 1}, &captured, nil)
	require.NotNil(t, p.limiter)

	require.NoError(t, p.Send(context.Background(), []string{"a@example.com"}, "s", "b"))

	// The burst is spent; the next token is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Send(ctx, []string{"b@example.com"}, "s", "b"))
	assert.Equal(t, []string{"a@example.com"}, captured.to)

	assert.Nil(t, NewSMTP(Config{Host: "smtp.local"}).limiter)
}

func TestLogProviderReportsSuccessWithoutRecipient(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogProvider(zap.New(core))

	err := p.SendTemplate(context.Background(), []string{"ana@example.com"}, TemplateExpirationReminder, map[string]any{
		"name":            "Ana",
		"expiration_date": "31/01/2024",
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap(), "to")
	assert.EqualValues(t, 1, entries[0].ContextMap()["recipients"])
}

type recordingProvider struct {
	to       []string
	template string
	data     map[string]any
}

func (r *recordingProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (r *recordingProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	r.to, r.template, r.data = to, templateName, data
	return nil
}

func TestReminderSenderMapsKindToTemplate(t *testing.T) {
	rec := &recordingProvider{}
	sender := NewReminderSender(rec)

	err := sender.Send(context.Background(), notificationdomain.Message{
		Kind:           notificationdomain.KindExpirationReminder,
		Recipient:      "ana@example.com",
		DisplayName:    "Ana",
		ExpirationDate: "04/01/2024",
		LeadDays:       3,
	})
	require.NoError(t, err)
	assert.Equal(t, TemplateExpirationReminder, rec.template)
	assert.Equal(t, []string{"ana@example.com"}, rec.to)
	assert.Equal(t, "Ana", rec.data["name"])

	require.NoError(t, sender.Send(context.Background(), notificationdomain.Message{Kind: notificationdomain.KindOverdueNotice}))
	assert.Equal(t, TemplateOverdueNotice, rec.template)

	assert.Error(t, sender.Send(context.Background(), notificationdomain.Message{Kind: "UNKNOWN"}))
}
