package email

import (
	"context"
	"fmt"

	notificationdomain "github.com/smallbiznis/gymledger/internal/notification/domain"
)

// ReminderSender delivers notification messages as templated emails.
type ReminderSender struct {
	provider Provider
}

func NewReminderSender(provider Provider) notificationdomain.Sender {
	return &ReminderSender{provider: provider}
}

func (s *ReminderSender) Send(ctx context.Context, msg notificationdomain.Message) error {
	templateName, err := templateFor(msg.Kind)
	if err != nil {
		return err
	}
	return s.provider.SendTemplate(ctx, []string{msg.Recipient}, templateName, map[string]any{
		"name":            msg.DisplayName,
		"expiration_date": msg.ExpirationDate,
		"lead_days":       msg.LeadDays,
	})
}

func templateFor(kind notificationdomain.Kind) (string, error) {
	switch kind {
	case notificationdomain.KindExpirationReminder, notificationdomain.KindRenewalReminder:
		return TemplateExpirationReminder, nil
	case notificationdomain.KindOverdueNotice:
		return TemplateOverdueNotice, nil
	default:
		return "", fmt.Errorf("email: no template for notification kind %q", kind)
	}
}
