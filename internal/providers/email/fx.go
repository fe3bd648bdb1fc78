package email

import (
	"github.com/smallbiznis/gymledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
	fx.Provide(NewReminderSender),
)

// NewFromConfig returns the SMTP provider, or a logging provider when
// EMAIL_ENABLED is false.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if !cfg.Email.Enabled {
		return NewLogProvider(log)
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,

		MaxPerSecond: cfg.Email.SMTPMaxPerSecond,
	})
}
