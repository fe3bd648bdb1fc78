package config

import (
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// JobsConfig tunes the scheduled tasks. It is reloaded while the process runs.
type JobsConfig struct {
	Scheduler  SchedulerJobsConfig `mapstructure:"scheduler"`
	Expiration ExpirationJobConfig `mapstructure:"expiration"`
	Reminder   ReminderJobConfig   `mapstructure:"reminder"`
}

type SchedulerJobsConfig struct {
	RunInterval time.Duration `mapstructure:"runInterval"`
	JobTimeout  time.Duration `mapstructure:"jobTimeout"`
	EnabledJobs []string      `mapstructure:"enabledJobs"`
}

type ExpirationJobConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ReminderJobConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DaysBefore int    `mapstructure:"daysBefore"`
	CatchUp    bool   `mapstructure:"catchUp"`
	DateLayout string `mapstructure:"dateLayout"`
}

func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		Scheduler: SchedulerJobsConfig{
			RunInterval: 24 * time.Hour,
			JobTimeout:  5 * time.Minute,
		},
		Expiration: ExpirationJobConfig{Enabled: true},
		Reminder: ReminderJobConfig{
			Enabled:    true,
			DaysBefore: 3,
			DateLayout: "02/01/2006",
		},
	}
}

type JobsConfigHolder struct {
	current atomic.Value // holds JobsConfig
}

// NewStaticJobsConfigHolder returns a holder that never reloads.
func NewStaticJobsConfigHolder(cfg JobsConfig) *JobsConfigHolder {
	holder := &JobsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewJobsConfigHolder(cfg Config, log *zap.Logger) (*JobsConfigHolder, error) {
	return LoadJobsConfig(cfg.JobsConfigPath, log)
}

// LoadJobsConfig reads jobs.yml from path (or the default search paths when path
// is empty) and watches it for changes. A missing file yields defaults.
func LoadJobsConfig(path string, log *zap.Logger) (*JobsConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	setJobsDefaults(v, DefaultJobsConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jobs")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/gymledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GYMLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			found = false
		default:
			return nil, err
		}
	}

	var cfg JobsConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateJobsConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticJobsConfigHolder(cfg)
	if !found {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated JobsConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("jobs config reload failed", zap.String("path", e.Name), zap.Error(err))
			return
		}
		if err := validateJobsConfig(updated); err != nil {
			log.Warn("invalid jobs config ignored", zap.String("path", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("jobs config reloaded", zap.String("path", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *JobsConfigHolder) Get() JobsConfig {
	return h.current.Load().(JobsConfig)
}

func setJobsDefaults(v *viper.Viper, defaults JobsConfig) {
	v.SetDefault("scheduler.runInterval", defaults.Scheduler.RunInterval)
	v.SetDefault("scheduler.jobTimeout", defaults.Scheduler.JobTimeout)
	v.SetDefault("expiration.enabled", defaults.Expiration.Enabled)
	v.SetDefault("reminder.enabled", defaults.Reminder.Enabled)
	v.SetDefault("reminder.daysBefore", defaults.Reminder.DaysBefore)
	v.SetDefault("reminder.catchUp", defaults.Reminder.CatchUp)
	v.SetDefault("reminder.dateLayout", defaults.Reminder.DateLayout)
}

func validateJobsConfig(cfg JobsConfig) error {
	if cfg.Scheduler.RunInterval <= 0 {
		return errors.New("scheduler.runInterval must be positive")
	}
	if cfg.Reminder.DaysBefore < 0 {
		return errors.New("reminder.daysBefore cannot be negative")
	}
	if strings.TrimSpace(cfg.Reminder.DateLayout) == "" {
		return errors.New("reminder.dateLayout cannot be empty")
	}
	return nil
}
