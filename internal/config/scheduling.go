package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SchedulingConfig carries facility booking policy that operators tune
// without a redeploy.
type SchedulingConfig struct {
	// DefaultReservationWindow is the guest lead time in days when the
	// price group has no product-specific window.
	DefaultReservationWindow int `mapstructure:"defaultReservationWindow"`
	// OperatorWindowDays bounds the date picker for operators in both
	// directions.
	OperatorWindowDays   int `mapstructure:"operatorWindowDays"`
	FiscalYearStartMonth int `mapstructure:"fiscalYearStartMonth"`
	SearchHorizonDays    int `mapstructure:"searchHorizonDays"`
}

func DefaultSchedulingConfig() SchedulingConfig {
	return SchedulingConfig{
		DefaultReservationWindow: 14,
		OperatorWindowDays:       365,
		FiscalYearStartMonth:     int(time.September),
		SearchHorizonDays:        365,
	}
}

func (c SchedulingConfig) FiscalYearStart() time.Month {
	return time.Month(c.FiscalYearStartMonth)
}

func (c SchedulingConfig) SearchHorizon() time.Duration {
	return time.Duration(c.SearchHorizonDays) * 24 * time.Hour
}

type SchedulingConfigHolder struct {
	current atomic.Value // holds SchedulingConfig
}

// NewStaticSchedulingConfigHolder pins cfg without any file watching.
func NewStaticSchedulingConfigHolder(cfg SchedulingConfig) *SchedulingConfigHolder {
	holder := &SchedulingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSchedulingConfigHolder(cfg Config, log *zap.Logger) (*SchedulingConfigHolder, error) {
	log = log.Named("config.scheduling")
	v := viper.New()

	if cfg.SchedulingConfigPath != "" {
		v.SetConfigFile(cfg.SchedulingConfigPath)
	} else {
		v.SetConfigName("facility")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/facilitycore")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FACILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSchedulingConfig()
	v.SetDefault("scheduling.defaultReservationWindow", defaults.DefaultReservationWindow)
	v.SetDefault("scheduling.operatorWindowDays", defaults.OperatorWindowDays)
	v.SetDefault("scheduling.fiscalYearStartMonth", defaults.FiscalYearStartMonth)
	v.SetDefault("scheduling.searchHorizonDays", defaults.SearchHorizonDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	loaded, err := decodeScheduling(v)
	if err != nil {
		return nil, err
	}
	if err := validateSchedulingConfig(loaded); err != nil {
		return nil, err
	}

	holder := NewStaticSchedulingConfigHolder(loaded)
	if !fileLoaded {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeScheduling(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateSchedulingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

// decodeScheduling goes through Unmarshal so nested defaults are merged with
// whatever subset the file sets.
func decodeScheduling(v *viper.Viper) (SchedulingConfig, error) {
	var file struct {
		Scheduling SchedulingConfig `mapstructure:"scheduling"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return SchedulingConfig{}, err
	}
	return file.Scheduling, nil
}

func (h *SchedulingConfigHolder) Get() SchedulingConfig {
	return h.current.Load().(SchedulingConfig)
}

func validateSchedulingConfig(cfg SchedulingConfig) error {
	if cfg.DefaultReservationWindow < 0 {
		return errors.New("scheduling.defaultReservationWindow cannot be negative")
	}
	if cfg.OperatorWindowDays <= 0 {
		return errors.New("scheduling.operatorWindowDays must be positive")
	}
	if cfg.FiscalYearStartMonth < 1 || cfg.FiscalYearStartMonth > 12 {
		return errors.New("scheduling.fiscalYearStartMonth must be between 1 and 12")
	}
	if cfg.SearchHorizonDays <= 0 {
		return errors.New("scheduling.searchHorizonDays must be positive")
	}
	return nil
}
