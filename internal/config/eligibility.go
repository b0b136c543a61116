package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EligibilityConfig tunes the golden-tier gate. Both knobs are product
// levers: the window says how long a golden win locks the tier, the grace
// ratio shifts the behind-pace boundary.
type EligibilityConfig struct {
	// GoldenRecencyDays is the window during which a completed golden
	// verification suppresses the tier (rule a).
	GoldenRecencyDays int `mapstructure:"goldenRecencyDays"`

	// PaceGraceRatio scales the expected bowls-so-far before a user
	// counts as behind pace (rule b). 1.0 means strictly linear.
	PaceGraceRatio float64 `mapstructure:"paceGraceRatio"`
}

func DefaultEligibilityConfig() EligibilityConfig {
	return EligibilityConfig{
		GoldenRecencyDays: 7,
		PaceGraceRatio:    1.0,
	}
}

type EligibilityConfigHolder struct {
	current atomic.Value // holds EligibilityConfig
}

func NewEligibilityConfigHolder() (*EligibilityConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("eligibility")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/babcia/config") // Volume-mounted config
	v.AddConfigPath("/etc/babcia")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("BABCIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultEligibilityConfig()
		v.SetDefault("eligibility.goldenRecencyDays", defaults.GoldenRecencyDays)
		v.SetDefault("eligibility.paceGraceRatio", defaults.PaceGraceRatio)
	}

	var cfg EligibilityConfig
	if err := v.UnmarshalKey("eligibility", &cfg); err != nil {
		return nil, err
	}
	if err := validateEligibilityConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EligibilityConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EligibilityConfig
		if err := v.UnmarshalKey("eligibility", &updated); err != nil {
			log.Printf("[eligibility-config] reload failed: %v", err)
			return
		}
		if err := validateEligibilityConfig(updated); err != nil {
			log.Printf("[eligibility-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[eligibility-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *EligibilityConfigHolder) Get() EligibilityConfig {
	return h.current.Load().(EligibilityConfig)
}

// NewStaticEligibilityConfigHolder pins a fixed config, for tests.
func NewStaticEligibilityConfigHolder(cfg EligibilityConfig) *EligibilityConfigHolder {
	holder := &EligibilityConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateEligibilityConfig(cfg EligibilityConfig) error {
	if cfg.GoldenRecencyDays < 0 {
		return errors.New("eligibility.goldenRecencyDays cannot be negative")
	}
	if cfg.PaceGraceRatio <= 0 {
		return errors.New("eligibility.paceGraceRatio must be positive")
	}
	return nil
}
