package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBPath               string  `yaml:"db_path"`
	DecayRateSML         float64 `yaml:"decay_rate_sml"`
	DecayRateLML         float64 `yaml:"decay_rate_lml"`
	ForgetThreshold      float64 `yaml:"forget_threshold"`
	PromotionAccessCount int     `yaml:"promotion_access_count"`
	PromotionStrength    float64 `yaml:"promotion_strength"`
	AutoMergeTrustFloor  float64 `yaml:"auto_merge_trust_floor"`
	HandoffIdleMinutes   int     `yaml:"handoff_idle_minutes"`
}

// DecaySettings are effective runtime values used by the decay engine and sleep cycle.
type DecaySettings struct {
	RateSML              float64 `json:"decay_rate_sml"`
	RateLML              float64 `json:"decay_rate_lml"`
	ForgetThreshold      float64 `json:"forget_threshold"`
	PromotionAccessCount int     `json:"promotion_access_count"`
	PromotionStrength    float64 `json:"promotion_strength"`
}

const (
	defaultDecayRateSML         = 0.12
	defaultDecayRateLML         = 0.02
	defaultForgetThreshold      = 0.05
	defaultPromotionAccessCount = 10
	defaultPromotionStrength    = 0.7
)

// EffectiveDecaySettings returns validated decay/promotion settings with defaults.
// Invalid or missing config values fall back to safe defaults.
func EffectiveDecaySettings() DecaySettings {
	cfg := DecaySettings{
		RateSML:              defaultDecayRateSML,
		RateLML:              defaultDecayRateLML,
		ForgetThreshold:      defaultForgetThreshold,
		PromotionAccessCount: defaultPromotionAccessCount,
		PromotionStrength:    defaultPromotionStrength,
	}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}

	if s.DecayRateSML > 0 {
		cfg.RateSML = s.DecayRateSML
	}
	if s.DecayRateLML > 0 {
		cfg.RateLML = s.DecayRateLML
	}
	if s.ForgetThreshold > 0 {
		cfg.ForgetThreshold = s.ForgetThreshold
	}
	if s.PromotionAccessCount > 0 {
		cfg.PromotionAccessCount = s.PromotionAccessCount
	}
	if s.PromotionStrength > 0 {
		cfg.PromotionStrength = s.PromotionStrength
	}

	if cfg.RateSML < cfg.RateLML {
		// SML must decay at least as fast as LML (spec.md §4.3: r_SML > r_LML).
		cfg.RateSML = cfg.RateLML * 2
	}
	if cfg.ForgetThreshold > 0.9 {
		cfg.ForgetThreshold = 0.9
	}
	return cfg
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
// These globals are required by the sync.Once pattern and the RWMutex pattern; they cannot be avoided.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/engram/config.yaml
// 2) /etc/engram/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		// 1) User config (~/.config/engram/config.yaml)
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 2) /etc
		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "engram", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 3) Local ./config.yaml (lowest priority)
		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
