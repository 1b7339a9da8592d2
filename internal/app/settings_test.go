package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSettings_PrefersUserConfigOverLocal(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	workdir := t.TempDir()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	userConfigPath := filepath.Join(home, ".config", "engram", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("db_path: /tmp/from-user.db\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "config.yaml"), []byte("db_path: /tmp/from-local.db\n"), 0o600))

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-user.db", s.DBPath)
}

func TestLoadSettings_FallsBackToLocalConfig(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	workdir := t.TempDir()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	require.NoError(t, os.WriteFile(filepath.Join(workdir, "config.yaml"), []byte("db_path: /tmp/from-local.db\n"), 0o600))

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-local.db", s.DBPath)
}

func TestLoadSettings_InvalidYAMLReturnsError(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	userConfigPath := filepath.Join(home, ".config", "engram", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("db_path: ["), 0o600))

	_, err := LoadSettings()
	require.Error(t, err)
}

func TestLoadSettingsFile_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /tmp/read.db\n"), 0o600))

	s, err := loadSettingsFile(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/read.db", s.DBPath)
}

func TestLoadSettingsFile_ReadsDecayFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "decay_rate_sml: 0.2\n" +
		"decay_rate_lml: 0.03\n" +
		"forget_threshold: 0.1\n" +
		"promotion_access_count: 12\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := loadSettingsFile(path)
	require.NoError(t, err)
	require.InDelta(t, 0.2, s.DecayRateSML, 1e-9)
	require.InDelta(t, 0.03, s.DecayRateLML, 1e-9)
	require.InDelta(t, 0.1, s.ForgetThreshold, 1e-9)
	require.Equal(t, 12, s.PromotionAccessCount)
}

func TestEffectiveDecaySettings_DefaultsAndClamp(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	// No config file: defaults
	cfg := EffectiveDecaySettings()
	require.InDelta(t, defaultDecayRateSML, cfg.RateSML, 1e-9)
	require.InDelta(t, defaultDecayRateLML, cfg.RateLML, 1e-9)
	require.InDelta(t, defaultForgetThreshold, cfg.ForgetThreshold, 1e-9)
	require.Equal(t, defaultPromotionAccessCount, cfg.PromotionAccessCount)

	// An LML rate faster than SML should be corrected (SML must decay >= LML).
	userConfigPath := filepath.Join(home, ".config", "engram", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte(strings.Join([]string{
		"decay_rate_sml: 0.01",
		"decay_rate_lml: 0.05",
		"forget_threshold: 0.99",
		"",
	}, "\n")), 0o600))

	resetSettingsStateForTest()
	cfg = EffectiveDecaySettings()
	require.GreaterOrEqual(t, cfg.RateSML, cfg.RateLML)
	require.LessOrEqual(t, cfg.ForgetThreshold, 0.9)
}
