package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfigFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	prev := configFile
	configFile = path
	t.Cleanup(func() { configFile = prev })
	return path
}

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "default.base_url", "https://api.example.com/api/v1"))
	require.NoError(t, setConfigValue(cfg, "default.timeout", "10s"))
	require.NoError(t, setConfigValue(cfg, "storage.driver", "sqlite"))
	require.NoError(t, setConfigValue(cfg, "sync.schedule", "@every 30s"))
	require.NoError(t, setConfigValue(cfg, "log.level", "debug"))

	assert.Equal(t, "https://api.example.com/api/v1", cfg.Default.BaseURL)
	assert.Equal(t, "10s", cfg.Default.Timeout)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "@every 30s", cfg.Sync.Schedule)
	assert.Equal(t, "debug", cfg.Log.Level)

	for _, key := range []string{"base_url", "default.nope", "storage.driver", "nope.field"} {
		assert.Error(t, setConfigValue(cfg, key, "x"), key)
	}
	assert.Equal(t, "sqlite", cfg.Storage.Driver, "rejected driver leaves the old value")
}

func TestConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := withConfigFile(t, name)

			cfg, err := loadConfig()
			require.NoError(t, err)
			assert.Equal(t, Config{}, *cfg, "missing file loads as zero config")

			cfg.Default.BaseURL = "http://localhost:8000/api/v1"
			cfg.Storage.Driver = "memory"
			cfg.Sync.ProbeURL = "http://localhost:8000/health"
			require.NoError(t, saveConfig(cfg))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			got, err := loadConfig()
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := withConfigFile(t, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[default\nbase_url ="), 0o600))
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "INFO", parseLevel("INFO").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "WARN", parseLevel("").String())
	assert.Equal(t, "WARN", parseLevel("loud").String())
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, closer, err := openStore(&Config{Storage: ConfigStorage{Driver: "memory"}})
		require.NoError(t, err)
		assert.Nil(t, closer)
		_, ok := store.(*gatherly.MemoryStore)
		assert.True(t, ok)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := openStore(&Config{Storage: ConfigStorage{Driver: "redis"}})
		assert.Error(t, err)
	})

	t.Run("file store is encrypted and reopens", func(t *testing.T) {
		t.Setenv(passphraseEnv, "")
		dir := t.TempDir()
		cfg := &Config{Storage: ConfigStorage{Driver: "file", Path: dir}}

		store, _, err := openStore(cfg)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, gatherly.KeyAccessToken, "secret-token"))

		raw, err := os.ReadFile(filepath.Join(dir, gatherly.KeyAccessToken+".dat"))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "secret-token")

		key, err := os.ReadFile(filepath.Join(dir, "store.key"))
		require.NoError(t, err)
		assert.Len(t, key, 32)

		again, _, err := openStore(cfg)
		require.NoError(t, err)
		got, err := again.Get(ctx, gatherly.KeyAccessToken)
		require.NoError(t, err)
		assert.Equal(t, "secret-token", got)
	})

	t.Run("passphrase", func(t *testing.T) {
		dir := t.TempDir()
		cfg := &Config{Storage: ConfigStorage{Driver: "file", Path: dir}}

		t.Setenv(passphraseEnv, "correct horse")
		store, _, err := openStore(cfg)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, gatherly.KeyUser, `{"id":1}`))
		_, err = os.Stat(filepath.Join(dir, "store.salt"))
		require.NoError(t, err)

		t.Setenv(passphraseEnv, "wrong horse")
		other, _, err := openStore(cfg)
		require.NoError(t, err)
		_, err = other.Get(ctx, gatherly.KeyUser)
		assert.Error(t, err)
	})
}

func TestBuildDraft(t *testing.T) {
	reset := func() {
		eventsCreateTitle, eventsCreateLocation, eventsCreateDescription = "", "", ""
		eventsCreateStart, eventsCreateEnd = "", ""
		eventsCreateCapacity = 0
	}
	t.Cleanup(reset)

	reset()
	eventsCreateTitle = "Meetup"
	eventsCreateLocation = "Hall A"
	eventsCreateStart = "2026-11-01T18:00"
	eventsCreateEnd = "2026-11-01T20:00"
	eventsCreateCapacity = 40
	draft, err := buildDraft()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 1, 18, 0, 0, 0, time.UTC), draft.StartTime)
	require.NotNil(t, draft.Capacity)
	assert.Equal(t, 40, *draft.Capacity)
	assert.Nil(t, draft.Description)

	eventsCreateEnd = "2026-11-01T17:00"
	_, err = buildDraft()
	assert.ErrorIs(t, err, gatherly.ErrInvalidDraft)

	eventsCreateEnd = "tomorrow"
	_, err = buildDraft()
	assert.Error(t, err)
}

func TestParseEventID(t *testing.T) {
	id, err := parseEventID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseEventID(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewProbeTarget(t *testing.T) {
	p := newProbe(&Config{}, "https://api.example.com/api/v1")
	hp, ok := p.(*gatherly.HTTPProbe)
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/", hp.URL)

	p = newProbe(&Config{Sync: ConfigSync{ProbeURL: "http://health.local/ping"}}, "https://api.example.com")
	assert.Equal(t, "http://health.local/ping", p.(*gatherly.HTTPProbe).URL)
}

func TestEffectiveConfig(t *testing.T) {
	got := effectiveConfig(Config{Storage: ConfigStorage{Driver: "sqlite"}})
	assert.Equal(t, gatherly.DefaultBaseURL, got.Default.BaseURL)
	assert.Equal(t, "30s", got.Default.Timeout)
	assert.Equal(t, "sqlite", got.Storage.Driver)
	assert.Equal(t, gatherly.DefaultSyncSchedule, got.Sync.Schedule)
	assert.Equal(t, "warn", got.Log.Level)

	out := describeConfig(got)
	for _, want := range []string{"[default]", "[storage]", "[sync]", "[log]", "driver     sqlite", "probe_url  (unset)"} {
		assert.Contains(t, out, want)
	}
}
