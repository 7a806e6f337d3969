package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeOptions(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, OptionsFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// touch moves the mtime forward so change detection does not depend on
// filesystem timestamp granularity
func touch(t *testing.T, dir string, offset time.Duration) {
	t.Helper()
	ts := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(filepath.Join(dir, OptionsFile), ts, ts))
}

func TestLoader_Load(t *testing.T) {
	logger := zap.NewNop()

	t.Run("missing file yields defaults", func(t *testing.T) {
		loader := NewLoader(t.TempDir(), logger)
		opts, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultOptions(), opts)
		assert.Equal(t, 3*time.Hour, opts.UnavailableDelay())
	})

	t.Run("full file", func(t *testing.T) {
		dir := t.TempDir()
		writeOptions(t, dir, `battery_critical_threshold: 10
battery_low_threshold: 40
unavailable_notification_delay: 6
include_hidden_entities: true
`)
		loader := NewLoader(dir, logger)
		opts, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, Options{
			BatteryCriticalThreshold: 10,
			BatteryLowThreshold:      40,
			UnavailableDelayHours:    6,
			IncludeHiddenEntities:    true,
		}, opts)
		assert.Equal(t, opts, loader.Options())
	})

	t.Run("missing keys keep defaults", func(t *testing.T) {
		dir := t.TempDir()
		writeOptions(t, dir, "battery_low_threshold: 60\n")
		opts, err := NewLoader(dir, logger).Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultBatteryCritical, opts.BatteryCriticalThreshold)
		assert.Equal(t, 60, opts.BatteryLowThreshold)
		assert.Equal(t, DefaultUnavailableDelay, opts.UnavailableDelayHours)
	})

	t.Run("out of range is rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeOptions(t, dir, "unavailable_notification_delay: 48\n")
		_, err := NewLoader(dir, logger).Load()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidOption))
		assert.Contains(t, err.Error(), KeyUnavailableNotificationDelay)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeOptions(t, dir, "battery_low_threshold: [oops\n")
		_, err := NewLoader(dir, logger).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse")
	})
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantKey string
	}{
		{"defaults", func(o *Options) {}, ""},
		{"critical zero", func(o *Options) { o.BatteryCriticalThreshold = 0 }, KeyBatteryCriticalThreshold},
		{"critical above 100", func(o *Options) { o.BatteryCriticalThreshold = 101 }, KeyBatteryCriticalThreshold},
		{"low zero", func(o *Options) { o.BatteryLowThreshold = 0 }, KeyBatteryLowThreshold},
		{"delay zero", func(o *Options) { o.UnavailableDelayHours = 0 }, KeyUnavailableNotificationDelay},
		{"delay 24 ok", func(o *Options) { o.UnavailableDelayHours = 24 }, ""},
		{"critical equals low ok", func(o *Options) { o.BatteryCriticalThreshold = 50 }, ""},
		{"critical above low ok", func(o *Options) {
			o.BatteryCriticalThreshold = 60
			o.BatteryLowThreshold = 40
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidOption)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestLoader_InvertedThresholdsWarn(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dir := t.TempDir()
	writeOptions(t, dir, "battery_critical_threshold: 60\nbattery_low_threshold: 40\n")

	loader := NewLoader(dir, zap.New(core))
	opts, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 60, opts.BatteryCriticalThreshold)
	assert.Equal(t, 40, opts.BatteryLowThreshold)
	assert.True(t, opts.ThresholdsInverted())

	warnings := logs.FilterMessageSnippet("critical threshold above low").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(60), warnings[0].ContextMap()[KeyBatteryCriticalThreshold])

	assert.False(t, DefaultOptions().ThresholdsInverted())
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	writeOptions(t, dir, "battery_critical_threshold: 20\n")
	touch(t, dir, -time.Hour)

	loader := NewLoader(dir, zap.NewNop())
	_, err := loader.Load()
	require.NoError(t, err)

	var got []Options
	loader.OnChange(func(o Options) { got = append(got, o) })

	t.Run("unchanged file is a no-op", func(t *testing.T) {
		assert.False(t, loader.checkForChanges())
		assert.Empty(t, got)
	})

	t.Run("changed file triggers callbacks", func(t *testing.T) {
		writeOptions(t, dir, "battery_critical_threshold: 15\n")
		touch(t, dir, 0)

		assert.True(t, loader.checkForChanges())
		require.Len(t, got, 1)
		assert.Equal(t, 15, got[0].BatteryCriticalThreshold)
		assert.Equal(t, 15, loader.Options().BatteryCriticalThreshold)
	})

	t.Run("invalid content keeps previous options", func(t *testing.T) {
		writeOptions(t, dir, "battery_critical_threshold: 500\n")
		touch(t, dir, time.Hour)

		assert.False(t, loader.checkForChanges())
		assert.Len(t, got, 1)
		assert.Equal(t, 15, loader.Options().BatteryCriticalThreshold)
	})

	t.Run("deleted file reverts to defaults", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, OptionsFile)))

		assert.True(t, loader.checkForChanges())
		require.Len(t, got, 2)
		assert.Equal(t, DefaultOptions(), got[1])
	})
}

func TestLoader_StartStop(t *testing.T) {
	loader := NewLoader(t.TempDir(), zap.NewNop())
	loader.StartAutoReload(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	loader.Stop()
	loader.Stop()
}

func TestLoadEnv(t *testing.T) {
	envFrom := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}

	t.Run("defaults", func(t *testing.T) {
		env, err := LoadEnv(envFrom(map[string]string{
			"HA_URL":   "ws://ha:8123/api/websocket",
			"HA_TOKEN": "t",
		}))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfigDir, env.ConfigDir)
		assert.Equal(t, DefaultDBPath, env.DBPath)
		assert.Equal(t, DefaultAPIPort, env.APIPort)
		assert.Equal(t, DefaultScanInterval, env.ScanInterval)
		assert.False(t, env.ReadOnly)
	})

	t.Run("overrides", func(t *testing.T) {
		env, err := LoadEnv(envFrom(map[string]string{
			"HA_URL":        "ws://ha:8123/api/websocket",
			"HA_TOKEN":      "t",
			"HA_REST_URL":   "http://ha:8123",
			"READ_ONLY":     "true",
			"API_PORT":      "9000",
			"SCAN_INTERVAL": "30s",
		}))
		require.NoError(t, err)
		assert.True(t, env.ReadOnly)
		assert.Equal(t, 9000, env.APIPort)
		assert.Equal(t, 30*time.Second, env.ScanInterval)
		assert.Equal(t, "http://ha:8123", env.HARESTURL)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := LoadEnv(envFrom(map[string]string{"HA_URL": "ws://ha"}))
		assert.Error(t, err)
	})

	t.Run("bad interval", func(t *testing.T) {
		_, err := LoadEnv(envFrom(map[string]string{
			"HA_URL": "ws://ha", "HA_TOKEN": "t", "SCAN_INTERVAL": "-5m",
		}))
		assert.Error(t, err)
	})
}
