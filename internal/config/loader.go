package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// OptionsFile is the options file name inside the config directory
const OptionsFile = "homebase42.yaml"

// Loader manages loading and reloading of the options file
type Loader struct {
	path      string
	logger    *zap.Logger
	mu        sync.RWMutex
	options   Options
	modTime   time.Time
	callbacks []func(Options)
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLoader creates a new configuration loader. Until Load is called the
// loader serves the default options.
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		path:     filepath.Join(configDir, OptionsFile),
		logger:   logger.Named("config"),
		options:  DefaultOptions(),
		stopChan: make(chan struct{}),
	}
}

// Path returns the options file path
func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the options file. A missing file yields the
// defaults; keys absent from the file keep their default values.
func (l *Loader) Load() (Options, error) {
	opts, modTime, err := l.read()
	if err != nil {
		return Options{}, err
	}

	l.mu.Lock()
	l.options = opts
	l.modTime = modTime
	l.mu.Unlock()

	l.logger.Info("Options loaded",
		zap.String("path", l.path),
		zap.Int(KeyBatteryCriticalThreshold, opts.BatteryCriticalThreshold),
		zap.Int(KeyBatteryLowThreshold, opts.BatteryLowThreshold),
		zap.Int(KeyUnavailableNotificationDelay, opts.UnavailableDelayHours),
		zap.Bool(KeyIncludeHiddenEntities, opts.IncludeHiddenEntities))
	return opts, nil
}

func (l *Loader) read() (Options, time.Time, error) {
	opts := DefaultOptions()

	info, err := os.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug("Options file not found, using defaults", zap.String("path", l.path))
		return opts, time.Time{}, nil
	}
	if err != nil {
		return Options{}, time.Time{}, fmt.Errorf("failed to stat options file: %w", err)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return Options{}, time.Time{}, fmt.Errorf("failed to read options file: %w", err)
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, time.Time{}, fmt.Errorf("failed to parse options file: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return Options{}, time.Time{}, err
	}
	if opts.ThresholdsInverted() {
		l.logger.Warn("Battery critical threshold above low threshold, no entity will count as low",
			zap.Int(KeyBatteryCriticalThreshold, opts.BatteryCriticalThreshold),
			zap.Int(KeyBatteryLowThreshold, opts.BatteryLowThreshold))
	}

	return opts, info.ModTime(), nil
}

// Options returns the most recently loaded options
func (l *Loader) Options() Options {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.options
}

// OnChange registers a callback invoked with the new options after a reload
func (l *Loader) OnChange(fn func(Options)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

// StartAutoReload polls the options file every interval and reloads it when
// its modification time changes
func (l *Loader) StartAutoReload(interval time.Duration) {
	l.logger.Info("Starting options auto-reload", zap.Duration("interval", interval))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.checkForChanges()
			case <-l.stopChan:
				l.logger.Info("Stopping options auto-reload")
				return
			}
		}
	}()
}

// checkForChanges reloads the file if it changed. Invalid content is logged
// and the previous options stay in effect.
func (l *Loader) checkForChanges() bool {
	var modTime time.Time
	info, err := os.Stat(l.path)
	if err == nil {
		modTime = info.ModTime()
	} else if !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("Failed to stat options file", zap.Error(err))
		return false
	}

	l.mu.RLock()
	unchanged := modTime.Equal(l.modTime)
	l.mu.RUnlock()
	if unchanged {
		return false
	}

	opts, newModTime, err := l.read()
	if err != nil {
		l.logger.Error("Ignoring invalid options file", zap.String("path", l.path), zap.Error(err))
		l.mu.Lock()
		l.modTime = modTime
		l.mu.Unlock()
		return false
	}

	l.mu.Lock()
	l.options = opts
	l.modTime = newModTime
	callbacks := append(([]func(Options))(nil), l.callbacks...)
	l.mu.Unlock()

	l.logger.Info("Options reloaded", zap.String("path", l.path))
	for _, cb := range callbacks {
		cb(opts)
	}
	return true
}

// Stop stops the auto-reload goroutine
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}
