// Package health runs the periodic entity scan and publishes the
// unavailable and battery signals.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homebase42/internal/aggregator"
	"homebase42/internal/clock"
	"homebase42/internal/config"
	"homebase42/internal/ha"
	"homebase42/internal/shadowstate"
	"homebase42/internal/state"
)

// DefaultScanInterval is the time between periodic scans
const DefaultScanInterval = 5 * time.Minute

// Scan triggers recorded in shadow state
const (
	TriggerStartup  = "startup"
	TriggerInterval = "interval"
	TriggerOptions  = "options"
)

// Manager owns the scanner goroutine. Scans only run on that goroutine (or
// synchronously in Start before it exists), so there is never more than one
// scan in flight.
type Manager struct {
	haClient      ha.HAClient
	stateManager  *state.Manager
	options       *config.Loader
	registry      *aggregator.CachedRegistry
	logger        *zap.Logger
	readOnly      bool
	clock         clock.Clock
	interval      time.Duration
	shadowTracker *shadowstate.HealthTracker

	mu         sync.RWMutex
	agg        *aggregator.Aggregator
	lastReport *aggregator.Report

	ctx         context.Context
	cancel      context.CancelFunc
	optionsChan chan config.Options
	registrySub ha.Subscription
	removeHook  func()
	stopChan    chan struct{}
	stoppedChan chan struct{}
	stopOnce    sync.Once
	running     bool
}

// NewManager creates a new health manager. options may be nil, in which case
// the default options apply and no reload callback is registered.
func NewManager(haClient ha.HAClient, stateManager *state.Manager, options *config.Loader, logger *zap.Logger, readOnly bool) *Manager {
	logger = logger.Named("health")
	registry := aggregator.NewCachedRegistry(haClient, logger)

	opts := config.DefaultOptions()
	if options != nil {
		opts = options.Options()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		haClient:      haClient,
		stateManager:  stateManager,
		options:       options,
		registry:      registry,
		logger:        logger,
		readOnly:      readOnly,
		clock:         clock.NewRealClock(),
		interval:      DefaultScanInterval,
		shadowTracker: shadowstate.NewHealthTracker(),
		agg:           aggregator.New(aggregator.ConfigFromOptions(opts), registry, logger),
		ctx:           ctx,
		cancel:        cancel,
		optionsChan:   make(chan config.Options, 1),
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}
}

// SetClock sets the clock implementation (useful for testing)
func (m *Manager) SetClock(c clock.Clock) {
	m.clock = c
}

// SetInterval overrides the scan interval. Must be called before Start.
func (m *Manager) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Start restores the published signals, loads the entity registry, runs the
// first scan and starts the periodic scanner
func (m *Manager) Start() error {
	m.logger.Info("Starting Health Manager", zap.Duration("interval", m.interval))

	if err := m.stateManager.Restore(m.ctx); err != nil {
		m.logger.Warn("Restore incomplete, continuing with defaults", zap.Error(err))
	}

	sub, err := m.haClient.SubscribeEvents(ha.EventEntityRegistryUpdated, func(event *ha.Event) {
		m.logger.Debug("Entity registry changed, marking stale")
		m.registry.MarkStale()
	})
	if err != nil {
		m.cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", ha.EventEntityRegistryUpdated, err)
	}
	m.registrySub = sub

	// Registry updates sent while the connection was down are lost
	m.removeHook = m.haClient.OnConnect(func() {
		m.logger.Debug("Reconnected, marking entity registry stale")
		m.registry.MarkStale()
	})

	if err := m.registry.Refresh(); err != nil {
		m.logger.Warn("Initial registry load failed, entities treated as visible", zap.Error(err))
	}

	if m.options != nil {
		m.options.OnChange(m.ApplyOptions)
	}

	m.scan(TriggerStartup)

	ticker := m.clock.NewTicker(m.interval)
	m.running = true
	go m.run(ticker)

	m.logger.Info("Health Manager started successfully")
	return nil
}

func (m *Manager) run(ticker clock.Ticker) {
	defer close(m.stoppedChan)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.scan(TriggerInterval)
		case opts := <-m.optionsChan:
			m.rebuild(opts)
			m.scan(TriggerOptions)
		case <-m.stopChan:
			return
		}
	}
}

// ApplyOptions hands new options to the scanner goroutine, which rebuilds the
// aggregator and rescans. A pending update not yet picked up is replaced.
func (m *Manager) ApplyOptions(opts config.Options) {
	for {
		select {
		case m.optionsChan <- opts:
			return
		default:
		}
		select {
		case <-m.optionsChan:
		default:
		}
	}
}

func (m *Manager) rebuild(opts config.Options) {
	cfg := aggregator.ConfigFromOptions(opts)

	m.mu.Lock()
	m.agg = aggregator.New(cfg, m.registry, m.logger)
	m.mu.Unlock()

	m.logger.Info("Options applied",
		zap.Float64("battery_critical_threshold", cfg.BatteryCriticalThreshold),
		zap.Float64("battery_low_threshold", cfg.BatteryLowThreshold),
		zap.Duration("unavailable_delay", cfg.UnavailableDelay),
		zap.Bool("include_hidden", cfg.IncludeHidden))
}

func (m *Manager) currentAggregator() *aggregator.Aggregator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agg
}

// scan runs one full cycle: fetch, classify, publish, record
func (m *Manager) scan(trigger string) {
	start := m.clock.Now()
	record := shadowstate.ScanRecord{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: start,
	}

	states, err := m.haClient.GetAllStates()
	if err != nil {
		m.logger.Error("Scan skipped, failed to get states", zap.String("trigger", trigger), zap.Error(err))
		record.Error = err.Error()
		record.Duration = m.clock.Since(start)
		m.shadowTracker.RecordFailedScan(record)
		return
	}

	if err := m.registry.RefreshIfStale(); err != nil {
		m.logger.Warn("Registry refresh failed, using cached entries", zap.Error(err))
	}

	agg := m.currentAggregator()
	report := agg.Scan(states, start)
	cfg := agg.Config()

	m.shadowTracker.UpdateCurrentInputs(map[string]interface{}{
		"entities":                 len(states),
		"registryEntries":          m.registry.Len(),
		"batteryCriticalThreshold": cfg.BatteryCriticalThreshold,
		"batteryLowThreshold":      cfg.BatteryLowThreshold,
		"unavailableDelay":         cfg.UnavailableDelay.String(),
		"includeHidden":            cfg.IncludeHidden,
	})

	record.EntitiesScanned = report.EntitiesScanned
	record.Unavailable = report.Unavailable.Count
	record.BatteryCritical = report.BatteryCritical.Count
	record.BatteryLow = report.BatteryLow.Count

	err = m.stateManager.PublishReport(m.ctx, report)
	switch {
	case err == nil:
		record.Published = true
		m.shadowTracker.SnapshotInputsForAction()
	case errors.Is(err, state.ErrReadOnlyMode):
		m.logger.Debug("READ-ONLY: scan results not published")
	default:
		m.logger.Error("Failed to publish scan results", zap.Error(err))
		record.Error = err.Error()
	}

	m.mu.Lock()
	m.lastReport = &report
	m.mu.Unlock()

	record.Duration = m.clock.Since(start)
	m.shadowTracker.RecordScan(record,
		report.Unavailable.Entities,
		report.BatteryCritical.Entities,
		report.BatteryLow.Entities)

	m.logger.Info("Scan complete",
		zap.String("trigger", trigger),
		zap.String("run_id", record.RunID),
		zap.Int("entities", report.EntitiesScanned),
		zap.Int("unavailable", report.Unavailable.Count),
		zap.Int("battery_critical", report.BatteryCritical.Count),
		zap.Int("battery_low", report.BatteryLow.Count),
		zap.Duration("duration", record.Duration))
}

// Stop stops the scanner and waits for it to exit. The published signals
// keep their last values in Home Assistant.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping Health Manager")

		close(m.stopChan)
		if m.running {
			<-m.stoppedChan
		}
		m.cancel()

		if m.removeHook != nil {
			m.removeHook()
		}
		if m.registrySub != nil {
			if err := m.registrySub.Unsubscribe(); err != nil {
				m.logger.Warn("Failed to unsubscribe from registry updates", zap.Error(err))
			}
		}

		m.logger.Info("Health Manager stopped")
	})
}

// Results returns the report of the most recent completed scan
func (m *Manager) Results() (aggregator.Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastReport == nil {
		return aggregator.Report{}, false
	}
	return *m.lastReport, true
}

// GetShadowState returns the current shadow state
func (m *Manager) GetShadowState() *shadowstate.HealthShadowState {
	return m.shadowTracker.GetState()
}
