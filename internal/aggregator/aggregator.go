// Package aggregator classifies entity snapshots into the derived health
// signals: entities unavailable for too long, batteries at or below the
// critical threshold, and batteries in the low band above it.
//
// Every scan is recomputed from scratch over the snapshot list it is given
// and never fails; readings that cannot be classified are simply excluded.
package aggregator

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"homebase42/internal/config"
	"homebase42/internal/ha"
)

// Entity ID prefixes of the signals this service publishes. Scans skip them
// so the service never reports on itself.
const (
	OwnBinarySensorPrefix = "binary_sensor.homebase42_"
	OwnSensorPrefix       = "sensor.homebase42_"
)

// DeviceClassBattery is the device class that marks a battery level entity
const DeviceClassBattery = "battery"

// Config holds the classification thresholds
type Config struct {
	BatteryCriticalThreshold float64
	BatteryLowThreshold      float64
	UnavailableDelay         time.Duration
	IncludeHidden            bool
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return ConfigFromOptions(config.DefaultOptions())
}

// ConfigFromOptions converts validated integration options
func ConfigFromOptions(opts config.Options) Config {
	return Config{
		BatteryCriticalThreshold: float64(opts.BatteryCriticalThreshold),
		BatteryLowThreshold:      float64(opts.BatteryLowThreshold),
		UnavailableDelay:         opts.UnavailableDelay(),
		IncludeHidden:            opts.IncludeHiddenEntities,
	}
}

// Result is one derived signal. Count always equals len(Entities) and Any
// is true exactly when Count > 0.
type Result struct {
	Entities []string `json:"entities"`
	Count    int      `json:"count"`
	Any      bool     `json:"any"`
}

// NewResult builds a Result from a list of matching entity IDs
func NewResult(entities []string) Result {
	if entities == nil {
		entities = []string{}
	}
	return Result{
		Entities: entities,
		Count:    len(entities),
		Any:      len(entities) > 0,
	}
}

// Report bundles the three results of one scan
type Report struct {
	Unavailable     Result    `json:"unavailable"`
	BatteryCritical Result    `json:"battery_critical"`
	BatteryLow      Result    `json:"battery_low"`
	EntitiesScanned int       `json:"entities_scanned"`
	ScannedAt       time.Time `json:"scanned_at"`
}

// Aggregator runs the scans. It is immutable; build a new one when the
// configuration changes.
type Aggregator struct {
	cfg      Config
	registry RegistryLookup
	logger   *zap.Logger
}

// New creates an Aggregator. A nil registry behaves like an empty one.
func New(cfg Config, registry RegistryLookup, logger *zap.Logger) *Aggregator {
	if registry == nil {
		registry = MapRegistry(nil)
	}
	return &Aggregator{
		cfg:      cfg,
		registry: registry,
		logger:   logger.Named("aggregator"),
	}
}

// Config returns the thresholds this aggregator classifies with
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Scan runs all three classifications over the same snapshot list
func (a *Aggregator) Scan(states []*ha.State, now time.Time) Report {
	return Report{
		Unavailable:     a.ComputeUnavailable(states, now),
		BatteryCritical: a.ComputeBatteryCritical(states),
		BatteryLow:      a.ComputeBatteryLow(states),
		EntitiesScanned: len(states),
		ScannedAt:       now,
	}
}

// ComputeUnavailable returns entities whose state is unavailable or unknown
// and has not changed for at least the configured delay. The boundary is
// inclusive. A zero last-changed timestamp never matches.
func (a *Aggregator) ComputeUnavailable(states []*ha.State, now time.Time) Result {
	var matched []string
	for _, state := range states {
		if !a.eligible(state) {
			continue
		}
		if !state.IsUnavailable() || state.LastChanged.IsZero() {
			continue
		}
		if now.Sub(state.LastChanged) >= a.cfg.UnavailableDelay {
			matched = append(matched, state.EntityID)
		}
	}
	return NewResult(matched)
}

// ComputeBatteryCritical returns battery entities at or below the critical
// threshold
func (a *Aggregator) ComputeBatteryCritical(states []*ha.State) Result {
	var matched []string
	for _, state := range states {
		level, ok := a.batteryLevel(state)
		if !ok {
			continue
		}
		if level <= a.cfg.BatteryCriticalThreshold {
			matched = append(matched, state.EntityID)
		}
	}
	return NewResult(matched)
}

// ComputeBatteryLow returns battery entities above the critical threshold
// and at or below the low threshold
func (a *Aggregator) ComputeBatteryLow(states []*ha.State) Result {
	var matched []string
	for _, state := range states {
		level, ok := a.batteryLevel(state)
		if !ok {
			continue
		}
		if level > a.cfg.BatteryCriticalThreshold && level <= a.cfg.BatteryLowThreshold {
			matched = append(matched, state.EntityID)
		}
	}
	return NewResult(matched)
}

// eligible applies the rules shared by every scan: skip our own signals and,
// unless configured otherwise, hidden or disabled entities
func (a *Aggregator) eligible(state *ha.State) bool {
	if state == nil || IsOwnEntity(state.EntityID) {
		return false
	}
	if a.cfg.IncludeHidden {
		return true
	}
	meta, ok := a.registry.Lookup(state.EntityID)
	if !ok {
		return true
	}
	return !meta.Hidden && !meta.Disabled
}

// batteryLevel returns the numeric level of an eligible battery entity
func (a *Aggregator) batteryLevel(state *ha.State) (float64, bool) {
	if !a.eligible(state) || !a.isBattery(state) || state.IsUnavailable() {
		return 0, false
	}

	level, err := strconv.ParseFloat(strings.TrimSpace(state.State), 64)
	if err != nil {
		a.logger.Debug("Skipping non-numeric battery reading",
			zap.String("entity_id", state.EntityID),
			zap.String("state", state.State))
		return 0, false
	}
	return level, true
}

// isBattery matches on device class from the state attributes or the
// registry, falling back to "battery" anywhere in the entity ID
func (a *Aggregator) isBattery(state *ha.State) bool {
	if dc, ok := state.Attributes["device_class"].(string); ok && dc == DeviceClassBattery {
		return true
	}
	if meta, ok := a.registry.Lookup(state.EntityID); ok {
		if meta.DeviceClass == DeviceClassBattery || meta.OriginalDeviceClass == DeviceClassBattery {
			return true
		}
	}
	return strings.Contains(strings.ToLower(state.EntityID), DeviceClassBattery)
}

// IsOwnEntity reports whether entityID is one of this service's signals
func IsOwnEntity(entityID string) bool {
	return strings.HasPrefix(entityID, OwnBinarySensorPrefix) ||
		strings.HasPrefix(entityID, OwnSensorPrefix)
}
