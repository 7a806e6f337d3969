package state

import (
	"strconv"
	"time"

	"homebase42/internal/aggregator"
)

// SignalKind is how a signal renders its state string
type SignalKind string

const (
	KindBool   SignalKind = "bool"
	KindNumber SignalKind = "number"
)

// Source names the scan a signal is derived from
type Source string

const (
	SourceUnavailable     Source = "unavailable"
	SourceBatteryCritical Source = "battery_critical"
	SourceBatteryLow      Source = "battery_low"
)

// Attribute names shared by every signal
const (
	AttrEntities    = "entities"
	AttrCount       = "count"
	AttrLastUpdated = "last_updated"
)

// Signal defines metadata for a published signal
type Signal struct {
	Key         string     // Go key (e.g., "batteryCritical")
	EntityID    string     // HA entity ID
	Name        string     // friendly_name attribute
	Kind        SignalKind // bool renders on/off, number renders the count
	Source      Source
	Icon        string
	DeviceClass string
	Unit        string
	StateClass  string
}

// AllSignals contains the four published signals
var AllSignals = []Signal{
	{
		Key:         "unavailableEntities",
		EntityID:    "binary_sensor.homebase42_unavailable_entities",
		Name:        "Unavailable Entities",
		Kind:        KindBool,
		Source:      SourceUnavailable,
		Icon:        "mdi:alert-circle",
		DeviceClass: "problem",
	},
	{
		Key:         "batteryCritical",
		EntityID:    "binary_sensor.homebase42_battery_critical",
		Name:        "Battery Critical",
		Kind:        KindBool,
		Source:      SourceBatteryCritical,
		Icon:        "mdi:battery-alert",
		DeviceClass: "problem",
	},
	{
		Key:        "unavailableCount",
		EntityID:   "sensor.homebase42_unavailable_count",
		Name:       "Unavailable Count",
		Kind:       KindNumber,
		Source:     SourceUnavailable,
		Icon:       "mdi:counter",
		Unit:       "entities",
		StateClass: "measurement",
	},
	{
		Key:        "batteryLowCount",
		EntityID:   "sensor.homebase42_battery_low_count",
		Name:       "Battery Low Count",
		Kind:       KindNumber,
		Source:     SourceBatteryLow,
		Icon:       "mdi:battery-low",
		Unit:       "entities",
		StateClass: "measurement",
	},
}

// SignalsByKey creates a map of signals by their key
func SignalsByKey() map[string]Signal {
	signals := make(map[string]Signal)
	for _, s := range AllSignals {
		signals[s.Key] = s
	}
	return signals
}

// Value is the current published value of a signal
type Value struct {
	Key         string    `json:"key"`
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	Entities    []string  `json:"entities"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
	Restored    bool      `json:"restored"`
}

// Default returns the value shown before anything was restored or scanned
func (s Signal) Default() Value {
	return s.ValueFor(aggregator.NewResult(nil), time.Time{})
}

// ValueFor renders a scan result as this signal's value
func (s Signal) ValueFor(result aggregator.Result, at time.Time) Value {
	entities := result.Entities
	if entities == nil {
		entities = []string{}
	}
	return Value{
		Key:         s.Key,
		EntityID:    s.EntityID,
		State:       s.stateString(result),
		Entities:    entities,
		Count:       result.Count,
		LastUpdated: at,
	}
}

func (s Signal) stateString(result aggregator.Result) string {
	if s.Kind == KindNumber {
		return strconv.Itoa(result.Count)
	}
	if result.Any {
		return "on"
	}
	return "off"
}

// Attributes builds the attribute map published alongside the state
func (s Signal) Attributes(v Value) map[string]interface{} {
	attrs := map[string]interface{}{
		AttrEntities: v.Entities,
		AttrCount:    v.Count,
		"icon":       s.Icon,
	}
	if s.Name != "" {
		attrs["friendly_name"] = s.Name
	}
	if !v.LastUpdated.IsZero() {
		attrs[AttrLastUpdated] = v.LastUpdated.UTC().Format(time.RFC3339)
	}
	if s.DeviceClass != "" {
		attrs["device_class"] = s.DeviceClass
	}
	if s.Unit != "" {
		attrs["unit_of_measurement"] = s.Unit
	}
	if s.StateClass != "" {
		attrs["state_class"] = s.StateClass
	}
	return attrs
}

// ResultFor picks the result a signal is derived from
func ResultFor(source Source, report aggregator.Report) aggregator.Result {
	switch source {
	case SourceBatteryCritical:
		return report.BatteryCritical
	case SourceBatteryLow:
		return report.BatteryLow
	default:
		return report.Unavailable
	}
}
