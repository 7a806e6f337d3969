package shadowstate

import (
	"sync"
	"time"
)

// Tracker manages shadow state for all plugins
type Tracker struct {
	mu             sync.RWMutex
	pluginStates   map[string]PluginShadowState
	stateProviders map[string]func() PluginShadowState
}

// NewTracker creates a new shadow state tracker
func NewTracker() *Tracker {
	return &Tracker{
		pluginStates:   make(map[string]PluginShadowState),
		stateProviders: make(map[string]func() PluginShadowState),
	}
}

// RegisterPlugin registers a plugin's shadow state
func (t *Tracker) RegisterPlugin(pluginName string, state PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pluginStates[pluginName] = state
}

// RegisterPluginProvider registers a function that provides a plugin's shadow state dynamically
func (t *Tracker) RegisterPluginProvider(pluginName string, provider func() PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateProviders[pluginName] = provider
}

// GetPluginState retrieves a plugin's shadow state
func (t *Tracker) GetPluginState(pluginName string) (PluginShadowState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Check provider first (dynamic state)
	if provider, ok := t.stateProviders[pluginName]; ok {
		return provider(), true
	}

	// Fall back to static state
	state, ok := t.pluginStates[pluginName]
	return state, ok
}

// GetAllPluginStates retrieves all plugin shadow states
func (t *Tracker) GetAllPluginStates() map[string]PluginShadowState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Create a copy to avoid race conditions
	// Include both static states and provider states
	totalSize := len(t.pluginStates) + len(t.stateProviders)
	states := make(map[string]PluginShadowState, totalSize)

	// Add static states
	for k, v := range t.pluginStates {
		states[k] = v
	}

	// Add provider states (these take precedence if there's a name collision)
	for k, provider := range t.stateProviders {
		states[k] = provider()
	}

	return states
}

// maxRecentScans bounds the scan history kept in memory
const maxRecentScans = 10

// HealthTracker manages shadow state specifically for the health plugin
type HealthTracker struct {
	mu    sync.RWMutex
	state *HealthShadowState
}

// NewHealthTracker creates a new health shadow state tracker
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		state: NewHealthShadowState(),
	}
}

// UpdateCurrentInputs updates the current input values
func (ht *HealthTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	for key, value := range inputs {
		ht.state.Inputs.Current[key] = value
	}
	ht.state.Metadata.LastUpdated = time.Now()
}

// SnapshotInputsForAction captures current inputs as the at-last-action snapshot
func (ht *HealthTracker) SnapshotInputsForAction() {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	ht.state.Inputs.AtLastAction = make(map[string]interface{}, len(ht.state.Inputs.Current))
	for key, value := range ht.state.Inputs.Current {
		ht.state.Inputs.AtLastAction[key] = value
	}
}

// RecordScan stores the outcome of a scan and the matched entity lists
func (ht *HealthTracker) RecordScan(record ScanRecord, unavailable, critical, low []string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	ht.state.Outputs.Unavailable = copyStrings(unavailable)
	ht.state.Outputs.BatteryCritical = copyStrings(critical)
	ht.state.Outputs.BatteryLow = copyStrings(low)

	ht.appendScanLocked(record)
}

// RecordFailedScan stores a scan that produced no classification. The
// previous outputs stay in place.
func (ht *HealthTracker) RecordFailedScan(record ScanRecord) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	ht.appendScanLocked(record)
}

func (ht *HealthTracker) appendScanLocked(record ScanRecord) {
	last := record
	ht.state.Outputs.LastScan = &last
	ht.state.Outputs.ScanCount++

	ht.state.Outputs.RecentScans = append(ht.state.Outputs.RecentScans, record)
	if n := len(ht.state.Outputs.RecentScans); n > maxRecentScans {
		ht.state.Outputs.RecentScans = append([]ScanRecord(nil), ht.state.Outputs.RecentScans[n-maxRecentScans:]...)
	}
	ht.state.Metadata.LastUpdated = time.Now()
}

// GetState returns the current shadow state (thread-safe copy)
func (ht *HealthTracker) GetState() *HealthShadowState {
	ht.mu.RLock()
	defer ht.mu.RUnlock()

	stateCopy := &HealthShadowState{
		Plugin: ht.state.Plugin,
		Inputs: HealthInputs{
			Current:      make(map[string]interface{}, len(ht.state.Inputs.Current)),
			AtLastAction: make(map[string]interface{}, len(ht.state.Inputs.AtLastAction)),
		},
		Outputs: HealthOutputs{
			Unavailable:     copyStrings(ht.state.Outputs.Unavailable),
			BatteryCritical: copyStrings(ht.state.Outputs.BatteryCritical),
			BatteryLow:      copyStrings(ht.state.Outputs.BatteryLow),
			RecentScans:     append([]ScanRecord{}, ht.state.Outputs.RecentScans...),
			ScanCount:       ht.state.Outputs.ScanCount,
		},
		Metadata: ht.state.Metadata,
	}

	for k, v := range ht.state.Inputs.Current {
		stateCopy.Inputs.Current[k] = v
	}
	for k, v := range ht.state.Inputs.AtLastAction {
		stateCopy.Inputs.AtLastAction[k] = v
	}
	if ht.state.Outputs.LastScan != nil {
		last := *ht.state.Outputs.LastScan
		stateCopy.Outputs.LastScan = &last
	}

	return stateCopy
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
