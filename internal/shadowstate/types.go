package shadowstate

import "time"

// PluginShadowState is the interface that all plugin shadow states must implement
type PluginShadowState interface {
	GetCurrentInputs() map[string]interface{}
	GetLastActionInputs() map[string]interface{}
	GetOutputs() interface{}
	GetMetadata() StateMetadata
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	PluginName  string    `json:"pluginName"`
}

// ScanRecord describes one scan of the health plugin
type ScanRecord struct {
	RunID           string        `json:"runId"`
	Trigger         string        `json:"trigger"` // "startup", "interval" or "options"
	StartedAt       time.Time     `json:"startedAt"`
	Duration        time.Duration `json:"duration"`
	EntitiesScanned int           `json:"entitiesScanned"`
	Unavailable     int           `json:"unavailable"`
	BatteryCritical int           `json:"batteryCritical"`
	BatteryLow      int           `json:"batteryLow"`
	Published       bool          `json:"published"`
	Error           string        `json:"error,omitempty"`
}

// HealthShadowState represents the shadow state for the health plugin
type HealthShadowState struct {
	Plugin   string        `json:"plugin"`
	Inputs   HealthInputs  `json:"inputs"`
	Outputs  HealthOutputs `json:"outputs"`
	Metadata StateMetadata `json:"metadata"`
}

// HealthInputs tracks current and last-publish input values
type HealthInputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastAction map[string]interface{} `json:"atLastAction"`
}

// HealthOutputs holds the latest classification and recent scan history
type HealthOutputs struct {
	Unavailable     []string     `json:"unavailable"`
	BatteryCritical []string     `json:"batteryCritical"`
	BatteryLow      []string     `json:"batteryLow"`
	LastScan        *ScanRecord  `json:"lastScan,omitempty"`
	RecentScans     []ScanRecord `json:"recentScans"`
	ScanCount       int          `json:"scanCount"`
}

// GetCurrentInputs implements PluginShadowState
func (h *HealthShadowState) GetCurrentInputs() map[string]interface{} {
	return h.Inputs.Current
}

// GetLastActionInputs implements PluginShadowState
func (h *HealthShadowState) GetLastActionInputs() map[string]interface{} {
	return h.Inputs.AtLastAction
}

// GetOutputs implements PluginShadowState
func (h *HealthShadowState) GetOutputs() interface{} {
	return h.Outputs
}

// GetMetadata implements PluginShadowState
func (h *HealthShadowState) GetMetadata() StateMetadata {
	return h.Metadata
}

// NewHealthShadowState creates an empty health shadow state
func NewHealthShadowState() *HealthShadowState {
	return &HealthShadowState{
		Plugin: "health",
		Inputs: HealthInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs: HealthOutputs{
			Unavailable:     []string{},
			BatteryCritical: []string{},
			BatteryLow:      []string{},
			RecentScans:     []ScanRecord{},
		},
		Metadata: StateMetadata{
			PluginName: "health",
		},
	}
}
