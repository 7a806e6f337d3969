package config

import (
	"errors"
	"fmt"
	"time"
)

// Option keys as they appear in homebase42.yaml
const (
	KeyBatteryCriticalThreshold     = "battery_critical_threshold"
	KeyBatteryLowThreshold          = "battery_low_threshold"
	KeyUnavailableNotificationDelay = "unavailable_notification_delay"
	KeyIncludeHiddenEntities        = "include_hidden_entities"
)

// Defaults
const (
	DefaultBatteryCritical  = 20
	DefaultBatteryLow       = 50
	DefaultUnavailableDelay = 3 // hours
	DefaultIncludeHidden    = false
)

// ErrInvalidOption is returned when an option is out of range
var ErrInvalidOption = errors.New("invalid option")

// Options are the user-tunable settings of the aggregator
type Options struct {
	BatteryCriticalThreshold int  `yaml:"battery_critical_threshold" json:"battery_critical_threshold"`
	BatteryLowThreshold      int  `yaml:"battery_low_threshold" json:"battery_low_threshold"`
	UnavailableDelayHours    int  `yaml:"unavailable_notification_delay" json:"unavailable_notification_delay"`
	IncludeHiddenEntities    bool `yaml:"include_hidden_entities" json:"include_hidden_entities"`
}

// DefaultOptions returns the options used when no file or key is present
func DefaultOptions() Options {
	return Options{
		BatteryCriticalThreshold: DefaultBatteryCritical,
		BatteryLowThreshold:      DefaultBatteryLow,
		UnavailableDelayHours:    DefaultUnavailableDelay,
		IncludeHiddenEntities:    DefaultIncludeHidden,
	}
}

// UnavailableDelay returns the notification delay as a duration
func (o Options) UnavailableDelay() time.Duration {
	return time.Duration(o.UnavailableDelayHours) * time.Hour
}

// Validate checks every option against its allowed range
func (o Options) Validate() error {
	if o.BatteryCriticalThreshold < 1 || o.BatteryCriticalThreshold > 100 {
		return fmt.Errorf("%w: %s must be between 1 and 100, got %d",
			ErrInvalidOption, KeyBatteryCriticalThreshold, o.BatteryCriticalThreshold)
	}
	if o.BatteryLowThreshold < 1 || o.BatteryLowThreshold > 100 {
		return fmt.Errorf("%w: %s must be between 1 and 100, got %d",
			ErrInvalidOption, KeyBatteryLowThreshold, o.BatteryLowThreshold)
	}
	if o.UnavailableDelayHours < 1 || o.UnavailableDelayHours > 24 {
		return fmt.Errorf("%w: %s must be between 1 and 24, got %d",
			ErrInvalidOption, KeyUnavailableNotificationDelay, o.UnavailableDelayHours)
	}
	return nil
}

// ThresholdsInverted reports a critical threshold above the low threshold.
// Such options are accepted; the low band is then empty.
func (o Options) ThresholdsInverted() bool {
	return o.BatteryCriticalThreshold > o.BatteryLowThreshold
}
