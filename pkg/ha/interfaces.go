// Package ha provides the public interface definitions for Home Assistant
// client integration. These interfaces can be imported by external packages
// (including private plugin implementations).
//
// The actual implementation is in internal/ha, which is wrapped by these
// public interfaces for external consumption.
package ha

import (
	"encoding/json"
	"time"

	"homebase42/internal/ha"
)

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Event is an event received from the Home Assistant event bus.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
}

// Registry rows and core config are shared with the internal client.
type (
	EntityRegistryEntry = ha.EntityRegistryEntry
	AreaRegistryEntry   = ha.AreaRegistryEntry
	DeviceRegistryEntry = ha.DeviceRegistryEntry
	Config              = ha.Config
)

// EventHandler is called when a subscribed event is received.
type EventHandler func(event *Event)

// Subscription represents an active event subscription.
type Subscription interface {
	Unsubscribe() error
}

// Client defines the interface for Home Assistant WebSocket client.
// This interface matches internal/ha.HAClient and can be used by external packages.
type Client interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetAllStates() ([]*State, error)
	GetEntityRegistry() ([]*EntityRegistryEntry, error)
	GetAreaRegistry() ([]*AreaRegistryEntry, error)
	GetDeviceRegistry() ([]*DeviceRegistryEntry, error)
	GetConfig() (*Config, error)
	FireEvent(eventType string, data map[string]interface{}) error
	SetState(entityID, state string, attributes map[string]interface{}) error
	SubscribeEvents(eventType string, handler EventHandler) (Subscription, error)
}
