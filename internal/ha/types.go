package ha

import (
	"encoding/json"
	"strings"
	"time"
)

// Sentinel state values Home Assistant reports for entities without a reading
const (
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event represents an event message from Home Assistant
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// State represents an entity state
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
	Context     *Context               `json:"context,omitempty"`
}

// Domain returns the part of the entity ID before the first dot
func (s *State) Domain() string {
	if i := strings.IndexByte(s.EntityID, '.'); i >= 0 {
		return s.EntityID[:i]
	}
	return s.EntityID
}

// IsUnavailable reports whether the state is one of the no-reading sentinels
func (s *State) IsUnavailable() bool {
	return s.State == StateUnavailable || s.State == StateUnknown
}

// Context represents the context of a state change
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// EntityRegistryEntry is one row of config/entity_registry/list
type EntityRegistryEntry struct {
	EntityID            string  `json:"entity_id"`
	Platform            string  `json:"platform"`
	ConfigEntryID       string  `json:"config_entry_id,omitempty"`
	DeviceID            string  `json:"device_id,omitempty"`
	AreaID              string  `json:"area_id,omitempty"`
	DisabledBy          *string `json:"disabled_by,omitempty"`
	HiddenBy            *string `json:"hidden_by,omitempty"`
	Hidden              bool    `json:"hidden,omitempty"`
	EntityCategory      *string `json:"entity_category,omitempty"`
	DeviceClass         *string `json:"device_class,omitempty"`
	OriginalDeviceClass *string `json:"original_device_class,omitempty"`
	Name                *string `json:"name,omitempty"`
	OriginalName        *string `json:"original_name,omitempty"`
	UniqueID            string  `json:"unique_id,omitempty"`
}

// IsHidden reports whether the entity is hidden in the registry
func (e *EntityRegistryEntry) IsHidden() bool {
	return e.Hidden || e.HiddenBy != nil
}

// IsDisabled reports whether the entity is disabled in the registry
func (e *EntityRegistryEntry) IsDisabled() bool {
	return e.DisabledBy != nil
}

// AreaRegistryEntry is one row of config/area_registry/list
type AreaRegistryEntry struct {
	AreaID  string  `json:"area_id"`
	Name    string  `json:"name"`
	FloorID *string `json:"floor_id,omitempty"`
}

// DeviceRegistryEntry is one row of config/device_registry/list
type DeviceRegistryEntry struct {
	ID     string  `json:"id"`
	Name   string  `json:"name,omitempty"`
	AreaID *string `json:"area_id,omitempty"`
}

// Config is the subset of get_config the service reads
type Config struct {
	Version      string `json:"version"`
	LocationName string `json:"location_name"`
	TimeZone     string `json:"time_zone"`
}

// CommandRequest is a generic id+type WebSocket command
type CommandRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// FireEventRequest represents a fire_event request
type FireEventRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// PublishRequest is the REST body for POST /api/states/<entity_id>
type PublishRequest struct {
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// EventHandler is called when a subscribed event type is received
type EventHandler func(event *Event)

// Subscription represents an active event subscription
type Subscription interface {
	Unsubscribe() error
}

// subscription implements Subscription interface
type subscription struct {
	eventType string
	subID     int
	client    *Client
}

func (s *subscription) Unsubscribe() error {
	return s.client.unsubscribe(s.eventType, s.subID)
}
