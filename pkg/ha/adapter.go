package ha

import (
	"homebase42/internal/ha"
)

// internalToState converts internal ha.State to pkg ha.State
func internalToState(s *ha.State) *State {
	if s == nil {
		return nil
	}
	return &State{
		EntityID:    s.EntityID,
		State:       s.State,
		Attributes:  s.Attributes,
		LastChanged: s.LastChanged,
		LastUpdated: s.LastUpdated,
	}
}

// ClientAdapter wraps internal ha.HAClient to implement pkg ha.Client
type ClientAdapter struct {
	internal ha.HAClient
}

// WrapClient wraps an internal ha.HAClient to implement the pkg ha.Client interface
func WrapClient(c ha.HAClient) Client {
	return &ClientAdapter{internal: c}
}

// UnwrapClient returns the underlying internal client if available
func UnwrapClient(c Client) ha.HAClient {
	if adapter, ok := c.(*ClientAdapter); ok {
		return adapter.internal
	}
	return nil
}

func (a *ClientAdapter) Connect() error {
	return a.internal.Connect()
}

func (a *ClientAdapter) Disconnect() error {
	return a.internal.Disconnect()
}

func (a *ClientAdapter) IsConnected() bool {
	return a.internal.IsConnected()
}

func (a *ClientAdapter) GetAllStates() ([]*State, error) {
	states, err := a.internal.GetAllStates()
	if err != nil {
		return nil, err
	}
	result := make([]*State, len(states))
	for i, s := range states {
		result[i] = internalToState(s)
	}
	return result, nil
}

func (a *ClientAdapter) GetEntityRegistry() ([]*EntityRegistryEntry, error) {
	return a.internal.GetEntityRegistry()
}

func (a *ClientAdapter) GetAreaRegistry() ([]*AreaRegistryEntry, error) {
	return a.internal.GetAreaRegistry()
}

func (a *ClientAdapter) GetDeviceRegistry() ([]*DeviceRegistryEntry, error) {
	return a.internal.GetDeviceRegistry()
}

func (a *ClientAdapter) GetConfig() (*Config, error) {
	return a.internal.GetConfig()
}

func (a *ClientAdapter) FireEvent(eventType string, data map[string]interface{}) error {
	return a.internal.FireEvent(eventType, data)
}

func (a *ClientAdapter) SetState(entityID, state string, attributes map[string]interface{}) error {
	return a.internal.SetState(entityID, state, attributes)
}

func (a *ClientAdapter) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	// Create a wrapper handler that converts internal events to pkg events
	internalHandler := func(event *ha.Event) {
		handler(&Event{
			EventType: event.EventType,
			Data:      event.Data,
			TimeFired: event.TimeFired,
		})
	}
	return a.internal.SubscribeEvents(eventType, internalHandler)
}
