package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient interface for testing
type MockClient struct {
	states      map[string]*State
	order       []string
	statesMu    sync.RWMutex
	registry    []*EntityRegistryEntry
	areas       []*AreaRegistryEntry
	devices     []*DeviceRegistryEntry
	config      Config
	registryMu  sync.RWMutex
	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex
	hooks       map[int]func()
	connected   bool
	connMu      sync.RWMutex
	published   []PublishedState
	events      []FiredEvent
	callsMu     sync.Mutex

	statesErr   error
	registryErr error
	publishErr  error
	errMu       sync.RWMutex
}

// PublishedState records a SetState call for testing
type PublishedState struct {
	EntityID   string
	State      string
	Attributes map[string]interface{}
	Time       time.Time
}

// FiredEvent records a FireEvent call for testing
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Time      time.Time
}

// mockSubscription implements Subscription interface for MockClient
type mockSubscription struct {
	eventType string
	subID     int
	mock      *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.eventType, s.subID)
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
		hooks:       make(map[int]func()),
		config:      Config{Version: "2025.1.0", LocationName: "Home", TimeZone: "UTC"},
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()

	if m.connected {
		m.connMu.Unlock()
		return fmt.Errorf("already connected")
	}
	m.connected = true
	m.connMu.Unlock()

	m.runHooks()
	return nil
}

// OnConnect registers a hook run after each Connect or SimulateReconnect
func (m *MockClient) OnConnect(hook func()) func() {
	m.nextSubIDMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.hooks[id] = hook
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.hooks, id)
		m.subsMu.Unlock()
	}
}

// SimulateReconnect runs the connect hooks as if the connection had dropped
// and come back with subscriptions intact
func (m *MockClient) SimulateReconnect() {
	m.runHooks()
}

func (m *MockClient) runHooks() {
	m.subsMu.RLock()
	hooks := make([]func(), 0, len(m.hooks))
	for _, hook := range m.hooks {
		hooks = append(hooks, hook)
	}
	m.subsMu.RUnlock()

	for _, hook := range hooks {
		hook()
	}
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connected = false

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}

	return state, nil
}

// GetAllStates retrieves all mock states in insertion order
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.errMu.RLock()
	err := m.statesErr
	m.errMu.RUnlock()
	if err != nil {
		return nil, err
	}

	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.order))
	for _, entityID := range m.order {
		states = append(states, m.states[entityID])
	}

	return states, nil
}

// GetEntityRegistry returns the mock entity registry
func (m *MockClient) GetEntityRegistry() ([]*EntityRegistryEntry, error) {
	m.errMu.RLock()
	err := m.registryErr
	m.errMu.RUnlock()
	if err != nil {
		return nil, err
	}

	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	return append([]*EntityRegistryEntry(nil), m.registry...), nil
}

// GetAreaRegistry returns the mock area registry
func (m *MockClient) GetAreaRegistry() ([]*AreaRegistryEntry, error) {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	return append([]*AreaRegistryEntry(nil), m.areas...), nil
}

// GetDeviceRegistry returns the mock device registry
func (m *MockClient) GetDeviceRegistry() ([]*DeviceRegistryEntry, error) {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	return append([]*DeviceRegistryEntry(nil), m.devices...), nil
}

// GetConfig returns the mock core configuration
func (m *MockClient) GetConfig() (*Config, error) {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	cfg := m.config
	return &cfg, nil
}

// FireEvent records a fired event
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.events = append(m.events, FiredEvent{
		EventType: eventType,
		Data:      data,
		Time:      time.Now(),
	})
	m.callsMu.Unlock()
	return nil
}

// SetState records the publish and stores the state like Home Assistant
// would. LastChanged only moves when the state string changes.
func (m *MockClient) SetState(entityID, stateValue string, attributes map[string]interface{}) error {
	m.errMu.RLock()
	err := m.publishErr
	m.errMu.RUnlock()
	if err != nil {
		return err
	}

	now := time.Now()
	m.callsMu.Lock()
	m.published = append(m.published, PublishedState{
		EntityID:   entityID,
		State:      stateValue,
		Attributes: attributes,
		Time:       now,
	})
	m.callsMu.Unlock()

	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	lastChanged := now
	if old, ok := m.states[entityID]; ok && old.State == stateValue {
		lastChanged = old.LastChanged
	}
	m.putLocked(&State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: lastChanged,
		LastUpdated: now,
	})
	return nil
}

// PutState stores a state as-is, keeping its timestamps (for testing)
func (m *MockClient) PutState(state *State) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	m.putLocked(state)
}

func (m *MockClient) putLocked(state *State) {
	if _, ok := m.states[state.EntityID]; !ok {
		m.order = append(m.order, state.EntityID)
	}
	m.states[state.EntityID] = state
}

// RemoveState deletes a state (for testing)
func (m *MockClient) RemoveState(entityID string) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	if _, ok := m.states[entityID]; !ok {
		return
	}
	delete(m.states, entityID)
	for i, id := range m.order {
		if id == entityID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// SetRegistryEntry adds or replaces an entity registry entry (for testing)
func (m *MockClient) SetRegistryEntry(entry *EntityRegistryEntry) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	for i, existing := range m.registry {
		if existing.EntityID == entry.EntityID {
			m.registry[i] = entry
			return
		}
	}
	m.registry = append(m.registry, entry)
}

// SetArea adds an area registry entry (for testing)
func (m *MockClient) SetArea(area *AreaRegistryEntry) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	m.areas = append(m.areas, area)
}

// SetDevice adds a device registry entry (for testing)
func (m *MockClient) SetDevice(device *DeviceRegistryEntry) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	m.devices = append(m.devices, device)
}

// SetStatesError makes GetAllStates fail with err until cleared with nil
func (m *MockClient) SetStatesError(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	m.statesErr = err
}

// SetRegistryError makes GetEntityRegistry fail with err until cleared with nil
func (m *MockClient) SetRegistryError(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	m.registryErr = err
}

// SetPublishError makes SetState fail with err until cleared with nil
func (m *MockClient) SetPublishError(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	m.publishErr = err
}

// SubscribeEvents subscribes to an event type
func (m *MockClient) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.subscribers[eventType] = append(m.subscribers[eventType], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{
		eventType: eventType,
		subID:     subID,
		mock:      m,
	}, nil
}

// unsubscribe removes a specific subscription by event type and subscription ID
func (m *MockClient) unsubscribe(eventType string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subscribers, ok := m.subscribers[eventType]
	if !ok {
		return nil
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			m.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			if len(m.subscribers[eventType]) == 0 {
				delete(m.subscribers, eventType)
			}
			break
		}
	}

	return nil
}

// SimulateEvent delivers an event to all subscribers of its type
func (m *MockClient) SimulateEvent(eventType string) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[eventType]...)
	m.subsMu.RUnlock()

	event := &Event{EventType: eventType, Origin: "LOCAL", TimeFired: time.Now()}
	for _, entry := range entries {
		entry.handler(event)
	}
}

// SubscriberCount returns the number of handlers for an event type
func (m *MockClient) SubscriberCount(eventType string) int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.subscribers[eventType])
}

// GetPublished returns all recorded SetState calls
func (m *MockClient) GetPublished() []PublishedState {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]PublishedState, len(m.published))
	copy(calls, m.published)
	return calls
}

// LastPublished returns the most recent SetState call for an entity, or nil
func (m *MockClient) LastPublished(entityID string) *PublishedState {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].EntityID == entityID {
			p := m.published[i]
			return &p
		}
	}
	return nil
}

// ClearPublished clears the SetState history
func (m *MockClient) ClearPublished() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.published = nil
}

// GetFiredEvents returns all recorded FireEvent calls
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	events := make([]FiredEvent, len(m.events))
	copy(events, m.events)
	return events
}
