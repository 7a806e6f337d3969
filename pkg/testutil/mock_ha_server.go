// Package testutil provides testing utilities for Homebase42 plugins.
// This package contains a mock Home Assistant server (WebSocket and REST)
// and helpers for writing integration tests.
package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex and the
// event types it subscribed to
type connWrapper struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	subscribed map[string]bool
	subsMu     sync.Mutex
}

func (w *connWrapper) writeJSON(v interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(v)
}

func (w *connWrapper) wants(eventType string) bool {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	return w.subscribed[eventType] || w.subscribed[""]
}

// MockHAServer simulates a Home Assistant WebSocket and REST server
type MockHAServer struct {
	server      *http.Server
	listener    net.Listener
	addr        string
	token       string
	logger      *zap.Logger
	states      map[string]*EntityState
	order       []string
	statesMu    sync.RWMutex
	registry    []RegistryEntry
	areas       []Area
	devices     []Device
	version     string
	registryMu  sync.RWMutex
	connections []*connWrapper
	connsMu     sync.Mutex
	published   []PublishedState
	events      []FiredEvent
	callsMu     sync.Mutex
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// RegistryEntry is an entity registry row
type RegistryEntry struct {
	EntityID            string  `json:"entity_id"`
	Platform            string  `json:"platform"`
	DeviceID            string  `json:"device_id,omitempty"`
	AreaID              string  `json:"area_id,omitempty"`
	DisabledBy          *string `json:"disabled_by"`
	HiddenBy            *string `json:"hidden_by"`
	DeviceClass         *string `json:"device_class"`
	OriginalDeviceClass *string `json:"original_device_class"`
}

// Area is an area registry row
type Area struct {
	AreaID  string  `json:"area_id"`
	Name    string  `json:"name"`
	FloorID *string `json:"floor_id"`
}

// Device is a device registry row
type Device struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	AreaID *string `json:"area_id"`
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

type commandRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type,omitempty"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// NewMockHAServer creates a new mock HA server. addr may use port 0; the
// bound address is available from Addr after Start.
func NewMockHAServer(addr, token string) *MockHAServer {
	return &MockHAServer{
		addr:        addr,
		token:       token,
		logger:      zap.NewNop(),
		states:      make(map[string]*EntityState),
		connections: make([]*connWrapper, 0),
		version:     "2025.1.0",
	}
}

// SetLogger sets the logger used for connection errors
func (s *MockHAServer) SetLogger(logger *zap.Logger) {
	s.logger = logger.Named("mock_ha")
}

// Start starts the mock server
func (s *MockHAServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	mux.HandleFunc("/api/states/", s.handleRESTState)

	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Mock HA server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the host:port the server listens on
func (s *MockHAServer) Addr() string {
	return s.addr
}

// WebSocketURL returns the URL clients connect to
func (s *MockHAServer) WebSocketURL() string {
	return "ws://" + s.addr + "/api/websocket"
}

// RESTURL returns the REST base URL
func (s *MockHAServer) RESTURL() string {
	return "http://" + s.addr
}

// Stop stops the mock server
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// DropConnections closes all WebSocket connections but keeps serving, to
// exercise client reconnects
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
}

// ConnectionCount returns the number of open WebSocket connections
func (s *MockHAServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// SetState sets a state like Home Assistant would and broadcasts a
// state_changed event. LastChanged only moves when the state string changes.
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	now := time.Now()

	s.statesMu.Lock()
	oldState := s.states[entityID]
	lastChanged := now
	if oldState != nil && oldState.State == state {
		lastChanged = oldState.LastChanged
	}
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: lastChanged,
		LastUpdated: now,
	}
	s.putLocked(newState)
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// PutState stores a state with its timestamps as given, without an event
func (s *MockHAServer) PutState(state *EntityState) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	s.putLocked(state)
}

func (s *MockHAServer) putLocked(state *EntityState) {
	if _, ok := s.states[state.EntityID]; !ok {
		s.order = append(s.order, state.EntityID)
	}
	s.states[state.EntityID] = state
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// SetRegistryEntry adds or replaces an entity registry row. It does not fire
// entity_registry_updated; call FireEvent for that.
func (s *MockHAServer) SetRegistryEntry(entry RegistryEntry) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	for i := range s.registry {
		if s.registry[i].EntityID == entry.EntityID {
			s.registry[i] = entry
			return
		}
	}
	s.registry = append(s.registry, entry)
}

// AddArea adds an area registry row
func (s *MockHAServer) AddArea(area Area) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.areas = append(s.areas, area)
}

// AddDevice adds a device registry row
func (s *MockHAServer) AddDevice(device Device) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.devices = append(s.devices, device)
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	wrapper := &connWrapper{conn: conn, subscribed: make(map[string]bool)}
	defer func() {
		s.connsMu.Lock()
		for i, c := range s.connections {
			if c == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.writeJSON(Message{Type: "auth_required"})

	var authMsg AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		return
	}
	if authMsg.AccessToken != s.token {
		wrapper.writeJSON(Message{Type: "auth_invalid"})
		return
	}
	wrapper.writeJSON(Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	for {
		var req commandRequest
		if err := conn.ReadJSON(&req); err != nil {
			s.logger.Debug("Connection closed", zap.Error(err))
			return
		}

		switch req.Type {
		case "subscribe_events":
			wrapper.subsMu.Lock()
			wrapper.subscribed[req.EventType] = true
			wrapper.subsMu.Unlock()
			s.reply(wrapper, req.ID, nil)
		case "get_states":
			s.reply(wrapper, req.ID, s.snapshotStates())
		case "config/entity_registry/list":
			s.registryMu.RLock()
			rows := append([]RegistryEntry{}, s.registry...)
			s.registryMu.RUnlock()
			s.reply(wrapper, req.ID, rows)
		case "config/area_registry/list":
			s.registryMu.RLock()
			rows := append([]Area{}, s.areas...)
			s.registryMu.RUnlock()
			s.reply(wrapper, req.ID, rows)
		case "config/device_registry/list":
			s.registryMu.RLock()
			rows := append([]Device{}, s.devices...)
			s.registryMu.RUnlock()
			s.reply(wrapper, req.ID, rows)
		case "get_config":
			s.reply(wrapper, req.ID, map[string]string{
				"version":       s.version,
				"location_name": "Home",
				"time_zone":     "UTC",
			})
		case "fire_event":
			s.recordEvent(req.EventType, req.EventData)
			s.reply(wrapper, req.ID, nil)
			s.FireEvent(req.EventType, req.EventData)
		default:
			// Unknown commands are acknowledged to prevent timeouts
			s.reply(wrapper, req.ID, nil)
		}
	}
}

func (s *MockHAServer) reply(wrapper *connWrapper, id int, result interface{}) {
	success := true
	msg := Message{ID: id, Type: "result", Success: &success}
	if result != nil {
		raw, _ := json.Marshal(result)
		msg.Result = raw
	}
	wrapper.writeJSON(msg)
}

func (s *MockHAServer) snapshotStates() []*EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	states := make([]*EntityState, 0, len(s.order))
	for _, id := range s.order {
		states = append(states, s.states[id])
	}
	return states
}

// handleRESTState serves POST and GET /api/states/<entity_id>
func (s *MockHAServer) handleRESTState(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
		return
	}

	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
	if entityID == "" {
		http.Error(w, "entity id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		state := s.GetState(entityID)
		if state == nil {
			http.Error(w, "Entity not found.", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)

	case http.MethodPost:
		var body struct {
			State      string                 `json:"state"`
			Attributes map[string]interface{} `json:"attributes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid JSON specified.", http.StatusBadRequest)
			return
		}

		existed := s.GetState(entityID) != nil
		s.recordPublish(entityID, body.State, body.Attributes)
		s.SetState(entityID, body.State, body.Attributes)

		status := http.StatusCreated
		if existed {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(s.GetState(entityID))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// FireEvent broadcasts an event to every connection subscribed to its type
func (s *MockHAServer) FireEvent(eventType string, data map[string]interface{}) {
	raw, _ := json.Marshal(data)
	s.broadcast(&Event{
		EventType: eventType,
		Data:      raw,
		Origin:    "LOCAL",
		TimeFired: time.Now(),
	})
}

// broadcastStateChange broadcasts a state change event to all connections
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	eventDataJSON, _ := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	s.broadcast(&Event{
		EventType: "state_changed",
		Data:      eventDataJSON,
		Origin:    "LOCAL",
		TimeFired: time.Now(),
	})
}

func (s *MockHAServer) broadcast(event *Event) {
	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	msg := Message{Type: "event", Event: event}
	for _, wrapper := range wrappers {
		if wrapper.wants(event.EventType) {
			wrapper.writeJSON(msg)
		}
	}
}
