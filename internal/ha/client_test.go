package ha

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockHAServer creates a mock Home Assistant WebSocket server
func mockHAServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))
}

// standardAuthFlow handles the standard authentication flow
func standardAuthFlow(t *testing.T, conn *websocket.Conn, token string) {
	// Send auth_required
	err := conn.WriteJSON(Message{Type: "auth_required"})
	require.NoError(t, err)

	// Receive auth message
	var authMsg AuthMessage
	err = conn.ReadJSON(&authMsg)
	require.NoError(t, err)
	assert.Equal(t, "auth", authMsg.Type)
	assert.Equal(t, token, authMsg.AccessToken)

	// Send auth_ok
	err = conn.WriteJSON(Message{Type: "auth_ok"})
	require.NoError(t, err)
}

// serveCommands answers each command with the result registered for its
// type until the client goes away. onCommand, when set, sees every request.
func serveCommands(conn *websocket.Conn, results map[string]interface{}, onCommand func(map[string]interface{})) {
	for {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if onCommand != nil {
			onCommand(req)
		}

		id := int(req["id"].(float64))
		cmdType, _ := req["type"].(string)
		success := true

		result, ok := results[cmdType]
		if !ok {
			conn.WriteJSON(Message{ID: id, Type: "result", Success: &success})
			continue
		}

		raw, _ := json.Marshal(result)
		conn.WriteJSON(Message{ID: id, Type: "result", Success: &success, Result: raw})
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClient_Connect(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	t.Run("successful connection", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			serveCommands(conn, nil, nil)
		})
		defer server.Close()

		client := NewClient(wsURL(server), token, logger)

		err := client.Connect()
		assert.NoError(t, err)
		assert.True(t, client.IsConnected())

		client.Disconnect()
		assert.False(t, client.IsConnected())
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "auth_required"})

			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)

			conn.WriteJSON(Message{Type: "auth_invalid"})
		})
		defer server.Close()

		client := NewClient(wsURL(server), "wrong_token", logger)

		err := client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")
		assert.False(t, client.IsConnected())
	})

	t.Run("unexpected first message", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "auth_ok"})
		})
		defer server.Close()

		client := NewClient(wsURL(server), token, logger)

		err := client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "expected auth_required")
	})

	t.Run("already connected", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			serveCommands(conn, nil, nil)
		})
		defer server.Close()

		client := NewClient(wsURL(server), token, logger)

		err := client.Connect()
		require.NoError(t, err)

		err = client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already connected")

		client.Disconnect()
	})
}

func TestClient_Commands(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"
	changed := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	hiddenBy := "user"
	areaID := "kitchen"

	results := map[string]interface{}{
		"get_states": []State{
			{EntityID: "sensor.door_battery", State: "15", Attributes: map[string]interface{}{"device_class": "battery"}, LastChanged: changed},
			{EntityID: "light.kitchen", State: StateUnavailable, LastChanged: changed},
		},
		"config/entity_registry/list": []EntityRegistryEntry{
			{EntityID: "light.kitchen", Platform: "hue", DeviceID: "dev1", HiddenBy: &hiddenBy},
		},
		"config/area_registry/list": []AreaRegistryEntry{
			{AreaID: "kitchen", Name: "Kitchen"},
		},
		"config/device_registry/list": []DeviceRegistryEntry{
			{ID: "dev1", Name: "Hue Bridge", AreaID: &areaID},
		},
		"get_config": Config{Version: "2025.1.2", LocationName: "Home", TimeZone: "Europe/Berlin"},
	}

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		serveCommands(conn, results, nil)
	})
	defer server.Close()

	client := NewClient(wsURL(server), token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	t.Run("get all states", func(t *testing.T) {
		states, err := client.GetAllStates()
		require.NoError(t, err)
		require.Len(t, states, 2)
		assert.Equal(t, "sensor.door_battery", states[0].EntityID)
		assert.Equal(t, "sensor", states[0].Domain())
		assert.True(t, states[0].LastChanged.Equal(changed))
		assert.True(t, states[1].IsUnavailable())
	})

	t.Run("entity registry", func(t *testing.T) {
		entries, err := client.GetEntityRegistry()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].IsHidden())
		assert.False(t, entries[0].IsDisabled())
		assert.Equal(t, "dev1", entries[0].DeviceID)
	})

	t.Run("area and device registry", func(t *testing.T) {
		areas, err := client.GetAreaRegistry()
		require.NoError(t, err)
		require.Len(t, areas, 1)
		assert.Equal(t, "Kitchen", areas[0].Name)

		devices, err := client.GetDeviceRegistry()
		require.NoError(t, err)
		require.Len(t, devices, 1)
		require.NotNil(t, devices[0].AreaID)
		assert.Equal(t, "kitchen", *devices[0].AreaID)
	})

	t.Run("core config", func(t *testing.T) {
		cfg, err := client.GetConfig()
		require.NoError(t, err)
		assert.Equal(t, "2025.1.2", cfg.Version)
	})
}

func TestClient_CommandError(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		for {
			var req CommandRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			failure := false
			conn.WriteJSON(Message{
				ID:      req.ID,
				Type:    "result",
				Success: &failure,
				Error:   &Error{Code: "unauthorized", Message: "Unauthorized"},
			})
		}
	})
	defer server.Close()

	client := NewClient(wsURL(server), token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	_, err := client.GetEntityRegistry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/api/websocket", "token", zap.NewNop())

	_, err := client.GetAllStates()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	err = client.FireEvent("anything", nil)
	assert.Error(t, err)
}

func TestClient_FireEvent(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	var mu sync.Mutex
	var received []map[string]interface{}

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		serveCommands(conn, nil, func(req map[string]interface{}) {
			mu.Lock()
			received = append(received, req)
			mu.Unlock()
		})
	})
	defer server.Close()

	client := NewClient(wsURL(server), token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.FireEvent("homebase42_state_export_complete", map[string]interface{}{"total_entities": 3})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "fire_event", received[0]["type"])
	assert.Equal(t, "homebase42_state_export_complete", received[0]["event_type"])
	data := received[0]["event_data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["total_entities"])
}

func TestClient_SubscribeEvents(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"
	subscribed := make(chan string, 1)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		var sub SubscribeEventsRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		success := true
		conn.WriteJSON(Message{ID: sub.ID, Type: "result", Success: &success})
		subscribed <- sub.EventType

		conn.WriteJSON(Message{
			ID:   sub.ID,
			Type: "event",
			Event: &Event{
				EventType: EventEntityRegistryUpdated,
				Data:      json.RawMessage(`{"action":"update","entity_id":"light.kitchen"}`),
			},
		})

		serveCommands(conn, nil, nil)
	})
	defer server.Close()

	client := NewClient(wsURL(server), token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	events := make(chan *Event, 1)
	sub, err := client.SubscribeEvents(EventEntityRegistryUpdated, func(event *Event) {
		events <- event
	})
	require.NoError(t, err)

	select {
	case eventType := <-subscribed:
		assert.Equal(t, EventEntityRegistryUpdated, eventType)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw subscribe_events")
	}

	select {
	case event := <-events:
		assert.Equal(t, EventEntityRegistryUpdated, event.EventType)
		assert.Contains(t, string(event.Data), "light.kitchen")
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched")
	}

	require.NoError(t, sub.Unsubscribe())
	client.subsMu.RLock()
	_, stillSubscribed := client.subscribers[EventEntityRegistryUpdated]
	client.subsMu.RUnlock()
	assert.False(t, stillSubscribed)
}

func TestRESTURLFromWebSocket(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws://homeassistant.local:8123/api/websocket", "http://homeassistant.local:8123"},
		{"wss://ha.example.com/api/websocket", "https://ha.example.com"},
		{"ws://10.0.0.5:8123/", "http://10.0.0.5:8123"},
		{"http://already.http:8123", "http://already.http:8123"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RESTURLFromWebSocket(tt.in))
		})
	}
}
