package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	requestTimeout      = 10 * time.Second
	reconnectInitial    = time.Second
	reconnectMaxBackoff = 30 * time.Second

	// EventEntityRegistryUpdated fires when an entity registry entry changes
	EventEntityRegistryUpdated = "entity_registry_updated"
)

// HAClient defines the interface for the Home Assistant client
type HAClient interface {
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
	OnConnect(hook func()) (remove func())
}

// subscriberEntry holds a handler with its unique subscription ID
type subscriberEntry struct {
	subID   int
	handler EventHandler
}

// Client implements HAClient over the WebSocket API, with state publishing
// over the REST API
type Client struct {
	url         string
	token       string
	logger      *zap.Logger
	rest        *restPublisher
	conn        *websocket.Conn
	connected   bool
	connMu      sync.RWMutex
	msgID       int
	msgIDMu     sync.Mutex
	pending     map[int]chan Message
	pendingMu   sync.Mutex
	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex
	hooks       map[int]func()
	ctx         context.Context
	cancel      context.CancelFunc
	reconnect   bool
	writeMu     sync.Mutex // Protects websocket writes
}

// NewClient creates a new Home Assistant client. The REST base URL is
// derived from the WebSocket URL; use SetRESTURL to override it.
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         url,
		token:       token,
		logger:      logger.Named("ha"),
		rest:        newRESTPublisher(RESTURLFromWebSocket(url), token, &http.Client{Timeout: requestTimeout}),
		pending:     make(map[int]chan Message),
		subscribers: make(map[string][]subscriberEntry),
		hooks:       make(map[int]func()),
		ctx:         ctx,
		cancel:      cancel,
		reconnect:   true,
	}
}

// SetRESTURL overrides the REST base URL used for publishing states
func (c *Client) SetRESTURL(baseURL string) {
	c.rest.baseURL = strings.TrimRight(baseURL, "/")
}

// RESTURLFromWebSocket maps ws://host:8123/api/websocket to http://host:8123
func RESTURLFromWebSocket(wsURL string) string {
	u := strings.TrimSuffix(wsURL, "/api/websocket")
	switch {
	case strings.HasPrefix(u, "wss://"):
		u = "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		u = "http://" + strings.TrimPrefix(u, "ws://")
	}
	return strings.TrimRight(u, "/")
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect establishes WebSocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return err
	}

	c.conn = conn
	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	ctx := c.ctx
	c.logger.Info("Connected to Home Assistant")

	go c.receiveMessages(ctx, conn)

	// Release lock before resubscribing to avoid deadlock in sendMessage
	c.connMu.Unlock()

	c.subsMu.RLock()
	eventTypes := make([]string, 0, len(c.subscribers))
	for eventType := range c.subscribers {
		eventTypes = append(eventTypes, eventType)
	}
	c.subsMu.RUnlock()

	for _, eventType := range eventTypes {
		if err := c.subscribeEventType(eventType); err != nil {
			c.logger.Warn("Failed to resubscribe to events",
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}

	c.subsMu.RLock()
	hooks := make([]func(), 0, len(c.hooks))
	for _, hook := range c.hooks {
		hooks = append(hooks, hook)
	}
	c.subsMu.RUnlock()

	for _, hook := range hooks {
		hook()
	}

	return nil
}

// OnConnect registers a hook run after every successful Connect, including
// reconnects, once event subscriptions are restored. Events missed while
// disconnected are not replayed.
func (c *Client) OnConnect(hook func()) func() {
	c.nextSubIDMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.nextSubIDMu.Unlock()

	c.subsMu.Lock()
	c.hooks[id] = hook
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.hooks, id)
		c.subsMu.Unlock()
	}
}

// authenticate runs the auth_required / auth / auth_ok handshake
func (c *Client) authenticate(conn *websocket.Conn) error {
	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	switch authResponse.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("authentication failed: invalid token")
	default:
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subscribers = make(map[string][]subscriberEntry)
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// nextMsgID returns the next message ID
func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends a message and waits for the response with the same ID
func (c *Client) sendMessage(msgID int, msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	conn := c.conn
	ctx := c.ctx
	c.connMu.RUnlock()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// command sends an id+type command and decodes its result into target
func (c *Client) command(cmdType string, target interface{}) error {
	msgID := c.nextMsgID()
	resp, err := c.sendMessage(msgID, &CommandRequest{ID: msgID, Type: cmdType})
	if err != nil {
		return fmt.Errorf("%s: %w", cmdType, err)
	}

	if err := json.Unmarshal(resp.Result, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", cmdType, err)
	}
	return nil
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// handleEvent dispatches event messages to subscribers of that event type
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil {
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[msg.Event.EventType]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(msg.Event)
	}
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	shouldReconnect := c.reconnect
	ctx := c.ctx
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !shouldReconnect {
		return
	}

	go c.attemptReconnect(ctx)
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitial
	b.MaxInterval = reconnectMaxBackoff

	for {
		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = reconnectMaxBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}

		c.logger.Info("Attempting to reconnect...", zap.Duration("after", sleep))

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

// subscribeEventType asks Home Assistant to forward events of one type
func (c *Client) subscribeEventType(eventType string) error {
	msgID := c.nextMsgID()
	req := &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: eventType,
	}

	_, err := c.sendMessage(msgID, req)
	return err
}

// GetAllStates retrieves all entity states
func (c *Client) GetAllStates() ([]*State, error) {
	var states []*State
	if err := c.command("get_states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// GetEntityRegistry retrieves the entity registry
func (c *Client) GetEntityRegistry() ([]*EntityRegistryEntry, error) {
	var entries []*EntityRegistryEntry
	if err := c.command("config/entity_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetAreaRegistry retrieves the area registry
func (c *Client) GetAreaRegistry() ([]*AreaRegistryEntry, error) {
	var entries []*AreaRegistryEntry
	if err := c.command("config/area_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetDeviceRegistry retrieves the device registry
func (c *Client) GetDeviceRegistry() ([]*DeviceRegistryEntry, error) {
	var entries []*DeviceRegistryEntry
	if err := c.command("config/device_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetConfig retrieves the core configuration, including the HA version
func (c *Client) GetConfig() (*Config, error) {
	var cfg Config
	if err := c.command("get_config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FireEvent fires an event on the Home Assistant event bus
func (c *Client) FireEvent(eventType string, data map[string]interface{}) error {
	msgID := c.nextMsgID()
	req := &FireEventRequest{
		ID:        msgID,
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	}

	_, err := c.sendMessage(msgID, req)
	return err
}

// SetState publishes a state and attributes for an entity
func (c *Client) SetState(entityID, state string, attributes map[string]interface{}) error {
	return c.rest.publish(context.Background(), entityID, PublishRequest{State: state, Attributes: attributes})
}

// SubscribeEvents registers a handler for an event type. The first handler
// for a type also subscribes on the Home Assistant side.
func (c *Client) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	c.nextSubIDMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.nextSubIDMu.Unlock()

	c.subsMu.Lock()
	first := len(c.subscribers[eventType]) == 0
	c.subscribers[eventType] = append(c.subscribers[eventType], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	if first && c.IsConnected() {
		if err := c.subscribeEventType(eventType); err != nil {
			c.unsubscribe(eventType, subID)
			return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}

	return &subscription{
		eventType: eventType,
		subID:     subID,
		client:    c,
	}, nil
}

// unsubscribe removes a specific subscription by event type and subscription ID
func (c *Client) unsubscribe(eventType string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subscribers, ok := c.subscribers[eventType]
	if !ok {
		return nil // Already unsubscribed
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			c.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			if len(c.subscribers[eventType]) == 0 {
				delete(c.subscribers, eventType)
			}
			break
		}
	}

	return nil
}
