package testutil

import "time"

// PublishedState records a POST /api/states call
type PublishedState struct {
	Timestamp  time.Time
	EntityID   string
	State      string
	Attributes map[string]interface{}
}

// FiredEvent records a fire_event command
type FiredEvent struct {
	Timestamp time.Time
	EventType string
	Data      map[string]interface{}
}

func (s *MockHAServer) recordPublish(entityID, state string, attributes map[string]interface{}) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.published = append(s.published, PublishedState{
		Timestamp:  time.Now(),
		EntityID:   entityID,
		State:      state,
		Attributes: attributes,
	})
}

func (s *MockHAServer) recordEvent(eventType string, data map[string]interface{}) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.events = append(s.events, FiredEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Data:      data,
	})
}

// GetPublished returns all published states since last clear
func (s *MockHAServer) GetPublished() []PublishedState {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	published := make([]PublishedState, len(s.published))
	copy(published, s.published)
	return published
}

// ClearPublished resets the publish log
func (s *MockHAServer) ClearPublished() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.published = nil
}

// GetFiredEvents returns all events fired by clients
func (s *MockHAServer) GetFiredEvents() []FiredEvent {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	events := make([]FiredEvent, len(s.events))
	copy(events, s.events)
	return events
}

// FindPublished returns the most recent publish for an entity, or nil
func FindPublished(published []PublishedState, entityID string) *PublishedState {
	for i := len(published) - 1; i >= 0; i-- {
		if published[i].EntityID == entityID {
			p := published[i]
			return &p
		}
	}
	return nil
}

// CountPublished counts publishes for an entity
func CountPublished(published []PublishedState, entityID string) int {
	count := 0
	for _, p := range published {
		if p.EntityID == entityID {
			count++
		}
	}
	return count
}
