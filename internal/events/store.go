package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of console event
type EventType string

const (
	// Auth events
	EventLogin       EventType = "login"
	EventLoginFailed EventType = "login_failed"
	EventLogout      EventType = "logout"

	// Settings events
	EventSettingsWifi   EventType = "settings_wifi"
	EventSettingsMqtt   EventType = "settings_mqtt"
	EventSettingsUnit   EventType = "settings_unit"
	EventSettingsOthers EventType = "settings_others"

	// Control events
	EventCommand EventType = "command"

	// Connectivity events
	EventMqttConnected    EventType = "mqtt_connected"
	EventMqttDisconnected EventType = "mqtt_disconnected"
	EventLinkConnected    EventType = "link_connected"
	EventLinkLost         EventType = "link_lost"
	EventWifiFallback     EventType = "wifi_fallback"

	// System events
	EventSystemBoot     EventType = "system_boot"
	EventSystemReboot   EventType = "system_reboot"
	EventFactoryReset   EventType = "factory_reset"
	EventFirmwareUpload EventType = "firmware_upload"
)

// Event represents a console/audit event
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
}

// Sink persists events so the console survives restarts
type Sink interface {
	AppendConsole(ts time.Time, entry []byte) error
	Console(limit int) ([][]byte, error)
	TrimConsole(max int) error
}

// Store holds events in memory with a fixed capacity (ring buffer)
type Store struct {
	mu      sync.RWMutex
	events  []Event
	maxSize int
	nextID  int64
	sink    Sink
	now     func() time.Time
}

// NewStore creates a new event store with specified max capacity
func NewStore(maxSize int) *Store {
	return &Store{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// NewPersistentStore creates a store that writes through to sink and
// starts with the newest maxSize persisted events
func NewPersistentStore(maxSize int, sink Sink) (*Store, error) {
	s := NewStore(maxSize)
	s.sink = sink

	entries, err := sink.Console(maxSize)
	if err != nil {
		return s, err
	}
	for _, raw := range entries {
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			continue // skip corrupted entries
		}
		if e.ID > s.nextID {
			s.nextID = e.ID
		}
		s.events = append(s.events, e)
	}
	return s, nil
}

// Add adds a new event to the store
func (s *Store) Add(eventType EventType, username, ip string, success bool, details string) {
	s.mu.Lock()
	s.nextID++
	event := Event{
		ID:        s.nextID,
		Type:      eventType,
		Timestamp: s.now(),
		Username:  username,
		IP:        ip,
		Success:   success,
		Details:   details,
	}

	// Ring buffer: remove oldest if at max capacity
	if len(s.events) >= s.maxSize {
		s.events = s.events[1:]
	}
	s.events = append(s.events, event)
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return
	}
	if data, err := json.Marshal(event); err == nil {
		if sink.AppendConsole(event.Timestamp, data) == nil && event.ID%int64(s.maxSize) == 0 {
			_ = sink.TrimConsole(s.maxSize)
		}
	}
}

// System records an event raised by the device itself
func (s *Store) System(eventType EventType, success bool, details string) {
	s.Add(eventType, "", "", success, details)
}

// GetAll returns all events (newest first)
func (s *Store) GetAll() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Event, len(s.events))
	for i, e := range s.events {
		result[len(s.events)-1-i] = e
	}
	return result
}

// GetLast returns the last N events (newest first)
func (s *Store) GetLast(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.events) {
		n = len(s.events)
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		result[i] = s.events[len(s.events)-1-i]
	}
	return result
}

// GetSince returns events newer than the given ID (newest first)
func (s *Store) GetSince(lastID int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID <= lastID {
			break
		}
		result = append(result, s.events[i])
	}
	return result
}

// Count returns the total number of events
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// LastID returns the ID of the most recent event
func (s *Store) LastID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
