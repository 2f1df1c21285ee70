package amqp

import (
	"encoding/json"
	"time"
)

// ChangeEvent announces that one of a user's collections was confirmed
// against the store. It carries only the username and collection name; the
// mirror worker reloads the full state from the store itself.
type ChangeEvent struct {
	Username   string    `json:"username"`
	Collection string    `json:"collection"` // expenses | categories | budget
	Count      int       `json:"count"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChangeEvent creates a change event stamped with the current time.
func NewChangeEvent(username, collection string, count int) *ChangeEvent {
	return &ChangeEvent{
		Username:   username,
		Collection: collection,
		Count:      count,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e *ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ChangeEventFromJSON creates an event from JSON bytes.
func ChangeEventFromJSON(data []byte) (*ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
