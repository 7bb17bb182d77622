package models

import (
	"encoding/json"
	"reflect"
	"time"
)

// Event is the core datatype: a timestamped span with arbitrary data,
// belonging to a bucket. The server assigns IDs; unsent events carry 0.
type Event struct {
	ID        int64                  `json:"id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Data      map[string]interface{} `json:"data"`
}

// eventJSON is the wire form: the server serializes duration as seconds.
type eventJSON struct {
	ID        int64                  `json:"id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  float64                `json:"duration"`
	Data      map[string]interface{} `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC(),
		Duration:  e.Duration.Seconds(),
		Data:      e.Data,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.ID = w.ID
	e.Timestamp = w.Timestamp
	e.Duration = time.Duration(w.Duration * float64(time.Second))
	e.Data = w.Data
	return nil
}

// End returns the instant the event span ends.
func (e Event) End() time.Time {
	return e.Timestamp.Add(e.Duration)
}

// DataEquals reports whether two events carry identical data payloads.
func (e Event) DataEquals(other Event) bool {
	return reflect.DeepEqual(e.Data, other.Data)
}
