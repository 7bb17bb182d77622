// Package transform holds the client-side event transforms. The only
// transform performed on this side of the API is heartbeat merging;
// everything else is done server-side through queries.
package transform

import (
	"time"

	"github.com/dholendar-27/sd-watcher-window/internal/models"
)

// HeartbeatMerge merges a new heartbeat into the last one if they carry
// identical data and the new heartbeat starts within the pulse window of
// the last event, i.e. no later than last.End() + pulsetime seconds.
//
// The merged event keeps the timestamp of last and extends its duration
// to cover the new heartbeat. Returns ok=false when the events cannot be
// merged, in which case the caller should commit last and start a new span.
func HeartbeatMerge(last, heartbeat models.Event, pulsetime float64) (models.Event, bool) {
	if !last.DataEquals(heartbeat) {
		return models.Event{}, false
	}

	if heartbeat.Timestamp.Before(last.Timestamp) {
		// Out-of-order heartbeats are never merged backwards.
		return models.Event{}, false
	}

	pulseWindow := last.End().Add(time.Duration(pulsetime * float64(time.Second)))
	if heartbeat.Timestamp.After(pulseWindow) {
		return models.Event{}, false
	}

	newDuration := heartbeat.End().Sub(last.Timestamp)
	merged := last
	if newDuration > merged.Duration {
		merged.Duration = newDuration
	}
	return merged, true
}
