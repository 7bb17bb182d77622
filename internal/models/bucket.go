package models

import "time"

// Bucket is a named collection of events of a single type,
// owned by one client on one host.
type Bucket struct {
	ID       string                 `json:"id"`
	Created  time.Time              `json:"created,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Type     string                 `json:"type"`
	Client   string                 `json:"client"`
	Hostname string                 `json:"hostname"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// BucketExport is the shape returned by the bucket export endpoints.
type BucketExport struct {
	Bucket
	Events []Event `json:"events"`
}
