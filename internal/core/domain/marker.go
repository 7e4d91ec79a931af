package domain

import "time"

// InitMarker is persisted once, at the end of a successful first-time initialization.
//
// Its presence is advisory: the database can be wiped while the marker survives, and a
// restored schema can exist without one. The gatekeeper always cross-checks it against
// the live schema.
type InitMarker struct {
	Timestamp   time.Time `json:"timestamp"`
	PortsAtInit Ports     `json:"ports_at_init"`
	Initialized bool      `json:"initialized"`
}
