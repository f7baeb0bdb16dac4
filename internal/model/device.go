package model

import "time"

// Device is a trader-owned notification source mirroring bank SMS/push
// messages. Its liveness gates every requisite bound to it.
type Device struct {
	ID         string
	TraderID   string
	IsOnline   bool
	IsWorking  bool
	LastSeenAt time.Time
}

// Alive reports whether the device can vouch for its requisites: both flags
// set and a heartbeat within the liveness window.
func (d *Device) Alive(now time.Time, window time.Duration) bool {
	if !d.IsOnline || !d.IsWorking {
		return false
	}
	return now.Sub(d.LastSeenAt) <= window
}
