package license

import "time"

// DefaultPresenceWindow is how long after its last validation a device counts as online.
const DefaultPresenceWindow = 120 * time.Second

// IsOnline reports whether a license last seen at lastSeen is still online at now.
func IsOnline(lastSeen *time.Time, now time.Time, window time.Duration) bool {
	if lastSeen == nil {
		return false
	}
	return now.Sub(*lastSeen) < window
}

// OnlineSince returns the earliest last_seen that still counts as online at now.
// A license is online iff its last_seen is strictly after the returned time.
func OnlineSince(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}
