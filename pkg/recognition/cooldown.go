package recognition

import "time"

// Cooldown suppresses repeated events for the identity seen last. It is a
// value: Admit returns the updated state instead of mutating the receiver.
type Cooldown struct {
	Window time.Duration
	LastID int64
	LastAt time.Time
	Primed bool
}

// NewCooldown returns an empty tracker with the given window.
func NewCooldown(window time.Duration) Cooldown {
	return Cooldown{Window: window}
}

// Admit reports whether a sighting of id at now becomes an event. A
// sighting is suppressed only when id is the last admitted identity and
// less than Window has passed since it was admitted. Suppressed sightings
// do not extend the window.
func (c Cooldown) Admit(id int64, now time.Time) (bool, Cooldown) {
	if c.Primed && id == c.LastID && now.Sub(c.LastAt) < c.Window {
		return false, c
	}
	c.LastID = id
	c.LastAt = now
	c.Primed = true
	return true, c
}
