package ids

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// EventPrefix is the prefix for lifecycle event IDs.
	EventPrefix = "evt-"
)

// NewEventID generates a new event ID using UUIDv7.
// Format: evt-<uuidv7>
// UUIDv7 is time-ordered, so downstream consumers can sort events by ID.
func NewEventID() string {
	return EventPrefix + uuid.Must(uuid.NewV7()).String()
}

// IsValidEventID checks if a string is a valid event ID.
func IsValidEventID(id string) bool {
	rest, ok := strings.CutPrefix(id, EventPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
