package youtube

import (
	"fmt"
	"time"
)

// Kind classifies a resolved resource.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindBroadcast
)

// String returns the symbolic name used in persisted snapshots.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "VIDEO"
	case KindBroadcast:
		return "BROADCAST"
	default:
		return "UNKNOWN"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "VIDEO":
		return KindVideo, nil
	case "BROADCAST":
		return KindBroadcast, nil
	default:
		return KindUnknown, fmt.Errorf("unknown resource kind %q", s)
	}
}

// Resource is a tracked video or broadcast.
type Resource struct {
	ID             string
	Title          string
	Link           string
	Kind           Kind
	Description    string
	Thumbnail      string
	ScheduledStart *time.Time
	ActualStart    *time.Time
}

// WatchURL returns the canonical watch link for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// IsPending reports whether r is a broadcast that has not gone live yet.
func (r *Resource) IsPending() bool {
	return r.Kind == KindBroadcast && r.ActualStart == nil
}

// SameSchedule reports whether other carries the same title and scheduled
// start as r. Two pushes with the same schedule are duplicates.
func (r *Resource) SameSchedule(other *Resource) bool {
	return r.Title == other.Title && timeEqual(r.ScheduledStart, other.ScheduledStart)
}

// Merge overwrites every field of r with the fields of other. Both must
// describe the same resource.
func (r *Resource) Merge(other *Resource) error {
	if other == nil || r.ID != other.ID {
		return fmt.Errorf("cannot merge resource %q into %q", idOf(other), r.ID)
	}
	*r = *other.Clone()
	return nil
}

// Clone returns a deep copy of r.
func (r *Resource) Clone() *Resource {
	c := *r
	if r.ScheduledStart != nil {
		t := *r.ScheduledStart
		c.ScheduledStart = &t
	}
	if r.ActualStart != nil {
		t := *r.ActualStart
		c.ActualStart = &t
	}
	return &c
}

// Equal compares all fields; instants are compared with time.Time.Equal.
func (r *Resource) Equal(other *Resource) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ID == other.ID &&
		r.Title == other.Title &&
		r.Link == other.Link &&
		r.Kind == other.Kind &&
		r.Description == other.Description &&
		r.Thumbnail == other.Thumbnail &&
		timeEqual(r.ScheduledStart, other.ScheduledStart) &&
		timeEqual(r.ActualStart, other.ActualStart)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func idOf(r *Resource) string {
	if r == nil {
		return ""
	}
	return r.ID
}
