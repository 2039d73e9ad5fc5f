// Package trackable defines the identity and record shape shared by every
// tracking backend: a stable 128-bit ID and the Trackable capability.
package trackable

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidID is returned by ParseID for malformed input
var ErrInvalidID = errors.New("invalid trackable id")

// ID uniquely identifies one physical entity across polls.
// Two records with the same ID always refer to the same entity.
type ID struct {
	SubID1 uint64
	SubID2 uint64
}

// InvalidID is the zero ID. No backend ever hands it out.
var InvalidID = ID{}

// NewID returns a fresh random ID
func NewID() ID {
	u := uuid.New()
	return FromUUID(u)
}

// FromUUID splits a UUID into the two halves of an ID
func FromUUID(u uuid.UUID) ID {
	var id ID
	for i := 0; i < 8; i++ {
		id.SubID1 = id.SubID1<<8 | uint64(u[i])
		id.SubID2 = id.SubID2<<8 | uint64(u[i+8])
	}
	return id
}

// UUID joins the two halves back into a UUID
func (id ID) UUID() uuid.UUID {
	var u uuid.UUID
	for i := 0; i < 8; i++ {
		u[7-i] = byte(id.SubID1 >> (8 * i))
		u[15-i] = byte(id.SubID2 >> (8 * i))
	}
	return u
}

// IsValid reports whether id is not the zero ID
func (id ID) IsValid() bool {
	return id != InvalidID
}

// String renders the ID as two 16-digit hex halves
func (id ID) String() string {
	return fmt.Sprintf("%016X-%016X", id.SubID1, id.SubID2)
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as strings.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses the output of ID.String
func ParseID(s string) (ID, error) {
	hi, lo, ok := strings.Cut(s, "-")
	if !ok || len(hi) != 16 || len(lo) != 16 {
		return InvalidID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	a, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return InvalidID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	b, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return InvalidID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{SubID1: a, SubID2: b}, nil
}

// TrackingState describes how well a record is tracked in the current poll
type TrackingState int

const (
	// None means the entity is known but not tracked right now
	None TrackingState = iota
	// Limited means tracking is degraded (e.g. missed detections)
	Limited
	// Tracking means the entity was observed in the latest poll
	Tracking
)

// String returns the state name
func (s TrackingState) String() string {
	switch s {
	case None:
		return "none"
	case Limited:
		return "limited"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TrackingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TrackingState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*s = None
	case "limited":
		*s = Limited
	case "tracking":
		*s = Tracking
	default:
		return fmt.Errorf("unknown tracking state %q", text)
	}
	return nil
}

// Trackable is the capability every changeset record must have:
// a copyable value carrying a stable ID.
type Trackable interface {
	TrackableID() ID
}

// Pose is a position plus orientation (radians)
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}
