package crumble

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/rigid"
	"github.com/akmonengine/crumble/voxel"
)

const (
	FRACTURE EventType = iota
	MIGRATION
	COLLISION
	ON_FREEZE
	ON_THAW
)

type EventType uint8

// Event interface - all events implement this
type Event interface {
	Type() EventType
}

// FractureEvent is emitted when a face constraint breaks. Breaking is
// monotonic: the same face never fractures twice.
type FractureEvent struct {
	Voxel    voxel.ID
	Face     voxel.Face
	Position mgl64.Vec3
}

func (e FractureEvent) Type() EventType { return FRACTURE }

// MigrationEvent is emitted when a voxel's accumulated displacement
// exceeded half a voxel width and it re-snapped to a new grid cell.
type MigrationEvent struct {
	Voxel   voxel.ID
	OldCell voxel.Cell
	NewCell voxel.Cell
}

func (e MigrationEvent) Type() EventType { return MIGRATION }

// CollisionEvent is emitted when two unconnected voxels push into each
// other through a shared cell boundary.
type CollisionEvent struct {
	VoxelA       voxel.ID
	VoxelB       voxel.ID
	ContactPoint mgl64.Vec3
	Normal       mgl64.Vec3
}

func (e CollisionEvent) Type() EventType { return COLLISION }

// FreezeEvent is emitted when a calm cluster becomes a rigid group.
type FreezeEvent struct {
	Group *rigid.Group
}

func (e FreezeEvent) Type() EventType { return ON_FREEZE }

// ThawEvent is emitted when an impact breaks a rigid group back into
// soft voxels.
type ThawEvent struct {
	Group *rigid.Group
}

func (e ThawEvent) Type() EventType { return ON_THAW }

// EventListener - callback for events
type EventListener func(event Event)

// Events manager. Events are buffered during the step and delivered at
// flush, after the step's final barrier, so listeners never observe a
// half-updated world.
type Events struct {
	listeners map[EventType][]EventListener
	buffer    []Event
}

func NewEvents() Events {
	return Events{
		listeners: make(map[EventType][]EventListener),
		buffer:    make([]Event, 0, 256),
	}
}

// Subscribe adds a listener for an event type
func (e *Events) Subscribe(eventType EventType, listener EventListener) {
	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

func (e *Events) emit(event Event) {
	e.buffer = append(e.buffer, event)
}

// flush sends all buffered events and clears the buffer
func (e *Events) flush() {
	for _, event := range e.buffer {
		if listeners, ok := e.listeners[event.Type()]; ok {
			for _, listener := range listeners {
				listener(event)
			}
		}
	}
	e.buffer = e.buffer[:0]
}
