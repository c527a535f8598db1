package crumble

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

type eventCapture struct {
	events []Event
}

func (ec *eventCapture) capture(event Event) {
	ec.events = append(ec.events, event)
}

func (ec *eventCapture) count() int {
	return len(ec.events)
}

func (ec *eventCapture) countType(eventType EventType) int {
	n := 0
	for _, e := range ec.events {
		if e.Type() == eventType {
			n++
		}
	}
	return n
}

func TestEvents_BufferedUntilFlush(t *testing.T) {
	events := NewEvents()
	capture := &eventCapture{}
	events.Subscribe(FRACTURE, capture.capture)

	events.emit(FractureEvent{Voxel: 1, Face: voxel.FacePosX})
	if capture.count() != 0 {
		t.Fatal("event delivered before flush")
	}

	events.flush()
	if capture.count() != 1 {
		t.Fatalf("delivered %d events, want 1", capture.count())
	}

	// The buffer is drained; a second flush delivers nothing
	events.flush()
	if capture.count() != 1 {
		t.Error("flush re-delivered a drained event")
	}
}

func TestEvents_TypeFiltering(t *testing.T) {
	events := NewEvents()
	fractures := &eventCapture{}
	migrations := &eventCapture{}
	events.Subscribe(FRACTURE, fractures.capture)
	events.Subscribe(MIGRATION, migrations.capture)

	events.emit(FractureEvent{Voxel: 1})
	events.emit(MigrationEvent{Voxel: 2, NewCell: voxel.Cell{X: 1}})
	events.emit(FractureEvent{Voxel: 3})
	events.flush()

	if fractures.count() != 2 {
		t.Errorf("fracture listener got %d events, want 2", fractures.count())
	}
	if migrations.count() != 1 {
		t.Errorf("migration listener got %d events, want 1", migrations.count())
	}
}

func TestEvents_MultipleListeners(t *testing.T) {
	events := NewEvents()
	a := &eventCapture{}
	b := &eventCapture{}
	events.Subscribe(COLLISION, a.capture)
	events.Subscribe(COLLISION, b.capture)

	events.emit(CollisionEvent{VoxelA: 1, VoxelB: 2, Normal: mgl64.Vec3{1, 0, 0}})
	events.flush()

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("listeners got %d/%d events, want 1/1", a.count(), b.count())
	}
}

func TestEvents_PreservesEmissionOrder(t *testing.T) {
	events := NewEvents()
	var order []voxel.ID
	events.Subscribe(FRACTURE, func(event Event) {
		order = append(order, event.(FractureEvent).Voxel)
	})

	for i := voxel.ID(0); i < 5; i++ {
		events.emit(FractureEvent{Voxel: i})
	}
	events.flush()

	for i, id := range order {
		if id != voxel.ID(i) {
			t.Fatalf("order[%d] = %d, delivery reordered events", i, id)
		}
	}
}
