package rigid

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

const testStone = 1

func newTestStore() *voxel.Store {
	return voxel.NewStore(1.0, voxel.DefaultTable())
}

// placeCube fills a 2x2x2 stone cluster at the origin and returns its IDs.
func placeCube(t *testing.T, s *voxel.Store) []voxel.ID {
	t.Helper()
	var ids []voxel.ID
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 2; z++ {
				id := s.Place(voxel.Cell{X: x, Y: y, Z: z},
					voxel.Sample{MaterialID: testStone, Density: 255})
				if id == voxel.InvalidID {
					t.Fatal("Place failed")
				}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func TestNewGroup_MassAndCOM(t *testing.T) {
	s := newTestStore()
	ids := placeCube(t, s)

	g := NewGroup(s, ids)

	if math.Abs(g.Mass-8*2.6) > 1e-9 {
		t.Errorf("Mass = %v, want %v", g.Mass, 8*2.6)
	}
	if g.Transform.Position.Sub(mgl64.Vec3{1, 1, 1}).Len() > 1e-9 {
		t.Errorf("COM = %v, want {1 1 1}", g.Transform.Position)
	}
	if len(g.Members()) != 8 {
		t.Errorf("Members() = %d, want 8", len(g.Members()))
	}
}

func TestNewGroup_InheritsMomentum(t *testing.T) {
	s := newTestStore()
	ids := placeCube(t, s)
	for _, id := range ids {
		s.Voxel(id).Velocity = mgl64.Vec3{0.3, 0, 0}
	}

	g := NewGroup(s, ids)
	if g.Velocity.Sub(mgl64.Vec3{0.3, 0, 0}).Len() > 1e-9 {
		t.Errorf("Velocity = %v, want {0.3 0 0}", g.Velocity)
	}
}

func TestComputeAABB_CoversMembers(t *testing.T) {
	s := newTestStore()
	g := NewGroup(s, placeCube(t, s))

	box := g.AABB()
	// Centroids span [0.5, 1.5] per axis, padded by half a voxel
	for i := 0; i < 3; i++ {
		if math.Abs(box.Min[i]-0) > 1e-9 || math.Abs(box.Max[i]-2) > 1e-9 {
			t.Fatalf("AABB = %v..%v, want 0..2 per axis", box.Min, box.Max)
		}
	}
}

func TestVelocityAt_AddsAngularContribution(t *testing.T) {
	s := newTestStore()
	g := NewGroup(s, placeCube(t, s))
	g.Velocity = mgl64.Vec3{1, 0, 0}
	g.AngularVelocity = mgl64.Vec3{0, 0, 2}

	// ω x r with r = +X: velocity picks up +2 along Y
	got := g.VelocityAt(g.Transform.Position.Add(mgl64.Vec3{1, 0, 0}))
	want := mgl64.Vec3{1, 2, 0}
	if got.Sub(want).Len() > 1e-9 {
		t.Errorf("VelocityAt = %v, want %v", got, want)
	}

	if got := g.VelocityAt(g.Transform.Position); got.Sub(g.Velocity).Len() > 1e-9 {
		t.Errorf("VelocityAt(COM) = %v, want the linear velocity", got)
	}
}

func TestIntegrate_SemiImplicit(t *testing.T) {
	s := newTestStore()
	g := NewGroup(s, placeCube(t, s))
	before := g.Transform.Position

	dt := 0.5
	g.Integrate(dt, mgl64.Vec3{0, -10, 0}, mgl64.Vec3{}, mgl64.Vec3{})

	if g.Velocity.Sub(mgl64.Vec3{0, -5, 0}).Len() > 1e-9 {
		t.Errorf("Velocity = %v, want {0 -5 0}", g.Velocity)
	}
	// Semi-implicit: the updated velocity moves the position
	want := before.Add(mgl64.Vec3{0, -2.5, 0})
	if g.Transform.Position.Sub(want).Len() > 1e-9 {
		t.Errorf("Position = %v, want %v", g.Transform.Position, want)
	}
}

func TestIntegrate_TorqueSpinsGroup(t *testing.T) {
	s := newTestStore()
	g := NewGroup(s, placeCube(t, s))

	g.Integrate(0.1, mgl64.Vec3{}, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})

	if g.AngularVelocity.Z() <= 0 {
		t.Errorf("AngularVelocity = %v, want positive Z spin", g.AngularVelocity)
	}
	if math.Abs(g.Transform.Rotation.Len()-1) > 1e-9 {
		t.Errorf("rotation drifted off unit length: %v", g.Transform.Rotation.Len())
	}
}

func TestFreezeThaw_Idempotent(t *testing.T) {
	s := newTestStore()
	ids := placeCube(t, s)

	orientation := mgl64.QuatRotate(0.3, mgl64.Vec3{0, 1, 0})
	for _, id := range ids {
		v := s.Voxel(id)
		v.Velocity = mgl64.Vec3{0.2, 0, 0}
		v.Orientation = orientation
	}

	centroids := make([]mgl64.Vec3, len(ids))
	for i, id := range ids {
		centroids[i] = s.Voxel(id).Centroid(s.CellCenter(s.CellOf(id)))
	}

	g := NewGroup(s, ids)
	g.Thaw(s)

	for i, id := range ids {
		v := s.Voxel(id)
		if v.Kind != voxel.KindElement {
			t.Fatal("thawed voxel not in element form")
		}
		got := s.CellCenter(s.CellOf(id)).Add(v.Displacement)
		if got.Sub(centroids[i]).Len() > 1e-9 {
			t.Errorf("voxel %d centroid %v, want %v", id, got, centroids[i])
		}
		if v.Velocity.Sub(mgl64.Vec3{0.2, 0, 0}).Len() > 1e-9 {
			t.Errorf("voxel %d velocity %v, want pre-freeze velocity", id, v.Velocity)
		}
		for _, axis := range []mgl64.Vec3{{1, 0, 0}, {0, 0, 1}} {
			if v.Orientation.Rotate(axis).Sub(orientation.Rotate(axis)).Len() > 1e-9 {
				t.Errorf("voxel %d orientation changed across freeze/thaw", id)
			}
		}
	}
}
